package domain

import "errors"

var (
	// ErrDeviceUnavailable means microphone permission was denied or no device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrTransportDropped marks an unexpected socket close; recovered by reconnecting.
	ErrTransportDropped = errors.New("classifier connection dropped")
	// ErrMalformedEvent marks an inbound frame that failed decoding or validation.
	ErrMalformedEvent = errors.New("malformed emotion event")
	// ErrPersistenceFailure marks a finished call that could not be saved.
	ErrPersistenceFailure = errors.New("failed to save call")
	// ErrAuthFailure wraps identity provider rejections.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrPermissionDenied is returned when a role lacks a capability.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInsightGeneration marks a text-generation reply that could not be used.
	ErrInsightGeneration = errors.New("insight generation failed")
	// ErrNotFound is returned by stores for missing documents.
	ErrNotFound = errors.New("not found")
)
