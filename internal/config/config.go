package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration. Durations are in milliseconds unless
// the field name says otherwise.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Audio       AudioConfig       `yaml:"audio"`
	Session     SessionConfig     `yaml:"session"`
	Identity    IdentityConfig    `yaml:"identity"`
	Store       StoreConfig       `yaml:"store"`
	Redis       RedisConfig       `yaml:"redis"`
	LLM         LLMConfig         `yaml:"llm"`
	Rules       RulesConfig       `yaml:"rules"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type ClassifierConfig struct {
	WSURL            string `yaml:"ws_url"`
	ReconnectDelayMS int    `yaml:"reconnect_delay_ms"`
	SendQueue        int    `yaml:"send_queue"`
}

type AudioConfig struct {
	RecorderCommand  string `yaml:"recorder_command"`
	InputFormat      string `yaml:"input_format"`
	InputDevice      string `yaml:"input_device"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	Codec            string `yaml:"codec"`
	Bitrate          string `yaml:"bitrate"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGain         bool   `yaml:"auto_gain"`
	EchoCancelSource string `yaml:"echo_cancel_source"`
}

type SessionConfig struct {
	ChunkIntervalMS  int `yaml:"chunk_interval_ms"`
	TimelineSize     int `yaml:"timeline_size"`
	FrameIntervalMS  int `yaml:"frame_interval_ms"`
	PersistTimeoutMS int `yaml:"persist_timeout_ms"`
}

type IdentityConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	BlobDBPath  string `yaml:"blob_db_path"`
}

type RedisConfig struct {
	Addr            string `yaml:"addr"`
	InsightCacheTTL int    `yaml:"insight_cache_ttl_seconds"`
}

type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type RulesConfig struct {
	Path string `yaml:"path"`
}

type DiagnosticsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		App: AppConfig{Env: "local", LogLevel: ""},
		Classifier: ClassifierConfig{
			WSURL:            "ws://localhost:8000/ws",
			ReconnectDelayMS: 3000,
			SendQueue:        32,
		},
		Audio: AudioConfig{
			RecorderCommand:  "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			SampleRate:       48000,
			Channels:         1,
			Codec:            "libopus",
			Bitrate:          "32k",
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGain:         true,
		},
		Session: SessionConfig{
			ChunkIntervalMS:  1000,
			TimelineSize:     30,
			FrameIntervalMS:  33,
			PersistTimeoutMS: 60000,
		},
		Identity: IdentityConfig{
			BaseURL: "https://identitytoolkit.googleapis.com/v1",
		},
		Redis: RedisConfig{InsightCacheTTL: 3600},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and then
// environment variables.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Default()
	cfg.Store.BlobDBPath = filepath.Join(home, ".local", "share", "emocall", "blobs.db")
	cfg.Rules.Path = firstExisting(
		filepath.Join(home, ".config", "emocall", "formatting.rules"),
	)

	if err := overlayFile(&cfg, pathFor(home)); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

// Path returns the config file Load reads: EMOCALL_CONFIG when set, else
// ~/.config/emocall/config.yaml.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return pathFor(home), nil
}

func pathFor(home string) string {
	return firstNonEmpty(os.Getenv("EMOCALL_CONFIG"), filepath.Join(home, ".config", "emocall", "config.yaml"))
}

// ReadFile parses a YAML config file over the defaults.
func ReadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	sanitize(&cfg)
	return cfg, nil
}

// WriteFile writes cfg as YAML, creating parent directories.
func WriteFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate reports settings that cannot work. Missing optional services are
// not errors; they disable the features that need them.
func (c Config) Validate() error {
	var problems []string
	if c.Classifier.WSURL == "" {
		problems = append(problems, "classifier.ws_url is required")
	} else if u, err := url.Parse(c.Classifier.WSURL); err != nil {
		problems = append(problems, "classifier.ws_url is not a valid url")
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			problems = append(problems, "classifier.ws_url must use ws, wss, http or https")
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		problems = append(problems, "llm.temperature must be between 0 and 2")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid config: " + strings.Join(problems, "; "))
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.App.Env = envOrDefault("EMOCALL_APP_ENV", cfg.App.Env)
	cfg.App.LogLevel = envOrDefault("EMOCALL_LOG_LEVEL", cfg.App.LogLevel)

	cfg.Classifier.WSURL = firstNonEmpty(os.Getenv("EMOCALL_WS_URL"), os.Getenv("VITE_WS_URL"), cfg.Classifier.WSURL)
	cfg.Classifier.ReconnectDelayMS = envOrDefaultInt("EMOCALL_RECONNECT_DELAY_MS", cfg.Classifier.ReconnectDelayMS)
	cfg.Classifier.SendQueue = envOrDefaultInt("EMOCALL_SEND_QUEUE", cfg.Classifier.SendQueue)

	cfg.Audio.RecorderCommand = envOrDefault("EMOCALL_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("EMOCALL_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("EMOCALL_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("EMOCALL_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("EMOCALL_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.Codec = envOrDefault("EMOCALL_AUDIO_CODEC", cfg.Audio.Codec)
	cfg.Audio.Bitrate = envOrDefault("EMOCALL_AUDIO_BITRATE", cfg.Audio.Bitrate)
	cfg.Audio.EchoCancellation = envOrDefaultBool("EMOCALL_ECHO_CANCELLATION", cfg.Audio.EchoCancellation)
	cfg.Audio.NoiseSuppression = envOrDefaultBool("EMOCALL_NOISE_SUPPRESSION", cfg.Audio.NoiseSuppression)
	cfg.Audio.AutoGain = envOrDefaultBool("EMOCALL_AUTO_GAIN", cfg.Audio.AutoGain)
	cfg.Audio.EchoCancelSource = envOrDefault("EMOCALL_ECHO_CANCEL_SOURCE", cfg.Audio.EchoCancelSource)

	cfg.Session.ChunkIntervalMS = envOrDefaultInt("EMOCALL_CHUNK_INTERVAL_MS", cfg.Session.ChunkIntervalMS)
	cfg.Session.TimelineSize = envOrDefaultInt("EMOCALL_TIMELINE_SIZE", cfg.Session.TimelineSize)
	cfg.Session.FrameIntervalMS = envOrDefaultInt("EMOCALL_FRAME_INTERVAL_MS", cfg.Session.FrameIntervalMS)
	cfg.Session.PersistTimeoutMS = envOrDefaultInt("EMOCALL_PERSIST_TIMEOUT_MS", cfg.Session.PersistTimeoutMS)

	cfg.Identity.APIKey = firstNonEmpty(os.Getenv("EMOCALL_IDENTITY_API_KEY"), os.Getenv("FIREBASE_API_KEY"), cfg.Identity.APIKey)
	cfg.Identity.BaseURL = envOrDefault("EMOCALL_IDENTITY_BASE_URL", cfg.Identity.BaseURL)

	cfg.Store.PostgresDSN = firstNonEmpty(os.Getenv("EMOCALL_POSTGRES_DSN"), os.Getenv("DATABASE_URL"), cfg.Store.PostgresDSN)
	cfg.Store.BlobDBPath = envOrDefault("EMOCALL_BLOB_DB", cfg.Store.BlobDBPath)

	cfg.Redis.Addr = envOrDefault("EMOCALL_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.InsightCacheTTL = envOrDefaultInt("EMOCALL_INSIGHT_CACHE_TTL_SECONDS", cfg.Redis.InsightCacheTTL)

	cfg.LLM.APIKey = firstNonEmpty(os.Getenv("EMOCALL_LLM_API_KEY"), os.Getenv("OPENAI_API_KEY"), cfg.LLM.APIKey)
	cfg.LLM.BaseURL = envOrDefault("EMOCALL_LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.Model = envOrDefault("EMOCALL_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.MaxTokens = envOrDefaultInt("EMOCALL_LLM_MAX_TOKENS", cfg.LLM.MaxTokens)
	cfg.LLM.Temperature = envOrDefaultFloat("EMOCALL_LLM_TEMPERATURE", cfg.LLM.Temperature)

	cfg.Rules.Path = envOrDefault("EMOCALL_RULES_FILE", cfg.Rules.Path)
	cfg.Diagnostics.Addr = envOrDefault("EMOCALL_DIAGNOSTICS_ADDR", cfg.Diagnostics.Addr)
}

// sanitize replaces unusable numeric values with defaults.
func sanitize(cfg *Config) {
	def := Default()
	positive := func(v *int, fallback int) {
		if *v <= 0 {
			*v = fallback
		}
	}
	positive(&cfg.Classifier.ReconnectDelayMS, def.Classifier.ReconnectDelayMS)
	positive(&cfg.Classifier.SendQueue, def.Classifier.SendQueue)
	positive(&cfg.Audio.SampleRate, def.Audio.SampleRate)
	positive(&cfg.Audio.Channels, def.Audio.Channels)
	positive(&cfg.Session.ChunkIntervalMS, def.Session.ChunkIntervalMS)
	positive(&cfg.Session.TimelineSize, def.Session.TimelineSize)
	positive(&cfg.Session.FrameIntervalMS, def.Session.FrameIntervalMS)
	positive(&cfg.Session.PersistTimeoutMS, def.Session.PersistTimeoutMS)
	positive(&cfg.Redis.InsightCacheTTL, def.Redis.InsightCacheTTL)
	positive(&cfg.LLM.MaxTokens, def.LLM.MaxTokens)
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
