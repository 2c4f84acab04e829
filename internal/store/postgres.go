package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver

	"emocall/internal/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PoolConfig controls database/sql pool behavior.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = 5
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// Postgres is the document store for calls, user profiles and shares.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects, verifies the connection and applies migrations.
// dsn must not be logged; it contains secrets.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*Postgres, error) {
	pool = pool.withDefaults()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := HealthCheck(ctx, db, pool.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &Postgres{db: db, now: time.Now}, nil
}

// HealthCheck pings the DB with a timeout.
func HealthCheck(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// WithTx runs fn inside a transaction. The transaction is rolled back when
// fn returns an error or panics.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), -1) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, err := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if err != nil {
			return fmt.Errorf("read migration %d: %w", i, err)
		}
		err = WithTx(ctx, db, nil, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, i)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return HealthCheck(ctx, p.db, 2*time.Second)
}

func (p *Postgres) CreateCall(ctx context.Context, call domain.RecordedCall) (string, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = p.now()
	}
	emotions, err := encodeEmotions(call.Emotions)
	if err != nil {
		return "", err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO calls (id, user_id, audio_url, emotions, start_time, end_time, duration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		call.ID, call.UserID, call.AudioRef, emotions, call.StartTime, call.EndTime, call.Duration, call.CreatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert call: %w", err)
	}
	return call.ID, nil
}

func (p *Postgres) ListCalls(ctx context.Context, userID string) ([]domain.RecordedCall, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, audio_url, emotions, start_time, end_time, duration, created_at
		FROM calls
		WHERE user_id = $1
		ORDER BY start_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := []domain.RecordedCall{}
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func (p *Postgres) GetCall(ctx context.Context, id string) (domain.RecordedCall, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, audio_url, emotions, start_time, end_time, duration, created_at
		FROM calls
		WHERE id = $1`, id)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecordedCall{}, fmt.Errorf("call %s: %w", id, domain.ErrNotFound)
	}
	return call, err
}

func (p *Postgres) GetProfile(ctx context.Context, uid string) (domain.Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT uid, email, display_name, photo_url, role, permissions, created_at, last_updated
		FROM users
		WHERE uid = $1`, uid)
	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, fmt.Errorf("user %s: %w", uid, domain.ErrNotFound)
	}
	return profile, err
}

func (p *Postgres) PutProfile(ctx context.Context, profile domain.Profile) error {
	now := p.now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.LastUpdated = now
	permissions, err := encodeStrings(profile.Permissions)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (uid, email, display_name, photo_url, role, permissions, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (uid) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			photo_url = EXCLUDED.photo_url,
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			last_updated = EXCLUDED.last_updated`,
		profile.UID, profile.Email, profile.DisplayName, profile.PhotoURL, profile.Role, permissions,
		profile.CreatedAt.UTC(), profile.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (p *Postgres) SetRole(ctx context.Context, uid string, role domain.UserRole) error {
	permissions, err := encodeStrings(role.Permissions)
	if err != nil {
		return err
	}
	now := p.now().UTC()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (uid, role, permissions, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (uid) DO UPDATE SET
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			last_updated = EXCLUDED.last_updated`,
		uid, role.Role, permissions, now,
	)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

func (p *Postgres) ListByRole(ctx context.Context, role string) ([]domain.Profile, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT uid, email, display_name, photo_url, role, permissions, created_at, last_updated
		FROM users
		WHERE role = $1
		ORDER BY display_name, uid`, role)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	profiles := []domain.Profile{}
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (p *Postgres) ShareCall(ctx context.Context, callID, targetUserID string) (domain.SharedCall, error) {
	share := domain.SharedCall{
		ID:           uuid.NewString(),
		CallID:       callID,
		TargetUserID: targetUserID,
		SharedAt:     p.now().UTC(),
		Status:       domain.SharedCallPending,
	}
	err := WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM calls WHERE id = $1)`, callID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("call %s: %w", callID, domain.ErrNotFound)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO shared_calls (id, call_id, target_user_id, shared_at, status)
			VALUES ($1, $2, $3, $4, $5)`,
			share.ID, share.CallID, share.TargetUserID, share.SharedAt, share.Status,
		)
		return err
	})
	if err != nil {
		return domain.SharedCall{}, fmt.Errorf("share call: %w", err)
	}
	return share, nil
}

func (p *Postgres) ListSharedWith(ctx context.Context, userID string) ([]domain.SharedCall, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, call_id, target_user_id, shared_at, status
		FROM shared_calls
		WHERE target_user_id = $1
		ORDER BY shared_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query shared calls: %w", err)
	}
	defer rows.Close()

	shares := []domain.SharedCall{}
	for rows.Next() {
		var s domain.SharedCall
		if err := rows.Scan(&s.ID, &s.CallID, &s.TargetUserID, &s.SharedAt, &s.Status); err != nil {
			return nil, fmt.Errorf("scan shared call: %w", err)
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (domain.RecordedCall, error) {
	var (
		call     domain.RecordedCall
		emotions []byte
	)
	err := row.Scan(&call.ID, &call.UserID, &call.AudioRef, &emotions,
		&call.StartTime, &call.EndTime, &call.Duration, &call.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return call, err
		}
		return call, fmt.Errorf("scan call: %w", err)
	}
	call.Emotions = []domain.EmotionEvent{}
	if len(emotions) > 0 {
		if err := json.Unmarshal(emotions, &call.Emotions); err != nil {
			return call, fmt.Errorf("decode emotions for call %s: %w", call.ID, err)
		}
	}
	return call, nil
}

func scanProfile(row scanner) (domain.Profile, error) {
	var (
		profile     domain.Profile
		permissions []byte
	)
	err := row.Scan(&profile.UID, &profile.Email, &profile.DisplayName, &profile.PhotoURL,
		&profile.Role, &permissions, &profile.CreatedAt, &profile.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return profile, err
		}
		return profile, fmt.Errorf("scan user: %w", err)
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &profile.Permissions); err != nil {
			return profile, fmt.Errorf("decode permissions for %s: %w", profile.UID, err)
		}
	}
	return profile, nil
}

func encodeEmotions(events []domain.EmotionEvent) (string, error) {
	if events == nil {
		events = []domain.EmotionEvent{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("encode emotions: %w", err)
	}
	return string(data), nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode permissions: %w", err)
	}
	return string(data), nil
}
