package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore implements Store on the users table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore. db must use the pgx driver.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const getUserQuery = `
SELECT id, email, app_metadata, user_metadata, created_at, updated_at
FROM users
WHERE id = $1`

// GetUser implements Store.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", id, ErrUserNotFound)
	}

	var (
		u            User
		dbID         uuid.UUID
		appJSON      []byte
		userMetaJSON []byte
	)
	err = s.db.QueryRowContext(ctx, getUserQuery, uid).Scan(
		&dbID, &u.Email, &appJSON, &userMetaJSON, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user %s: %w", id, ErrUserNotFound)
	}
	if err != nil {
		return nil, classify("get user", err)
	}

	u.ID = dbID.String()
	if u.AppMetadata, err = decodeAttrs(appJSON); err != nil {
		return nil, fmt.Errorf("decode app metadata: %w", err)
	}
	if u.UserMetadata, err = decodeAttrs(userMetaJSON); err != nil {
		return nil, fmt.Errorf("decode user metadata: %w", err)
	}
	return &u, nil
}

// ReplaceAppMetadata implements Store.
func (s *PostgresStore) ReplaceAppMetadata(ctx context.Context, id string, attrs map[string]any) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("update app_metadata %q: %w", id, ErrUserNotFound)
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode app_metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET app_metadata = $2, updated_at = now() WHERE id = $1`, uid, string(payload))
	if err != nil {
		return classify("update app_metadata", err)
	}
	return requireRow(res, "update app_metadata", id)
}

// MergeUserMetadata implements Store.
func (s *PostgresStore) MergeUserMetadata(ctx context.Context, id string, attrs map[string]any) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("merge user_metadata %q: %w", id, ErrUserNotFound)
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode user_metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE users
SET user_metadata = coalesce(user_metadata, '{}'::jsonb) || $2::jsonb, updated_at = now()
WHERE id = $1`, uid, string(payload))
	if err != nil {
		return classify("merge user_metadata", err)
	}
	return requireRow(res, "merge user_metadata", id)
}

// todayCount is the stored AI count when ai_date equals $2, otherwise 0.
const todayCount = `
CASE WHEN user_metadata->>'ai_date' = $2::text
      AND user_metadata->>'ai_count' ~ '^[0-9]+(\.[0-9]+)?$'
     THEN (user_metadata->>'ai_count')::numeric::int
     ELSE 0 END`

// The row lock taken by UPDATE makes concurrent calls re-check the WHERE
// clause against the committed count, so at most limit calls succeed per day.
var consumeCounterQuery = `
UPDATE users
SET user_metadata = coalesce(user_metadata, '{}'::jsonb) || jsonb_build_object(
        'ai_date', $2::text,
        'ai_count', ` + todayCount + ` + 1),
    updated_at = now()
WHERE id = $1 AND ` + todayCount + ` < $3
RETURNING (user_metadata->>'ai_count')::int`

var readCounterQuery = `SELECT ` + todayCount + ` FROM users WHERE id = $1`

// ConsumeDailyCounter implements Store.
func (s *PostgresStore) ConsumeDailyCounter(ctx context.Context, id, day string, limit int) (int, bool, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return 0, false, fmt.Errorf("consume counter %q: %w", id, ErrUserNotFound)
	}

	var used int
	err = s.db.QueryRowContext(ctx, consumeCounterQuery, uid, day, limit).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, classify("consume counter", err)
	}

	// No row updated: either the user is gone or the limit is reached.
	err = s.db.QueryRowContext(ctx, readCounterQuery, uid, day).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("consume counter %s: %w", id, ErrUserNotFound)
	}
	if err != nil {
		return 0, false, classify("read counter", err)
	}
	return used, false, nil
}

// DeleteUser implements Store.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("delete user %q: %w", id, ErrUserNotFound)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, uid)
	if err != nil {
		return classify("delete user", err)
	}
	return requireRow(res, "delete user", id)
}

func requireRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrUserNotFound)
	}
	return nil
}

// classify marks connection-level and timeout failures as transient.
// Server-side errors with a SQLSTATE (constraint, syntax) are returned as-is.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
}

func decodeAttrs(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
