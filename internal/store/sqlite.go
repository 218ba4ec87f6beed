package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; a lone connection also keeps
	// in-memory databases coherent across the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	query := `
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		owner_key TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS requests (
		endpoint_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		method TEXT NOT NULL,
		headers TEXT NOT NULL,
		query TEXT NOT NULL,
		body BLOB,
		received_at DATETIME NOT NULL,
		PRIMARY KEY (endpoint_id, seq)
	);
	CREATE TABLE IF NOT EXISTS notification_settings (
		identity_key TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 0,
		notification_email TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_settings_email ON notification_settings(notification_email);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateEndpoint(ctx context.Context, id, name, ownerKey string) (*Endpoint, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO endpoints (id, name, owner_key, created_at) VALUES (?, ?, ?, ?)",
		id, name, ownerKey, now)
	if err != nil {
		return nil, err
	}
	return &Endpoint{ID: id, Name: name, OwnerKey: ownerKey, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	var e Endpoint
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, owner_key, created_at FROM endpoints WHERE id = ?", id).
		Scan(&e.ID, &e.Name, &e.OwnerKey, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) ListEndpoints(ctx context.Context, ownerKeys []string, limit int) ([]*Endpoint, error) {
	if len(ownerKeys) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ownerKeys)), ",")
	args := make([]any, 0, len(ownerKeys)+1)
	for _, k := range ownerKeys {
		args = append(args, k)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, owner_key, created_at FROM endpoints
		WHERE owner_key IN (%s)
		ORDER BY created_at DESC
		LIMIT ?`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []*Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.ID, &e.Name, &e.OwnerKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, &e)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStore) DeleteEndpoint(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM endpoints WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM requests WHERE endpoint_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendRequest(ctx context.Context, req *CapturedRequest) error {
	headers, err := json.Marshal(req.Headers)
	if err != nil {
		return err
	}
	query, err := json.Marshal(req.Query)
	if err != nil {
		return err
	}

	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}

	// The seq subquery and the insert execute as one statement, so SQLite's
	// write serialization makes the assignment linearizable per endpoint.
	// The (endpoint_id, seq) primary key turns any lost race into an error
	// rather than a duplicate.
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO requests (endpoint_id, seq, method, headers, query, body, received_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM requests WHERE endpoint_id = ?), ?, ?, ?, ?, ?)
		RETURNING seq`,
		req.EndpointID, req.EndpointID, req.Method, string(headers), string(query), req.Body, req.ReceivedAt).
		Scan(&req.Seq)
	return err
}

func (s *SQLiteStore) RecentRequests(ctx context.Context, endpointID string, limit int) ([]*CapturedRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint_id, seq, method, headers, query, body, received_at
		FROM requests
		WHERE endpoint_id = ?
		ORDER BY seq DESC
		LIMIT ?`, endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*CapturedRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (s *SQLiteStore) GetRequest(ctx context.Context, endpointID string, seq int64) (*CapturedRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT endpoint_id, seq, method, headers, query, body, received_at
		FROM requests
		WHERE endpoint_id = ? AND seq = ?`, endpointID, seq)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) CountRequests(ctx context.Context, endpointID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM requests WHERE endpoint_id = ?", endpointID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*CapturedRequest, error) {
	var (
		r       CapturedRequest
		headers string
		query   string
	)
	if err := row.Scan(&r.EndpointID, &r.Seq, &r.Method, &headers, &query, &r.Body, &r.ReceivedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headers), &r.Headers); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(query), &r.Query); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, identityKey string) (*NotificationSetting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identity_key, enabled, notification_email, updated_at
		FROM notification_settings
		WHERE identity_key = ?`, identityKey)
	return scanSetting(row)
}

func (s *SQLiteStore) GetSettingByEmail(ctx context.Context, email string) (*NotificationSetting, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identity_key, enabled, notification_email, updated_at
		FROM notification_settings
		WHERE notification_email = ?
		ORDER BY updated_at DESC
		LIMIT 1`, email)
	return scanSetting(row)
}

func scanSetting(row rowScanner) (*NotificationSetting, error) {
	var (
		ns      NotificationSetting
		enabled int
	)
	err := row.Scan(&ns.IdentityKey, &enabled, &ns.NotificationEmail, &ns.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ns.Enabled = enabled != 0
	return &ns, nil
}

func (s *SQLiteStore) UpsertSetting(ctx context.Context, ns *NotificationSetting) error {
	ns.UpdatedAt = time.Now().UTC()
	enabled := 0
	if ns.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (identity_key, enabled, notification_email, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
			enabled = excluded.enabled,
			notification_email = excluded.notification_email,
			updated_at = excluded.updated_at`,
		ns.IdentityKey, enabled, ns.NotificationEmail, ns.UpdatedAt)
	return err
}

func (s *SQLiteStore) PurgeSettingsByEmail(ctx context.Context, address string, keepKeys []string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keepKeys)), ",")
	args := []any{address}
	for _, k := range keepKeys {
		args = append(args, k)
	}
	query := "DELETE FROM notification_settings WHERE notification_email = ?"
	if len(keepKeys) > 0 {
		query += fmt.Sprintf(" AND identity_key NOT IN (%s)", placeholders)
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
