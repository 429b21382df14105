package blocklist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists blocklist entries in SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates the store and its schema if needed.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS blocklist (
			id TEXT NOT NULL,
			release_id TEXT NOT NULL,
			indexer TEXT NOT NULL,
			reason TEXT NOT NULL,
			blocked_until INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 5,
			title TEXT NOT NULL DEFAULT '',
			movie_id TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (release_id, indexer)
		);
		CREATE INDEX IF NOT EXISTS idx_blocklist_indexer_created
			ON blocklist (indexer, created_at);
		CREATE INDEX IF NOT EXISTS idx_blocklist_movie
			ON blocklist (movie_id);`)
	return err
}

func (s *SQLStore) Add(ctx context.Context, entry *Entry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	var movieID any
	if entry.MovieID != nil {
		movieID = entry.MovieID.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blocklist (id, release_id, indexer, reason, blocked_until,
			retry_count, max_retries, title, movie_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.ReleaseID, entry.Indexer, string(entry.Reason),
		entry.BlockedUntil.Unix(), entry.RetryCount, entry.MaxRetries,
		entry.Title, movieID, metadata,
		entry.CreatedAt.Unix(), entry.UpdatedAt.Unix())
	return err
}

func (s *SQLStore) Get(ctx context.Context, releaseID, indexer string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, release_id, indexer, reason, blocked_until, retry_count,
			max_retries, title, movie_id, metadata, created_at, updated_at
		FROM blocklist WHERE release_id = ? AND indexer = ?`, releaseID, indexer)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

func (s *SQLStore) Update(ctx context.Context, entry *Entry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE blocklist SET reason = ?, blocked_until = ?, retry_count = ?,
			max_retries = ?, title = ?, metadata = ?, updated_at = ?
		WHERE release_id = ? AND indexer = ?`,
		string(entry.Reason), entry.BlockedUntil.Unix(), entry.RetryCount,
		entry.MaxRetries, entry.Title, metadata, entry.UpdatedAt.Unix(),
		entry.ReleaseID, entry.Indexer)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, releaseID, indexer string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blocklist WHERE release_id = ? AND indexer = ?`,
		releaseID, indexer)
	return err
}

func (s *SQLStore) Search(ctx context.Context, q Query) ([]*Entry, error) {
	var conds []string
	var args []any

	if q.Indexer != "" {
		conds = append(conds, "indexer = ?")
		args = append(args, q.Indexer)
	}
	if q.ReleaseID != "" {
		conds = append(conds, "release_id = ?")
		args = append(args, q.ReleaseID)
	}
	if q.Reason != nil {
		conds = append(conds, "reason = ?")
		args = append(args, string(*q.Reason))
	}
	if q.MovieID != nil {
		conds = append(conds, "movie_id = ?")
		args = append(args, q.MovieID.String())
	}
	now := time.Now().Unix()
	if q.ActiveOnly {
		conds = append(conds, "blocked_until > ?")
		args = append(args, now)
	}
	if q.ExpiredOnly {
		conds = append(conds, "blocked_until <= ?")
		args = append(args, now)
	}

	query := `SELECT id, release_id, indexer, reason, blocked_until, retry_count,
		max_retries, title, movie_id, metadata, created_at, updated_at FROM blocklist`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset)
	} else if q.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLStore) DeleteWhere(ctx context.Context, cutoff, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM blocklist WHERE created_at < ? AND blocked_until <= ?`,
		cutoff.Unix(), now.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) DeleteForMovie(ctx context.Context, movieID uuid.UUID) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM blocklist WHERE movie_id = ?`, movieID.String())
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) DeleteForIndexer(ctx context.Context, indexer string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM blocklist WHERE indexer = ?`, indexer)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) CountSince(ctx context.Context, indexer string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocklist WHERE indexer = ? AND created_at >= ?`,
		indexer, since.Unix()).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var id, reason string
	var movieID, metadata sql.NullString
	var blockedUntil, createdAt, updatedAt int64

	err := row.Scan(&id, &e.ReleaseID, &e.Indexer, &reason, &blockedUntil,
		&e.RetryCount, &e.MaxRetries, &e.Title, &movieID, &metadata,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt blocklist id %q: %w", id, err)
	}
	e.Reason = FailureReason(reason)
	e.BlockedUntil = time.Unix(blockedUntil, 0).UTC()
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if movieID.Valid {
		mid, err := uuid.Parse(movieID.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt movie id %q: %w", movieID.String, err)
		}
		e.MovieID = &mid
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata: %w", err)
		}
	}
	return &e, nil
}

func marshalMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
