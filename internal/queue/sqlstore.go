package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists queue items in SQLite.
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
		CREATE TABLE IF NOT EXISTS queue_items (
			id TEXT PRIMARY KEY,
			movie_id TEXT NOT NULL,
			release_id TEXT NOT NULL,
			indexer TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			download_url TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			download_path TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			downloaded_bytes INTEGER NOT NULL DEFAULT 0,
			uploaded_bytes INTEGER NOT NULL DEFAULT 0,
			download_speed INTEGER NOT NULL DEFAULT 0,
			upload_speed INTEGER NOT NULL DEFAULT 0,
			eta_seconds INTEGER NOT NULL DEFAULT 0,
			seeders INTEGER NOT NULL DEFAULT 0,
			leechers INTEGER NOT NULL DEFAULT 0,
			client_id TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items (status);
		CREATE INDEX IF NOT EXISTS idx_queue_movie ON queue_items (movie_id);
		CREATE INDEX IF NOT EXISTS idx_queue_client ON queue_items (client_id);`)
	return err
}

const queueColumns = `id, movie_id, release_id, indexer, title, download_url,
	category, download_path, priority, status, progress, downloaded_bytes,
	uploaded_bytes, download_speed, upload_speed, eta_seconds, seeders,
	leechers, client_id, retry_count, max_retries, last_error, created_at,
	updated_at`

func (s *SQLStore) Add(ctx context.Context, item *Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID.String(), item.MovieID.String(), item.ReleaseID, item.Indexer,
		item.Title, item.DownloadURL, item.Category, item.DownloadPath,
		int(item.Priority), string(item.Status), item.Progress,
		item.DownloadedBytes, item.UploadedBytes, item.DownloadSpeed,
		item.UploadSpeed, item.ETASeconds, item.Seeders, item.Leechers,
		item.ClientID, item.RetryCount, item.MaxRetries, item.LastError,
		item.CreatedAt.Unix(), item.UpdatedAt.Unix())
	return err
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id.String())
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

func (s *SQLStore) GetByClientID(ctx context.Context, clientID string) (*Item, error) {
	if clientID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_items WHERE client_id = ?`, clientID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

func (s *SQLStore) List(ctx context.Context, status *Status) ([]*Item, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC`
	return s.queryItems(ctx, query, args...)
}

func (s *SQLStore) ListForMovie(ctx context.Context, movieID uuid.UUID) ([]*Item, error) {
	return s.queryItems(ctx,
		`SELECT `+queueColumns+` FROM queue_items WHERE movie_id = ? ORDER BY created_at ASC`,
		movieID.String())
}

func (s *SQLStore) Update(ctx context.Context, item *Item) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET
			status = ?, progress = ?, downloaded_bytes = ?, uploaded_bytes = ?,
			download_speed = ?, upload_speed = ?, eta_seconds = ?, seeders = ?,
			leechers = ?, client_id = ?, retry_count = ?, max_retries = ?,
			last_error = ?, priority = ?, category = ?, download_path = ?,
			updated_at = ?
		WHERE id = ?`,
		string(item.Status), item.Progress, item.DownloadedBytes,
		item.UploadedBytes, item.DownloadSpeed, item.UploadSpeed,
		item.ETASeconds, item.Seeders, item.Leechers, item.ClientID,
		item.RetryCount, item.MaxRetries, item.LastError, int(item.Priority),
		item.Category, item.DownloadPath, item.UpdatedAt.Unix(),
		item.ID.String())
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %s not found", item.ID)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE id = ?`, id.String())
	return err
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Counts: make(map[Status]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), SUM(download_speed), SUM(upload_speed),
			SUM(downloaded_bytes), SUM(uploaded_bytes)
		FROM queue_items GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		var dlSpeed, ulSpeed, dlBytes, ulBytes sql.NullInt64
		if err := rows.Scan(&status, &count, &dlSpeed, &ulSpeed, &dlBytes, &ulBytes); err != nil {
			return stats, err
		}
		st := Status(status)
		stats.Counts[st] = count
		stats.TotalItems += count
		stats.TotalDownloaded += dlBytes.Int64
		stats.TotalUploaded += ulBytes.Int64
		if st == StatusDownloading {
			stats.ActiveDownloads = count
			stats.TotalDownloadSpeed = dlSpeed.Int64
			stats.TotalUploadSpeed = ulSpeed.Int64
		}
	}
	return stats, rows.Err()
}

func (s *SQLStore) RetryCandidates(ctx context.Context) ([]*Item, error) {
	return s.queryItems(ctx, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE status = ? AND retry_count < max_retries
		ORDER BY created_at ASC`, string(StatusFailed))
}

func (s *SQLStore) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var id, movieID, status string
	var priority int
	var createdAt, updatedAt int64

	err := row.Scan(&id, &movieID, &item.ReleaseID, &item.Indexer,
		&item.Title, &item.DownloadURL, &item.Category, &item.DownloadPath,
		&priority, &status, &item.Progress, &item.DownloadedBytes,
		&item.UploadedBytes, &item.DownloadSpeed, &item.UploadSpeed,
		&item.ETASeconds, &item.Seeders, &item.Leechers, &item.ClientID,
		&item.RetryCount, &item.MaxRetries, &item.LastError,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt queue item id %q: %w", id, err)
	}
	item.MovieID, err = uuid.Parse(movieID)
	if err != nil {
		return nil, fmt.Errorf("corrupt movie id %q: %w", movieID, err)
	}
	item.Priority = Priority(priority)
	item.Status = Status(status)
	item.CreatedAt = time.Unix(createdAt, 0).UTC()
	item.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &item, nil
}
