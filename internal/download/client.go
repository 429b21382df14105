// Package download defines the contract the core uses to drive an external
// download client. Protocol implementations (qBittorrent, Transmission, ...)
// live outside the core.
package download

import "context"

// ClientStatus is a point-in-time report for one download, as returned by
// the external client. Status strings are client-specific; the queue
// processor owns the mapping into internal statuses.
type ClientStatus struct {
	Status string

	// ErrorMessage carries the client's failure detail when Status is an
	// error state.
	ErrorMessage string

	Progress        float64 // 0.0 - 1.0
	DownloadSpeed   int64   // bytes/sec
	UploadSpeed     int64   // bytes/sec
	DownloadedBytes int64
	UploadedBytes   int64
	ETASeconds      int64
	Seeders         int
	Leechers        int
	SavePath        string
}

// Download summarizes one entry in the external client's list.
type Download struct {
	ClientID string
	Name     string
	Status   ClientStatus
}

// Client is the download-client contract consumed by the queue processor.
// Implementations perform network I/O and must honor context cancellation.
type Client interface {
	// Add submits a download and returns the client-assigned identifier.
	Add(ctx context.Context, url, category, savePath string) (string, error)

	// Status returns the current state of a download, or nil if the
	// client no longer knows the identifier.
	Status(ctx context.Context, clientID string) (*ClientStatus, error)

	// Remove deletes a download, optionally with its files.
	Remove(ctx context.Context, clientID string, deleteFiles bool) error

	Pause(ctx context.Context, clientID string) error
	Resume(ctx context.Context, clientID string) error

	// ListAll enumerates every download the client tracks.
	ListAll(ctx context.Context) ([]Download, error)

	// Name identifies the client in logs, breakers, and alerts.
	Name() string
}
