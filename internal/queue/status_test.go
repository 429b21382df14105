package queue

import "testing"

func TestStatusFromExternal(t *testing.T) {
	tests := []struct {
		external string
		progress float64
		current  Status
		want     Status
	}{
		{"downloading", 0.5, StatusDownloading, StatusDownloading},
		{"stalled_dl", 0.5, StatusDownloading, StatusDownloading},
		{"completed", 1.0, StatusDownloading, StatusCompleted},
		{"seeding", 1.0, StatusDownloading, StatusCompleted},
		{"uploading", 1.0, StatusDownloading, StatusCompleted},
		{"seeding", 0.9, StatusDownloading, StatusDownloading},
		{"uploading", 0.3, StatusDownloading, StatusDownloading},
		{"paused_dl", 0.5, StatusDownloading, StatusPaused},
		{"paused_up", 1.0, StatusDownloading, StatusPaused},
		{"stalled", 0.5, StatusDownloading, StatusStalled},
		{"stalled_up", 1.0, StatusDownloading, StatusStalled},
		{"error", 0.5, StatusDownloading, StatusFailed},
		{"checking", 0.5, StatusDownloading, StatusDownloading},
		{"metaDL", 0.0, StatusQueued, StatusQueued},
		{"DOWNLOADING", 0.5, StatusPaused, StatusDownloading}, // case-insensitive
	}

	for _, tt := range tests {
		t.Run(tt.external, func(t *testing.T) {
			got := StatusFromExternal(tt.external, tt.progress, tt.current)
			if got != tt.want {
				t.Errorf("StatusFromExternal(%q, %.1f, %v) = %v, want %v",
					tt.external, tt.progress, tt.current, got, tt.want)
			}
		})
	}
}

func TestItemValidate(t *testing.T) {
	item := NewItem(newUUID(), "rel-1", "idx", "Movie", "magnet:?xt=x", PriorityNormal)
	if err := item.Validate(); err != nil {
		t.Fatalf("fresh item invalid: %v", err)
	}

	item.Status = StatusDownloading
	if err := item.Validate(); err == nil {
		t.Error("downloading item without client id must be invalid")
	}

	item.MarkDownloading("client-1")
	if err := item.Validate(); err != nil {
		t.Errorf("downloading item with client id rejected: %v", err)
	}

	item.Status = StatusCompleted
	item.Progress = 0.9
	if err := item.Validate(); err == nil {
		t.Error("completed item below progress 1.0 must be invalid")
	}
	item.Progress = 1.0
	if err := item.Validate(); err != nil {
		t.Errorf("completed item rejected: %v", err)
	}
}

func TestResetForRetry(t *testing.T) {
	item := NewItem(newUUID(), "rel-1", "idx", "Movie", "magnet:?xt=x", PriorityNormal)
	item.MarkDownloading("client-1")
	item.Progress = 0.7
	item.DownloadedBytes = 1000
	item.Fail("boom")

	item.ResetForRetry()

	if item.Status != StatusQueued {
		t.Errorf("status = %v, want queued", item.Status)
	}
	if item.ClientID != "" {
		t.Error("client id must be cleared")
	}
	if item.LastError != "" {
		t.Error("last error must be cleared")
	}
	if item.Progress != 0 || item.DownloadedBytes != 0 {
		t.Error("progress must be reset")
	}
	if item.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1", item.RetryCount)
	}
}
