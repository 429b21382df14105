package queue

import "strings"

// StatusFromExternal maps an external download client's status string into
// the internal status. This is the single source of truth for the mapping;
// client implementations must not pre-translate. Unrecognized statuses
// preserve the current internal state. A completed-family status maps to
// Completed only once progress reaches 1.0. The mapping itself does not look
// at a Completed current state; the sync loop polls only Downloading items,
// so a Completed item is never passed through it again.
func StatusFromExternal(external string, progress float64, current Status) Status {
	switch strings.ToLower(external) {
	case "downloading", "stalled_dl":
		return StatusDownloading
	case "completed", "seeding", "uploading":
		if progress >= 1.0 {
			return StatusCompleted
		}
		return StatusDownloading
	case "paused_dl", "paused_up":
		return StatusPaused
	case "stalled", "stalled_up":
		return StatusStalled
	case "error":
		return StatusFailed
	default:
		return current
	}
}
