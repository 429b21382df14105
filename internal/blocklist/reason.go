// Package blocklist records per-release failures and feeds them back into
// release selection and indexer health.
package blocklist

import (
	"errors"
	"strings"

	"github.com/grabarr/grabarr/internal/errs"
)

// FailureReason classifies why a release was blocked.
type FailureReason string

const (
	ReasonConnectionTimeout    FailureReason = "connection_timeout"
	ReasonAuthenticationFailed FailureReason = "authentication_failed"
	ReasonRateLimited          FailureReason = "rate_limited"
	ReasonNetworkError         FailureReason = "network_error"
	ReasonServerError          FailureReason = "server_error"
	ReasonParseError           FailureReason = "parse_error"
	ReasonPermissionDenied     FailureReason = "permission_denied"
	ReasonDiskFull             FailureReason = "disk_full"
	ReasonDownloadStalled      FailureReason = "download_stalled"
	ReasonManuallyRejected     FailureReason = "manually_rejected"
	ReasonUnknown              FailureReason = "unknown"
)

// Permanent reports whether the reason blocks the release indefinitely.
// Transient reasons re-block on an exponential schedule instead.
func (r FailureReason) Permanent() bool {
	switch r {
	case ReasonManuallyRejected, ReasonAuthenticationFailed, ReasonParseError,
		ReasonPermissionDenied, ReasonDiskFull:
		return true
	default:
		return false
	}
}

// ClassifyError derives a failure reason from an error: taxonomy kind first,
// then message substrings for the ambiguous kinds.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}

	var e *errs.Error
	if !errors.As(err, &e) {
		return classifyMessage(err.Error())
	}

	switch e.Kind {
	case errs.KindTimeout:
		return ReasonConnectionTimeout
	case errs.KindAuthentication:
		return ReasonAuthenticationFailed
	case errs.KindRateLimited:
		return ReasonRateLimited
	case errs.KindNetwork:
		return ReasonNetworkError
	case errs.KindSerialization:
		return ReasonParseError
	case errs.KindIO:
		return classifyMessage(e.Message)
	case errs.KindExternalService:
		msg := e.Message
		if e.Err != nil {
			msg += " " + e.Err.Error()
		}
		if reason := classifyMessage(msg); reason != ReasonUnknown {
			return reason
		}
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// ClassifyMessage derives a failure reason from a bare message, such as an
// error detail reported by a download client.
func ClassifyMessage(msg string) FailureReason {
	return classifyMessage(msg)
}

func classifyMessage(msg string) FailureReason {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission denied"):
		return ReasonPermissionDenied
	case strings.Contains(lower, "no space") || strings.Contains(lower, "enospc") ||
		strings.Contains(lower, "disk full"):
		return ReasonDiskFull
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return ReasonConnectionTimeout
	case strings.Contains(lower, "stalled"):
		return ReasonDownloadStalled
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return ReasonRateLimited
	default:
		return ReasonUnknown
	}
}
