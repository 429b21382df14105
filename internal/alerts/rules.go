package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultRules returns the stock rule set for a deployment with one
// download client and a pool of indexers.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "indexer-consecutive-failures",
			Level:       LevelWarning,
			Description: "an indexer keeps failing",
			Condition:   Condition{Type: ConditionConsecutiveFailures, Service: "indexer", Count: 5},
			RateLimit:   15 * time.Minute,
			Enabled:     true,
		},
		{
			Name:        "download-client-down",
			Level:       LevelCritical,
			Description: "the download client stopped answering health checks",
			Condition:   Condition{Type: ConditionServiceDown, Service: "download-client"},
			RateLimit:   5 * time.Minute,
			AutoResolve: true,
			Enabled:     true,
		},
		{
			Name:        "download-client-breaker-open",
			Level:       LevelCritical,
			Description: "the download-client circuit breaker opened",
			Condition:   Condition{Type: ConditionCircuitBreakerOpen, Service: "download-client"},
			RateLimit:   5 * time.Minute,
			AutoResolve: true,
			Enabled:     true,
		},
		{
			Name:        "slow-client-sync",
			Level:       LevelWarning,
			Description: "a download-client sync pass ran long",
			Condition:   Condition{Type: ConditionSlowSync, Service: "download-client", DurationSeconds: 30},
			RateLimit:   30 * time.Minute,
			Enabled:     true,
		},
		{
			Name:        "queue-backlog",
			Level:       LevelWarning,
			Description: "too many items waiting for a download slot",
			Condition:   Condition{Type: ConditionHighQueueDepth, QueueName: "download", Depth: 50},
			RateLimit:   time.Hour,
			Enabled:     true,
		},
		{
			Name:        "indexer-rate-limited",
			Level:       LevelInfo,
			Description: "an indexer is rate-limiting us frequently",
			Condition:   Condition{Type: ConditionRateLimitHits, Service: "indexer", HitsPerHour: 10},
			RateLimit:   time.Hour,
			Enabled:     true,
		},
	}
}

// LogHandler writes alert notifications to the application log. It is the
// always-available fallback handler.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a log-backed notification handler.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Notify(ctx context.Context, alert Alert) error {
	h.logger.Warn("alert fired",
		zap.String("rule", alert.RuleName),
		zap.String("level", alert.Level.String()),
		zap.String("service", alert.Service),
		zap.String("title", alert.Title),
		zap.Int("fireCount", alert.FireCount))
	return nil
}

func (h *LogHandler) Name() string {
	return "log"
}
