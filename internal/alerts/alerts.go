// Package alerts evaluates monitoring observations against rules and routes
// fired alerts to notification handlers.
package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Level is the alert severity.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "info"
	}
}

// Priority returns a numeric rank for sorting; higher is more urgent.
func (l Level) Priority() int {
	return int(l) + 1
}

// Status is an alert's lifecycle state.
type Status int

const (
	StatusActive Status = iota
	StatusResolved
	StatusAcknowledged
	StatusSuppressed
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusAcknowledged:
		return "acknowledged"
	case StatusSuppressed:
		return "suppressed"
	default:
		return "active"
	}
}

// ConditionType discriminates the rule shapes.
type ConditionType string

const (
	ConditionConsecutiveFailures ConditionType = "consecutive_failures"
	ConditionSlowSync            ConditionType = "slow_sync"
	ConditionRateLimitHits       ConditionType = "rate_limit_hits"
	ConditionServiceDown         ConditionType = "service_down"
	ConditionLowCacheHitRate     ConditionType = "low_cache_hit_rate"
	ConditionHighQueueDepth      ConditionType = "high_queue_depth"
	ConditionCircuitBreakerOpen  ConditionType = "circuit_breaker_open"
)

// Condition is one rule's trigger shape. Only the fields relevant to the
// type are set.
type Condition struct {
	Type    ConditionType
	Service string

	Count           int     // consecutive_failures
	DurationSeconds float64 // slow_sync
	HitsPerHour     int     // rate_limit_hits
	CacheType       string  // low_cache_hit_rate
	HitRate         float64 // low_cache_hit_rate
	QueueName       string  // high_queue_depth
	Depth           int     // high_queue_depth
}

// Rule configures when and how an alert fires.
type Rule struct {
	Name        string
	Level       Level
	Description string
	Condition   Condition

	EvaluationWindow time.Duration
	// RateLimit suppresses repeat notifications for the same (rule,
	// service) inside the window; zero disables suppression.
	RateLimit   time.Duration
	AutoResolve bool
	Enabled     bool
}

// Alert is one fired instance of a rule against a service.
type Alert struct {
	ID          uuid.UUID
	RuleName    string
	Level       Level
	Status      Status
	Title       string
	Description string
	Service     string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy string

	FireCount int
	LastFired time.Time
}

// fire increments the alert's count and reactivates it.
func (a *Alert) fire(now time.Time) {
	a.FireCount++
	a.LastFired = now
	a.UpdatedAt = now
	a.Status = StatusActive
}

// rateLimited reports whether the rule's notification rate limit is still
// in effect for this alert.
func (a *Alert) rateLimited(rule Rule, now time.Time) bool {
	if rule.RateLimit <= 0 {
		return false
	}
	return now.Sub(a.LastFired) < rule.RateLimit
}

// Handler delivers fired alerts to a notification channel.
type Handler interface {
	Notify(ctx context.Context, alert Alert) error
	Name() string
}

// Stats summarizes manager state.
type Stats struct {
	Active     int
	ByLevel    map[string]int
	TotalFired int
	History    int
}
