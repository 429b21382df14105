package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/grabarr/grabarr/internal/errs"
	"github.com/grabarr/grabarr/internal/metrics"
)

// historyLimit bounds the resolved-alert buffer.
const historyLimit = 1000

// Manager evaluates observations against its rules, fires alerts, and
// routes them to every registered handler.
type Manager struct {
	mu       sync.Mutex
	rules    map[string]Rule
	active   map[uuid.UUID]*Alert
	history  []Alert
	handlers []Handler

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager creates an alert manager with no rules.
func NewManager(m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rules:   make(map[string]Rule),
		active:  make(map[uuid.UUID]*Alert),
		metrics: m,
		logger:  logger.With(zap.String("component", "alerts")),
		now:     time.Now,
	}
}

// AddRule registers or replaces a rule by name.
func (m *Manager) AddRule(rule Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name] = rule
}

// RemoveRule deletes a rule by name.
func (m *Manager) RemoveRule(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[name]; !ok {
		return errs.NotFound("alerts", "rule "+name)
	}
	delete(m.rules, name)
	return nil
}

// SetRuleEnabled toggles a rule without removing it.
func (m *Manager) SetRuleEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[name]
	if !ok {
		return errs.NotFound("alerts", "rule "+name)
	}
	rule.Enabled = enabled
	m.rules[name] = rule
	return nil
}

// AddHandler registers a notification handler.
func (m *Manager) AddHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// CheckConsecutiveFailures observes a service's consecutive failure count.
func (m *Manager) CheckConsecutiveFailures(ctx context.Context, service string, count int) {
	m.evaluate(ctx, func(c Condition) bool {
		return c.Type == ConditionConsecutiveFailures &&
			c.Service == service && count >= c.Count
	}, service,
		fmt.Sprintf("%s: %d consecutive failures", service, count),
		fmt.Sprintf("service %s has failed %d times in a row", service, count))
}

// CheckSlowSync observes one sync pass duration.
func (m *Manager) CheckSlowSync(ctx context.Context, service string, duration time.Duration) {
	seconds := duration.Seconds()
	m.evaluate(ctx, func(c Condition) bool {
		return c.Type == ConditionSlowSync &&
			c.Service == service && seconds >= c.DurationSeconds
	}, service,
		fmt.Sprintf("%s: slow sync (%.1fs)", service, seconds),
		fmt.Sprintf("sync for %s took %.1fs", service, seconds))
}

// CheckRateLimitHits observes a service's hourly rate-limit hit count.
func (m *Manager) CheckRateLimitHits(ctx context.Context, service string, hitsPerHour int) {
	m.evaluate(ctx, func(c Condition) bool {
		return c.Type == ConditionRateLimitHits &&
			c.Service == service && hitsPerHour >= c.HitsPerHour
	}, service,
		fmt.Sprintf("%s: rate limited %d times this hour", service, hitsPerHour),
		fmt.Sprintf("service %s hit its rate limit %d times in the last hour", service, hitsPerHour))
}

// CheckServiceHealth observes a health probe. An unhealthy result fires
// ServiceDown rules; a healthy result auto-resolves them.
func (m *Manager) CheckServiceHealth(ctx context.Context, service string, healthy bool) {
	if healthy {
		m.resolveMatching(ConditionServiceDown, service)
		return
	}
	m.evaluate(ctx, func(c Condition) bool {
		return c.Type == ConditionServiceDown && c.Service == service
	}, service,
		fmt.Sprintf("%s: service down", service),
		fmt.Sprintf("service %s is not responding to health checks", service))
}

// CheckCircuitBreaker observes a breaker state change. Closing the breaker
// auto-resolves the alert.
func (m *Manager) CheckCircuitBreaker(ctx context.Context, service string, open bool) {
	if !open {
		m.resolveMatching(ConditionCircuitBreakerOpen, service)
		return
	}
	m.evaluate(ctx, func(c Condition) bool {
		return c.Type == ConditionCircuitBreakerOpen && c.Service == service
	}, service,
		fmt.Sprintf("%s: circuit breaker open", service),
		fmt.Sprintf("outbound calls to %s are being short-circuited", service))
}

// CheckQueueDepth observes a queue's depth.
func (m *Manager) CheckQueueDepth(ctx context.Context, queueName string, depth int) {
	m.evaluate(ctx, func(c Condition) bool {
		return c.Type == ConditionHighQueueDepth &&
			c.QueueName == queueName && depth >= c.Depth
	}, queueName,
		fmt.Sprintf("%s: queue depth %d", queueName, depth),
		fmt.Sprintf("queue %s has %d waiting items", queueName, depth))
}

// CheckCacheHitRate observes a cache's hit rate.
func (m *Manager) CheckCacheHitRate(ctx context.Context, cacheType string, rate float64) {
	m.evaluate(ctx, func(c Condition) bool {
		return c.Type == ConditionLowCacheHitRate &&
			c.CacheType == cacheType && rate < c.HitRate
	}, cacheType,
		fmt.Sprintf("%s: cache hit rate %.0f%%", cacheType, rate*100),
		fmt.Sprintf("cache %s hit rate dropped to %.0f%%", cacheType, rate*100))
}

// evaluate fires every enabled rule whose condition matches the
// observation.
func (m *Manager) evaluate(ctx context.Context, match func(Condition) bool, service, title, description string) {
	m.mu.Lock()

	var toNotify []Alert
	now := m.now()

	for _, rule := range m.rules {
		if !rule.Enabled || !match(rule.Condition) {
			continue
		}

		if existing := m.findActive(rule.Name, service); existing != nil {
			if existing.rateLimited(rule, now) {
				existing.FireCount++
				existing.UpdatedAt = now
				continue
			}
			existing.fire(now)
			toNotify = append(toNotify, *existing)
			continue
		}

		alert := &Alert{
			ID:          uuid.New(),
			RuleName:    rule.Name,
			Level:       rule.Level,
			Status:      StatusActive,
			Title:       title,
			Description: description,
			Service:     service,
			CreatedAt:   now,
			UpdatedAt:   now,
			FireCount:   1,
			LastFired:   now,
		}
		m.active[alert.ID] = alert
		toNotify = append(toNotify, *alert)
	}
	m.mu.Unlock()

	for _, alert := range toNotify {
		m.metrics.IncAlertFired(alert.Level.String())
		m.notify(ctx, alert)
	}
}

// findActive locates the active alert for (rule, service). Caller holds
// the lock.
func (m *Manager) findActive(ruleName, service string) *Alert {
	for _, a := range m.active {
		if a.RuleName == ruleName && a.Service == service && a.Status == StatusActive {
			return a
		}
	}
	return nil
}

// resolveMatching auto-resolves active alerts whose rule has the condition
// type, service, and AutoResolve set.
func (m *Manager) resolveMatching(condType ConditionType, service string) {
	m.mu.Lock()
	now := m.now()
	var resolved []Alert

	for _, a := range m.active {
		if a.Service != service || a.Status != StatusActive {
			continue
		}
		rule, ok := m.rules[a.RuleName]
		if !ok || rule.Condition.Type != condType || !rule.AutoResolve {
			continue
		}
		a.Status = StatusResolved
		a.ResolvedAt = &now
		a.UpdatedAt = now
		resolved = append(resolved, *a)
	}
	m.mu.Unlock()

	for _, a := range resolved {
		m.logger.Info("alert auto-resolved",
			zap.String("rule", a.RuleName),
			zap.String("service", a.Service))
	}
}

// notify routes one alert to every handler. Handler errors are logged, not
// propagated.
func (m *Manager) notify(ctx context.Context, alert Alert) {
	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		if err := h.Notify(ctx, alert); err != nil {
			m.logger.Error("notification handler failed",
				zap.String("handler", h.Name()),
				zap.String("rule", alert.RuleName),
				zap.Error(err))
		}
	}
}

// Acknowledge marks an active alert as acknowledged by a user.
func (m *Manager) Acknowledge(id uuid.UUID, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.active[id]
	if !ok {
		return errs.NotFound("alerts", "alert "+id.String())
	}
	now := m.now()
	alert.Status = StatusAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = user
	alert.UpdatedAt = now
	return nil
}

// Resolve marks an alert as resolved.
func (m *Manager) Resolve(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.active[id]
	if !ok {
		return errs.NotFound("alerts", "alert "+id.String())
	}
	now := m.now()
	alert.Status = StatusResolved
	alert.ResolvedAt = &now
	alert.UpdatedAt = now
	return nil
}

// ActiveAlerts returns copies of alerts that are currently firing.
func (m *Manager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.active {
		if a.Status == StatusActive {
			out = append(out, *a)
		}
	}
	return out
}

// CleanupResolved moves resolved alerts older than the retention window
// into the bounded history buffer.
func (m *Manager) CleanupResolved(retention time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-retention)
	moved := 0
	for id, a := range m.active {
		if a.Status != StatusResolved || a.ResolvedAt == nil || a.ResolvedAt.After(cutoff) {
			continue
		}
		m.history = append(m.history, *a)
		delete(m.active, id)
		moved++
	}
	if excess := len(m.history) - historyLimit; excess > 0 {
		m.history = m.history[excess:]
	}
	return moved
}

// Stats summarizes the manager's current state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{ByLevel: make(map[string]int), History: len(m.history)}
	for _, a := range m.active {
		if a.Status == StatusActive {
			stats.Active++
			stats.ByLevel[a.Level.String()]++
		}
		stats.TotalFired += a.FireCount
	}
	return stats
}
