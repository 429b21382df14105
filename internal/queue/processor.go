package queue

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/grabarr/grabarr/internal/blocklist"
	"github.com/grabarr/grabarr/internal/breaker"
	"github.com/grabarr/grabarr/internal/download"
	"github.com/grabarr/grabarr/internal/errs"
	"github.com/grabarr/grabarr/internal/lifecycle"
	"github.com/grabarr/grabarr/internal/metrics"
	"github.com/grabarr/grabarr/internal/retry"
)

// progressEpsilon bounds write amplification: a sync result is persisted
// only when the status changes or progress moves by more than this much.
const progressEpsilon = 0.01

// ProcessorConfig configures the background queue processor.
type ProcessorConfig struct {
	MaxConcurrentDownloads int
	CheckInterval          time.Duration
	SyncInterval           time.Duration
	RetryInterval          time.Duration
	Enabled                bool

	// DispatchRetry is the retry policy for handing items to the download
	// client. Defaults to retry.Slow().
	DispatchRetry retry.Policy
}

// DefaultProcessorConfig returns the stock processor settings.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxConcurrentDownloads: 5,
		CheckInterval:          30 * time.Second,
		SyncInterval:           60 * time.Second,
		RetryInterval:          5 * time.Minute,
		Enabled:                true,
		DispatchRetry:          retry.Slow(),
	}
}

// Processor runs the three queue loops: admission, sync, and retry. All
// download-client calls go through the client's circuit breaker.
type Processor struct {
	cfg       ProcessorConfig
	store     Store
	client    download.Client
	breaker   *breaker.Breaker
	blocklist *blocklist.Service // optional failure feedback
	metrics   *metrics.Metrics   // optional
	logger    *zap.Logger

	// OnCompleted, when set, receives each item that reaches Completed
	// along with the client-reported save path. The import collaborator
	// hooks in here; it owns the Importing/Imported transitions.
	OnCompleted func(ctx context.Context, item *Item, savePath string)

	manager *lifecycle.Manager
}

// NewProcessor creates a queue processor. The breaker guards every call to
// the download client; blocklist and metrics may be nil.
func NewProcessor(cfg ProcessorConfig, store Store, client download.Client, brk *breaker.Breaker, bl *blocklist.Service, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DispatchRetry.MaxAttempts == 0 {
		cfg.DispatchRetry = retry.Slow()
	}
	return &Processor{
		cfg:       cfg,
		store:     store,
		client:    client,
		breaker:   brk,
		blocklist: bl,
		metrics:   m,
		logger:    logger.With(zap.String("component", "queue-processor")),
	}
}

// Start launches the background loops. It returns immediately; Stop shuts
// the loops down gracefully.
func (p *Processor) Start(ctx context.Context) {
	if !p.cfg.Enabled {
		p.logger.Info("queue processor disabled")
		return
	}

	p.logger.Info("starting queue processor",
		zap.Int("maxConcurrent", p.cfg.MaxConcurrentDownloads),
		zap.Duration("checkInterval", p.cfg.CheckInterval),
		zap.Duration("syncInterval", p.cfg.SyncInterval),
		zap.Duration("retryInterval", p.cfg.RetryInterval))

	p.manager = lifecycle.New(ctx)
	p.manager.RunTicker(p.cfg.CheckInterval, func(ctx context.Context) {
		if n, err := p.ProcessQueue(ctx); err != nil {
			p.logger.Error("queue admission failed", zap.Error(err))
		} else if n > 0 {
			p.logger.Debug("dispatched queue items", zap.Int("count", n))
		}
	})
	p.manager.RunTicker(p.cfg.SyncInterval, func(ctx context.Context) {
		if n, err := p.SyncClient(ctx); err != nil {
			p.logger.Error("client sync failed", zap.Error(err))
		} else if n > 0 {
			p.logger.Debug("synced queue items", zap.Int("updated", n))
		}
	})
	p.manager.RunTicker(p.cfg.RetryInterval, func(ctx context.Context) {
		if n, err := p.RetryFailed(ctx); err != nil {
			p.logger.Error("retry sweep failed", zap.Error(err))
		} else if n > 0 {
			p.logger.Info("requeued failed downloads", zap.Int("count", n))
		}
	})
}

// Stop shuts down the loops, waiting up to the given timeout.
func (p *Processor) Stop(timeout time.Duration) error {
	if p.manager == nil {
		return nil
	}
	return p.manager.StopWithTimeout(timeout)
}

// ProcessQueue is one admission pass: fill free download slots with queued
// items in (priority desc, created asc) order. Returns how many items were
// dispatched.
func (p *Processor) ProcessQueue(ctx context.Context) (int, error) {
	downloading := StatusDownloading
	active, err := p.store.List(ctx, &downloading)
	if err != nil {
		return 0, err
	}

	free := p.cfg.MaxConcurrentDownloads - len(active)
	if free <= 0 {
		return 0, nil
	}

	queued := StatusQueued
	waiting, err := p.store.List(ctx, &queued)
	if err != nil {
		return 0, err
	}
	if len(waiting) == 0 {
		return 0, nil
	}

	sort.SliceStable(waiting, func(i, j int) bool {
		if waiting[i].Priority != waiting[j].Priority {
			return waiting[i].Priority > waiting[j].Priority
		}
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})

	dispatched := 0
	for _, item := range waiting {
		if dispatched >= free {
			break
		}
		if err := p.dispatch(ctx, item); err != nil {
			p.metrics.IncDispatch(false)
			p.logger.Warn("dispatch failed",
				zap.String("title", item.Title),
				zap.Error(err))
			continue
		}
		p.metrics.IncDispatch(true)
		dispatched++
		p.logger.Info("download started",
			zap.String("title", item.Title),
			zap.String("clientID", item.ClientID))
	}
	return dispatched, nil
}

// dispatch hands one item to the download client. Transient failures leave
// the item queued for the next admission pass; permanent failures exhaust
// its retries and feed the blocklist.
func (p *Processor) dispatch(ctx context.Context, item *Item) error {
	clientID, err := retry.Do(ctx, p.cfg.DispatchRetry, func(ctx context.Context) (string, error) {
		return breaker.Do(ctx, p.breaker, func(ctx context.Context) (string, error) {
			return p.client.Add(ctx, item.DownloadURL, item.Category, item.DownloadPath)
		})
	})
	if err != nil {
		item.SetError(err.Error())
		if !errs.IsTransient(err) {
			item.ExhaustRetries()
			item.Fail(err.Error())
			p.recordFailure(ctx, item, err)
		}
		if updateErr := p.store.Update(ctx, item); updateErr != nil {
			p.logger.Error("failed to persist dispatch error", zap.Error(updateErr))
		}
		return err
	}

	item.MarkDownloading(clientID)
	return p.store.Update(ctx, item)
}

// SyncClient is one reconciliation pass over every downloading item.
// Returns how many items were persisted.
func (p *Processor) SyncClient(ctx context.Context) (int, error) {
	downloading := StatusDownloading
	active, err := p.store.List(ctx, &downloading)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, item := range active {
		if item.ClientID == "" {
			continue
		}

		st, err := breaker.Do(ctx, p.breaker, func(ctx context.Context) (*download.ClientStatus, error) {
			return p.client.Status(ctx, item.ClientID)
		})
		if err != nil {
			if errs.KindOf(err) == errs.KindCircuitOpen {
				// The client is down; the rest of the pass is pointless.
				p.logger.Warn("download client circuit open, skipping sync")
				return updated, nil
			}
			p.logger.Warn("status poll failed",
				zap.String("clientID", item.ClientID),
				zap.Error(err))
			continue
		}

		wasCompleted := item.Status == StatusCompleted
		if p.applyClientStatus(ctx, item, st) {
			if err := p.store.Update(ctx, item); err != nil {
				p.logger.Error("failed to persist sync update", zap.Error(err))
				continue
			}
			p.metrics.IncSyncUpdate()
			updated++

			if item.Status == StatusCompleted && !wasCompleted && p.OnCompleted != nil {
				savePath := ""
				if st != nil {
					savePath = st.SavePath
				}
				p.OnCompleted(ctx, item.Clone(), savePath)
			}
		}
	}
	return updated, nil
}

// applyClientStatus folds one client report into the item and reports
// whether the change is worth persisting.
func (p *Processor) applyClientStatus(ctx context.Context, item *Item, st *download.ClientStatus) bool {
	oldStatus := item.Status
	oldProgress := item.Progress

	if st == nil {
		// The torrent vanished from the client.
		item.Fail("not found in client")
		p.logger.Warn("download not found in client", zap.String("title", item.Title))
		return true
	}

	newStatus := StatusFromExternal(st.Status, st.Progress, item.Status)

	item.Progress = st.Progress
	item.DownloadedBytes = st.DownloadedBytes
	item.UploadedBytes = st.UploadedBytes
	item.DownloadSpeed = st.DownloadSpeed
	item.UploadSpeed = st.UploadSpeed
	item.ETASeconds = st.ETASeconds
	item.Seeders = st.Seeders
	item.Leechers = st.Leechers

	if newStatus == StatusFailed {
		msg := st.ErrorMessage
		if msg == "" {
			msg = "download client reported an error"
		}
		item.Fail(msg)
		reason := blocklist.ClassifyMessage(msg)
		if reason.Permanent() {
			item.ExhaustRetries()
		}
		p.blockRelease(ctx, item, reason)
	} else {
		item.Status = newStatus
		if newStatus == StatusCompleted {
			item.Progress = 1.0
		}
		item.UpdatedAt = time.Now().UTC()
	}

	if item.Status == StatusCompleted && oldStatus != StatusCompleted {
		p.logger.Info("download completed",
			zap.String("title", item.Title),
			zap.String("size", humanize.Bytes(uint64(item.DownloadedBytes))))
	}

	return item.Status != oldStatus ||
		math.Abs(item.Progress-oldProgress) > progressEpsilon
}

// RetryFailed is one retry pass: requeue failed items whose retry budget
// remains. Returns how many items were requeued.
func (p *Processor) RetryFailed(ctx context.Context) (int, error) {
	candidates, err := p.store.RetryCandidates(ctx)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, item := range candidates {
		if !item.CanRetry() {
			continue
		}
		p.logger.Info("retrying failed download",
			zap.String("title", item.Title),
			zap.Int("attempt", item.RetryCount+1),
			zap.Int("maxRetries", item.MaxRetries))

		item.ResetForRetry()
		if err := p.store.Update(ctx, item); err != nil {
			p.logger.Error("failed to requeue item", zap.Error(err))
			continue
		}
		p.metrics.IncRetry()
		retried++
	}
	return retried, nil
}

// recordFailure classifies err and feeds the blocklist.
func (p *Processor) recordFailure(ctx context.Context, item *Item, err error) {
	p.blockRelease(ctx, item, blocklist.ClassifyError(err))
}

func (p *Processor) blockRelease(ctx context.Context, item *Item, reason blocklist.FailureReason) {
	if p.blocklist == nil || item.ReleaseID == "" {
		return
	}
	movieID := item.MovieID
	if _, err := p.blocklist.Block(ctx, item.ReleaseID, item.Indexer, reason, item.Title, &movieID, nil); err != nil {
		p.logger.Error("failed to record blocklist entry", zap.Error(err))
	}
}
