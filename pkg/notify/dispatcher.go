package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"examtrack/pkg/queue"
)

// Deliverer hands a due notification to the user.
type Deliverer interface {
	Deliver(ctx context.Context, due Due) error
}

// LogDeliverer writes one structured log line per delivered notification.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Deliver implements Deliverer.
func (d LogDeliverer) Deliver(ctx context.Context, due Due) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification delivered",
		"scope", due.Scope,
		"id", due.Request.ID,
		"record_id", due.Request.RecordID,
		"category", due.Request.Category,
		"title", due.Request.Title,
		"body", due.Request.Body,
		"fire_at", due.Request.FireAt,
	)
	return nil
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Source    Source
	Deliverer Deliverer
	// Queue, when set, receives due notifications and delivers them with retries.
	Queue       *queue.RedisJobQueue
	Concurrency int
	Interval    time.Duration
	BatchSize   int
}

// Dispatcher moves due notifications from the registrar to the deliverer.
type Dispatcher struct {
	source      Source
	deliverer   Deliverer
	queue       *queue.RedisJobQueue
	concurrency int
	interval    time.Duration
	batchSize   int
	now         func() time.Time
}

// NewDispatcher validates cfg and builds a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("notification source required")
	}
	if cfg.Deliverer == nil {
		cfg.Deliverer = LogDeliverer{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Dispatcher{
		source:      cfg.Source,
		deliverer:   cfg.Deliverer,
		queue:       cfg.Queue,
		concurrency: cfg.Concurrency,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		now:         time.Now,
	}, nil
}

// Run polls until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.queue != nil {
		d.queue.Start(ctx, d.concurrency, d.handleJob)
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			slog.WarnContext(ctx, "notification dispatch failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims due notifications and delivers or enqueues them.
// Claimed items are already gone from the source, so when the queue rejects
// one, it and the rest of the batch are delivered directly. It returns the
// number handled and the enqueue error, if any.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	due, err := d.source.ClaimDue(ctx, d.now(), d.batchSize)
	if err != nil {
		return 0, err
	}
	var (
		handled    int
		enqueueErr error
	)
	for _, item := range due {
		if d.queue != nil && enqueueErr == nil {
			_, err := d.queue.EnqueueJSON(ctx, item)
			if err == nil {
				handled++
				continue
			}
			enqueueErr = fmt.Errorf("enqueue notification %s: %w", item.Request.ID, err)
			slog.WarnContext(ctx, "notification queue unavailable, delivering directly", "id", item.Request.ID, "err", err)
		}
		if err := d.deliverer.Deliver(ctx, item); err != nil {
			slog.WarnContext(ctx, "notification delivery failed", "id", item.Request.ID, "scope", item.Scope, "err", err)
			continue
		}
		handled++
	}
	return handled, enqueueErr
}

func (d *Dispatcher) handleJob(ctx context.Context, job queue.JobStatus) error {
	var due Due
	if err := json.Unmarshal([]byte(job.Payload), &due); err != nil {
		slog.WarnContext(ctx, "dropping undecodable notification job", "job_id", job.ID, "err", err)
		return nil
	}
	return d.deliverer.Deliver(ctx, due)
}
