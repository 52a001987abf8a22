// Package pipeline consumes the engine's message stream: it drops
// duplicates, categorizes, stores and notifies.
package pipeline

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/categorize"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/normalize"
	"github.com/nhle/onebox/internal/notify"
	"github.com/nhle/onebox/internal/store"
)

const defaultWorkers = 4

// Stats counts processed messages.
type Stats struct {
	Processed  int64 `json:"processed"`
	Saved      int64 `json:"saved"`
	Duplicates int64 `json:"duplicates"`
	Notified   int64 `json:"notified"`
	Failed     int64 `json:"failed"`
}

// Pipeline processes messages with a fixed number of workers. Per-message
// failures are logged and counted, never fatal.
type Pipeline struct {
	store       store.Store
	categorizer categorize.Categorizer
	notifier    notify.Notifier
	workers     int
	logger      *zap.Logger

	processed  atomic.Int64
	saved      atomic.Int64
	duplicates atomic.Int64
	notified   atomic.Int64
	failed     atomic.Int64
}

// New creates a pipeline. notifier may be nil.
func New(
	s store.Store,
	c categorize.Categorizer,
	n notify.Notifier,
	workers int,
	logger *zap.Logger,
) *Pipeline {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if c == nil {
		c = categorize.Static{}
	}
	return &Pipeline{
		store:       s,
		categorizer: c,
		notifier:    n,
		workers:     workers,
		logger:      logger,
	}
}

// Run consumes in until it is closed or ctx is cancelled, then waits for
// in-flight messages to finish.
func (p *Pipeline) Run(ctx context.Context, in <-chan model.Message) {
	var wg gosync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, in)
		}()
	}
	wg.Wait()
}

func (p *Pipeline) work(ctx context.Context, in <-chan model.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := p.Process(ctx, msg); err != nil {
				p.failed.Add(1)
				p.logger.Error("processing message failed",
					zap.String("account", msg.AccountID),
					zap.String("message", msg.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// Process handles one message. A message whose dedup key is already stored
// is skipped without categorizing it again.
func (p *Pipeline) Process(ctx context.Context, msg model.Message) error {
	p.processed.Add(1)
	key := normalize.DedupKey(msg)

	seen, err := p.store.HasDedupKey(ctx, key)
	if err != nil {
		return fmt.Errorf("checking duplicate: %w", err)
	}
	if seen {
		p.duplicates.Add(1)
		p.logger.Debug("skipping duplicate message",
			zap.String("account", msg.AccountID),
			zap.String("message_id", msg.MessageID),
		)
		return nil
	}

	category, err := p.categorizer.Categorize(ctx, msg)
	if err != nil {
		p.logger.Warn("categorization failed",
			zap.String("message", msg.ID),
			zap.Error(err),
		)
		category = model.CategoryUncategorized
	}
	msg.Category = category

	inserted, err := p.store.SaveMessage(ctx, msg, key)
	if err != nil {
		return err
	}
	if !inserted {
		p.duplicates.Add(1)
		return nil
	}
	p.saved.Add(1)

	p.logger.Info("message stored",
		zap.String("account", msg.AccountID),
		zap.String("message", msg.ID),
		zap.String("subject", msg.Subject),
		zap.String("category", string(category)),
	)

	if category != model.CategoryInterested || p.notifier == nil {
		return nil
	}
	if err := p.notifier.Notify(ctx, msg); err != nil {
		p.logger.Warn("notification failed",
			zap.String("message", msg.ID),
			zap.Error(err),
		)
		return nil
	}
	p.notified.Add(1)
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:  p.processed.Load(),
		Saved:      p.saved.Load(),
		Duplicates: p.duplicates.Load(),
		Notified:   p.notified.Load(),
		Failed:     p.failed.Load(),
	}
}
