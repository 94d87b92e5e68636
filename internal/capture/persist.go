package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chouzz/llm-interceptor/internal/config"
	"github.com/chouzz/llm-interceptor/internal/jsonl"
	"github.com/chouzz/llm-interceptor/internal/queue"
)

// Persister drains the event queue into a JSONL writer.
type Persister struct {
	events   *queue.Queue
	writer   *jsonl.Writer
	batch    int
	interval time.Duration
	logger   *slog.Logger
}

// NewPersister creates a Persister using the configured batch size and
// flush interval. A nil logger falls back to slog.Default().
func NewPersister(events *queue.Queue, writer *jsonl.Writer, cfg *config.QueueConfig, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	interval := time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	return &Persister{
		events:   events,
		writer:   writer,
		batch:    batch,
		interval: interval,
		logger:   logger,
	}
}

// Run writes queued events until the context is cancelled, then drains what
// remains and flushes. The first write failure stops the loop; capture
// events are worthless if the file is broken.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.writeBatches(); err != nil {
				return err
			}
			if err := p.writer.Flush(); err != nil {
				return fmt.Errorf("failed to flush capture file: %w", err)
			}
			stats := p.events.Stats()
			p.logger.Info("capture queue drained",
				"drops_total", stats.DropsTotal,
				"drops_low", stats.DropsLow,
				"drops_high", stats.DropsHigh)
			return nil
		case <-p.events.NotifyCh():
			if err := p.writeBatches(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := p.writer.Flush(); err != nil {
				return fmt.Errorf("failed to flush capture file: %w", err)
			}
		}
	}
}

// writeBatches pops and writes until the queue is empty.
func (p *Persister) writeBatches() error {
	for {
		items := p.events.PopBatch(p.batch)
		if len(items) == 0 {
			return nil
		}
		for _, item := range items {
			if err := p.writer.Write(item.Record); err != nil {
				return fmt.Errorf("failed to persist %s event: %w", item.Kind, err)
			}
		}
	}
}
