package worker

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/query-management/internal/config"
	"github.com/spec-kit/query-management/internal/engine"
	"github.com/spec-kit/query-management/internal/observability"
	"github.com/spec-kit/query-management/internal/repository"
)

// BatchAgent polls open tickets on a fixed interval and runs each through the
// lifecycle engine with bounded parallelism. A per-ticket failure is logged
// and skipped; it never aborts the pass.
type BatchAgent struct {
	engine  *engine.Engine
	tickets repository.TicketRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     config.AgentConfig
}

// NewBatchAgent constructs the agent.
func NewBatchAgent(eng *engine.Engine, tickets repository.TicketRepository, logger *zap.Logger, metrics *observability.Metrics, cfg config.AgentConfig) *BatchAgent {
	return &BatchAgent{
		engine:  eng,
		tickets: tickets,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Run loops until ctx is cancelled.
func (a *BatchAgent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval())
	defer ticker.Stop()

	a.logger.Info("batch agent started",
		zap.Duration("interval", a.cfg.Interval()),
		zap.Int("workers", a.workerCount()))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("batch agent stopped")
			return
		case <-ticker.C:
			if err := a.RunPass(ctx, nil); err != nil && ctx.Err() == nil {
				a.logger.Error("batch pass failed", zap.Error(err))
			}
			if a.cfg.EnablePendingSweep {
				swept, err := a.engine.SweepExpiredPending(ctx, a.cfg.PendingSweepAge())
				if err != nil && ctx.Err() == nil {
					a.logger.Error("pending sweep failed", zap.Error(err))
				} else if swept > 0 {
					a.logger.Info("pending sweep rejected stale tickets", zap.Int("count", swept))
				}
			}
		}
	}
}

// RunPass processes all open tickets once. cutoff, when set, limits the pass
// to tickets created at or before that time.
func (a *BatchAgent) RunPass(ctx context.Context, cutoff *time.Time) error {
	open, err := a.tickets.ListOpen(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		a.metrics.RecordBatchPass(0)
		return nil
	}

	var skipped atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.workerCount())

	for i := range open {
		// Cooperative stop: check before dispatching each ticket so shutdown
		// does not strand work mid-pass.
		if groupCtx.Err() != nil {
			break
		}
		ticketID := open[i].ID
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return nil
			}
			if _, err := a.engine.ProcessTicket(groupCtx, ticketID); err != nil {
				skipped.Add(1)
				a.logger.Warn("skipping ticket this cycle",
					zap.String("ticket_id", ticketID),
					zap.Error(err))
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	a.metrics.RecordBatchPass(int(skipped.Load()))
	a.logger.Info("batch pass complete",
		zap.Int("tickets", len(open)),
		zap.Int64("skipped", skipped.Load()))
	return ctx.Err()
}

func (a *BatchAgent) workerCount() int {
	if a.cfg.WorkerCount <= 0 {
		return 4
	}
	return a.cfg.WorkerCount
}
