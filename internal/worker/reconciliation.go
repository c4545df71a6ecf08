package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storefront-payments/internal/service"
)

const sweepBatchSize = 50

// ReconciliationWorker periodically resolves payments stuck in
// pending: the gateway may have charged the customer while our side
// saw a timeout, or the customer may have abandoned the redirect.
type ReconciliationWorker struct {
	svc        service.PaymentService
	interval   time.Duration
	staleAfter time.Duration
	logger     *zap.Logger
}

func NewReconciliationWorker(
	svc service.PaymentService,
	interval time.Duration,
	staleAfter time.Duration,
	logger *zap.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:        svc,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started",
		zap.Duration("interval", rw.interval),
		zap.Duration("stale_after", rw.staleAfter))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			fixed, err := rw.svc.ReconcilePending(ctx, rw.staleAfter, sweepBatchSize)
			if err != nil {
				rw.logger.Error("reconciliation sweep failed", zap.Error(err))
				continue
			}
			if fixed > 0 {
				rw.logger.Info("reconciliation sweep resolved stuck payments",
					zap.Int("resolved", fixed))
			}
		}
	}
}
