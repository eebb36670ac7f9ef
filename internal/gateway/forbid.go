package gateway

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jqwei/codex-relay/internal/store"
)

// forbidQueueCap bounds pending forbid requests; a full queue drops the
// request with a warning rather than blocking the proxy path.
const forbidQueueCap = 32

type forbidRequest struct {
	accountID string
	email     string
	status    int
}

// ForbidWorker propagates payment-denied accounts to the credential store off
// the request path.
type ForbidWorker struct {
	store  store.Store
	queue  chan forbidRequest
	logger zerolog.Logger
}

func NewForbidWorker(st store.Store, logger zerolog.Logger) *ForbidWorker {
	return &ForbidWorker{
		store:  st,
		queue:  make(chan forbidRequest, forbidQueueCap),
		logger: logger,
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *ForbidWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			if err := store.MarkForbidden(ctx, w.store, req.accountID); err != nil {
				w.logger.Error().
					Err(err).
					Str("account_id", req.accountID).
					Str("email", req.email).
					Msg("failed to mark account forbidden in store")
				continue
			}
			w.logger.Warn().
				Str("account_id", req.accountID).
				Str("email", req.email).
				Int("status", req.status).
				Msg("account marked forbidden in store")
		}
	}
}

// Enqueue schedules a store update; drops when the queue is full.
func (w *ForbidWorker) Enqueue(accountID, email string, status int) {
	select {
	case w.queue <- forbidRequest{accountID: accountID, email: email, status: status}:
	default:
		w.logger.Warn().
			Str("account_id", accountID).
			Msg("forbid queue full, dropping request")
	}
}
