// Package reconciler drives payment intents to a terminal on-chain outcome.
//
// The engine is stateless between calls: every invocation re-reads the
// persisted record, advances it at most one step, and reports whether the
// intent still needs a retry. Notifications fire at most once, strictly
// after the SUCCESS write has been persisted.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/tipbot-hq/settler/pkg/config"
	"github.com/tipbot-hq/settler/pkg/logger"
	"github.com/tipbot-hq/settler/pkg/metrics"
	"github.com/tipbot-hq/settler/pkg/models"
	"github.com/tipbot-hq/settler/pkg/store"
	"github.com/tipbot-hq/settler/pkg/wallet"
)

// Store is the record persistence surface the engine depends on.
type Store interface {
	FindByIdentity(ctx context.Context, kind models.Kind, key store.Key) (*models.Record, error)
	Upsert(ctx context.Context, kind models.Kind, key store.Key, patch store.Patch) (*models.Record, error)
	FindTransfersTo(ctx context.Context, recipientID string) ([]models.TransferEvent, error)
	UserByID(ctx context.Context, userID string) (*store.UserIdentity, error)
}

// WalletClient submits transfers and resolves pending operations.
type WalletClient interface {
	Submit(ctx context.Context, params wallet.SubmitParams) (*wallet.TxResult, error)
	Resolve(ctx context.Context, userOpHash string) (*wallet.TxResult, error)
}

// Notifier receives confirmed settlements. Implementations must swallow
// their own errors.
type Notifier interface {
	SettlementConfirmed(ctx context.Context, rec *models.Record)
}

// Intent is the per-kind capability interface the shared state machine is
// parameterized by.
type Intent interface {
	// Kind selects the logical record collection.
	Kind() models.Kind
	// Key is the identity the intent deduplicates on.
	Key() store.Key
	// Snapshot returns the denormalized fields captured at submission time.
	Snapshot() models.Snapshot
	// SubmitParams shapes the wallet submission for the resolved route.
	SubmitParams(route config.Route) (wallet.SubmitParams, error)
}

// Engine implements the reconciliation state machine shared by all intent
// kinds.
type Engine struct {
	store          Store
	wallet         WalletClient
	notifier       Notifier
	route          config.Route
	rewards        config.RewardConfig
	resolveTimeout time.Duration
	logger         logger.Logger
	breakers       *Breakers
	now            func() time.Time
}

// NewEngine creates a reconciliation engine
func NewEngine(st Store, wc WalletClient, notifier Notifier, route config.Route, rewards config.RewardConfig, resolveTimeout time.Duration, log logger.Logger) *Engine {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if resolveTimeout <= 0 {
		resolveTimeout = config.DefaultResolveTimeout
	}
	return &Engine{
		store:          st,
		wallet:         wc,
		notifier:       notifier,
		route:          route,
		rewards:        rewards,
		resolveTimeout: resolveTimeout,
		logger:         log,
		now:            time.Now,
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetBreakers wires the per-kind circuit breakers. Only wallet-error paths
// record failures; a nil set disables recording.
func (e *Engine) SetBreakers(b *Breakers) {
	e.breakers = b
}

// Reconcile advances one intent toward a terminal outcome. It returns true
// when no further action is needed, either because the transfer confirmed or
// because the intent resolved as a confirmed failure; false means the caller
// should retry the whole intent later.
//
// The method is safe to re-invoke in any state: already-terminal records
// short-circuit without wallet calls or notifications.
func (e *Engine) Reconcile(ctx context.Context, intent Intent) bool {
	kind := intent.Kind()
	key := intent.Key()

	rec, err := e.store.FindByIdentity(ctx, kind, key)
	if err != nil {
		e.logger.ErrorWithKind(kind, "Record lookup failed for event %s: %v", key.EventID, err)
		return false
	}

	if rec != nil {
		switch rec.Status {
		case models.StatusSuccess, models.StatusFailure:
			e.logger.DebugWithKind(kind, "Intent %s already resolved with status %s", key.EventID, rec.Status)
			return true
		case models.StatusPendingHash:
			return e.resolvePending(ctx, kind, key, rec)
		}
	}

	return e.submit(ctx, intent, kind, key)
}

// submit issues the transfer to the wallet gateway and records the outcome.
func (e *Engine) submit(ctx context.Context, intent Intent, kind models.Kind, key store.Key) bool {
	snap := intent.Snapshot()
	route := e.route.Resolve(snap.ChainID, snap.TokenAddress)
	snap.ChainID = route.ChainID
	snap.TokenAddress = route.TokenAddress

	params, err := intent.SubmitParams(route)
	if err != nil {
		// The build is deterministic, so a retry would fail the same way.
		// Resolve the intent as a confirmed failure.
		e.logger.ErrorWithKind(kind, "Cannot build submission for event %s: %v", key.EventID, err)
		return e.markFailed(ctx, kind, key, &snap)
	}

	result, err := e.wallet.Submit(ctx, params)
	if err != nil {
		if errors.Is(err, wallet.ErrNonRetryable) {
			// The provider will never accept this operation; resolve it
			// as a confirmed failure so callers stop retrying.
			metrics.WalletCalls.WithLabelValues("submit", "rejected").Inc()
			e.logger.NoticeWithKind(kind, "Submission rejected for event %s: %v", key.EventID, err)
			return e.markFailed(ctx, kind, key, &snap)
		}
		metrics.WalletCalls.WithLabelValues("submit", "error").Inc()
		if e.breakers.RecordFailure(kind) {
			e.logger.NoticeWithKind(kind, "Circuit breaker tripped after submission failure for event %s", key.EventID)
		}
		e.logger.ErrorWithKind(kind, "Submission failed for event %s: %v", key.EventID, err)
		if _, err := e.store.Upsert(ctx, kind, key, store.Patch{
			Status:   statusPtr(models.StatusPending),
			Snapshot: &snap,
		}); err != nil {
			e.logger.ErrorWithKind(kind, "Failed to persist pending record for event %s: %v", key.EventID, err)
		}
		return false
	}
	metrics.WalletCalls.WithLabelValues("submit", "ok").Inc()

	switch {
	case result.TxHash != "":
		// Final hash straight away: persist SUCCESS, then notify.
		rec, err := e.store.Upsert(ctx, kind, key, store.Patch{
			Status:          statusPtr(models.StatusSuccess),
			TransactionHash: strPtr(result.TxHash),
			UserOpHash:      strPtr(""),
			Snapshot:        &snap,
		})
		if err != nil {
			e.logger.ErrorWithKind(kind, "Failed to persist success for event %s: %v", key.EventID, err)
			return false
		}
		e.confirm(ctx, rec)
		return true

	case result.UserOpHash != "":
		// Accepted but not final: park the operation handle and let the
		// caller poll again later.
		if _, err := e.store.Upsert(ctx, kind, key, store.Patch{
			Status:          statusPtr(models.StatusPendingHash),
			UserOpHash:      strPtr(result.UserOpHash),
			TransactionHash: strPtr(""),
			Snapshot:        &snap,
		}); err != nil {
			e.logger.ErrorWithKind(kind, "Failed to persist operation handle for event %s: %v", key.EventID, err)
		}
		e.logger.InfoWithKind(kind, "Submission accepted for event %s, awaiting hash for op %s", key.EventID, result.UserOpHash)
		return false

	default:
		// Nothing confirmable came back; keep the record pending.
		if _, err := e.store.Upsert(ctx, kind, key, store.Patch{
			Status:   statusPtr(models.StatusPending),
			Snapshot: &snap,
		}); err != nil {
			e.logger.ErrorWithKind(kind, "Failed to persist pending record for event %s: %v", key.EventID, err)
		}
		return false
	}
}

// resolvePending exchanges a parked operation handle for its final hash.
func (e *Engine) resolvePending(ctx context.Context, kind models.Kind, key store.Key, rec *models.Record) bool {
	if rec.UserOpHash == "" {
		// Records that reached PENDING_HASH before hash issuance resolve
		// as successful with no hash.
		updated, err := e.store.Upsert(ctx, kind, key, store.Patch{
			Status: statusPtr(models.StatusSuccess),
		})
		if err != nil {
			e.logger.ErrorWithKind(kind, "Failed to persist success for event %s: %v", key.EventID, err)
			return false
		}
		e.confirm(ctx, updated)
		return true
	}

	result, err := e.wallet.Resolve(ctx, rec.UserOpHash)
	if err != nil {
		if errors.Is(err, wallet.ErrNonRetryable) {
			metrics.WalletCalls.WithLabelValues("resolve", "rejected").Inc()
			e.logger.NoticeWithKind(kind, "Operation %s permanently rejected: %v", rec.UserOpHash, err)
			return e.markFailed(ctx, kind, key, nil)
		}
		metrics.WalletCalls.WithLabelValues("resolve", "error").Inc()
		if e.breakers.RecordFailure(kind) {
			e.logger.NoticeWithKind(kind, "Circuit breaker tripped after status poll failure for op %s", rec.UserOpHash)
		}
		e.logger.ErrorWithKind(kind, "Status poll failed for op %s: %v", rec.UserOpHash, err)
		return false
	}
	metrics.WalletCalls.WithLabelValues("resolve", "ok").Inc()

	if result.TxHash != "" {
		updated, err := e.store.Upsert(ctx, kind, key, store.Patch{
			Status:          statusPtr(models.StatusSuccess),
			TransactionHash: strPtr(result.TxHash),
		})
		if err != nil {
			e.logger.ErrorWithKind(kind, "Failed to persist success for event %s: %v", key.EventID, err)
			return false
		}
		e.confirm(ctx, updated)
		return true
	}

	// Still no hash. The timeout is wall clock, computed from the stored
	// DateAdded, so the check stays idempotent across arbitrarily long gaps
	// between polls.
	if e.now().Sub(rec.DateAdded) >= e.resolveTimeout {
		metrics.ResolutionTimeouts.WithLabelValues(string(kind)).Inc()
		e.logger.NoticeWithKind(kind, "Giving up on op %s after %v", rec.UserOpHash, e.now().Sub(rec.DateAdded))
		return e.markFailed(ctx, kind, key, nil)
	}

	e.logger.DebugWithKind(kind, "Operation %s not yet resolved", rec.UserOpHash)
	return false
}

// markFailed writes the terminal FAILURE status. The intent is resolved as a
// confirmed failure, so the caller gets true.
func (e *Engine) markFailed(ctx context.Context, kind models.Kind, key store.Key, snap *models.Snapshot) bool {
	if _, err := e.store.Upsert(ctx, kind, key, store.Patch{
		Status:   statusPtr(models.StatusFailure),
		Snapshot: snap,
	}); err != nil {
		e.logger.ErrorWithKind(kind, "Failed to persist failure for event %s: %v", key.EventID, err)
		return false
	}
	metrics.IntentsSettled.WithLabelValues(string(kind), "failure").Inc()
	return true
}

// confirm dispatches downstream notifications for a freshly persisted
// SUCCESS record. It runs strictly after the store write has returned.
func (e *Engine) confirm(ctx context.Context, rec *models.Record) {
	metrics.IntentsSettled.WithLabelValues(string(rec.Kind), "success").Inc()
	e.logger.InfoWithKind(rec.Kind, "Settlement confirmed for event %s (tx: %s)", rec.EventID, rec.TransactionHash)
	if e.notifier != nil {
		e.notifier.SettlementConfirmed(ctx, rec)
		metrics.NotificationsSent.WithLabelValues(string(rec.Kind)).Inc()
	}
}

func statusPtr(s models.Status) *models.Status {
	return &s
}

func strPtr(s string) *string {
	return &s
}
