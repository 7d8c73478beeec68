// Package snapshot produces and caches monthly balance checkpoints,
// bounding the cost of balance recomputation.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/store"
)

const cacheTTL = 24 * time.Hour

// Service computes, persists and serves monthly checkpoints.
type Service struct {
	store  *store.Store
	cache  Cache
	logger *slog.Logger
}

// NewService creates a snapshot service. Pass NoopCache{} to run without
// redis.
func NewService(st *store.Store, cache Cache, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cache: cache, logger: logger}
}

// GetOrCreate returns the checkpoint for month, creating it from a full
// replay when missing. Reading an existing checkpoint needs no role;
// creating one requires admin. A concurrent creator losing the unique-month
// race discards its result and re-reads the winner's row.
func (s *Service) GetOrCreate(ctx context.Context, actor book.Actor, month time.Time) (*book.MonthlySnapshot, error) {
	month = book.MonthStart(month)
	q := s.store.Queries()

	if snap, ok, err := s.cache.Get(ctx, month); err == nil && ok {
		return snap, nil
	} else if err != nil {
		s.logger.Warn("snapshot cache read failed", "month", month, "error", err)
	}

	snap, err := q.GetSnapshot(ctx, month)
	if err == nil {
		s.cacheSet(ctx, snap)
		return snap, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if !actor.CanWrite() {
		return nil, &book.AuthorizationError{Role: actor.Role, Operation: "create snapshot"}
	}

	computed, err := s.Compute(ctx, month)
	if err != nil {
		return nil, err
	}

	if err := q.InsertSnapshot(ctx, *computed); err != nil {
		if errors.Is(err, store.ErrSnapshotExists) {
			winner, err := q.GetSnapshot(ctx, month)
			if err != nil {
				return nil, err
			}
			s.cacheSet(ctx, winner)
			return winner, nil
		}
		return nil, err
	}

	s.logger.Info("snapshot created", "month", month.Format("2006-01"))
	s.cacheSet(ctx, computed)
	return computed, nil
}

// Compute replays every non-deleted transaction dated strictly before the
// first day of month into a fresh checkpoint. It does not persist.
func (s *Service) Compute(ctx context.Context, month time.Time) (*book.MonthlySnapshot, error) {
	month = book.MonthStart(month)
	q := s.store.Queries()

	fins, err := q.ListFinancial(ctx, store.FinancialFilter{To: &month})
	if err != nil {
		return nil, fmt.Errorf("failed to replay financial history: %w", err)
	}
	stocks, err := q.ListStock(ctx, store.StockFilter{To: &month})
	if err != nil {
		return nil, fmt.Errorf("failed to replay stock history: %w", err)
	}
	entries, err := q.ListLedger(ctx, store.LedgerFilter{
		Kinds: []book.LedgerKind{book.LedgerPayable, book.LedgerReceivable},
		To:    &month,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger history: %w", err)
	}
	installments := make(map[string][]book.PaymentInstallment, len(entries))
	for _, entry := range entries {
		ins, err := q.ListInstallments(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		installments[entry.ID] = ins
	}

	return ComputeFrom(month, fins, stocks, entries, installments)
}

// Invalidate drops every checkpoint for month and later, so they are
// recomputed on next use. Admin only; this is the administrative
// regeneration path for backdated history.
func (s *Service) Invalidate(ctx context.Context, actor book.Actor, from time.Time) (int64, error) {
	if !actor.CanWrite() {
		return 0, &book.AuthorizationError{Role: actor.Role, Operation: "invalidate snapshots"}
	}
	from = book.MonthStart(from)
	q := s.store.Queries()

	latest, err := q.LatestSnapshotMonth(ctx)
	if err != nil {
		return 0, err
	}

	n, err := q.DeleteSnapshotsFrom(ctx, from)
	if err != nil {
		return 0, err
	}

	for m := from; !latest.IsZero() && !m.After(latest); m = m.AddDate(0, 1, 0) {
		if err := s.cache.Invalidate(ctx, m); err != nil {
			s.logger.Warn("snapshot cache invalidation failed", "month", m, "error", err)
		}
	}

	if n > 0 {
		s.logger.Info("snapshots invalidated", "from", from.Format("2006-01"), "count", n)
	}
	return n, nil
}

func (s *Service) cacheSet(ctx context.Context, snap *book.MonthlySnapshot) {
	if err := s.cache.Set(ctx, snap, cacheTTL); err != nil {
		s.logger.Warn("snapshot cache write failed", "month", snap.Month, "error", err)
	}
}
