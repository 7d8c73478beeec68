package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/remote"
	"github.com/example/ledgersync/internal/store"
	"github.com/example/ledgersync/pkg/audit"
)

// EventType says how a queue entry ended.
type EventType string

const (
	EventApplied EventType = "applied"
	EventFailed  EventType = "failed"
)

// Event is a confirmation or failure notification for one queue entry.
// The presentation layer subscribes to these instead of polling.
type Event struct {
	EntryID string
	Action  book.SyncAction
	Type    EventType
	Err     string
}

// Backoff bounds the retry delays used while connectivity is down.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the bounded exponential delay for the given attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// DefaultBackoff matches a device that rechecks quickly at first, then
// settles at one probe per minute until connectivity returns.
var DefaultBackoff = Backoff{Base: time.Second, Max: time.Minute}

const idlePoll = 5 * time.Second

// Worker replays the durable queue against the remote backend.
type Worker struct {
	store   *store.Store
	remote  remote.Client
	actor   book.Actor
	logger  *slog.Logger
	journal *audit.Journal
	backoff Backoff

	mu   sync.Mutex
	subs []chan Event
	wake chan struct{}
}

// NewWorker creates a replay worker acting as the given device actor.
func NewWorker(st *store.Store, rc remote.Client, actor book.Actor, logger *slog.Logger, journal *audit.Journal, backoff Backoff) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if backoff.Base == 0 {
		backoff = DefaultBackoff
	}
	return &Worker{
		store:   st,
		remote:  rc,
		actor:   actor,
		logger:  logger,
		journal: journal,
		backoff: backoff,
		wake:    make(chan struct{}, 1),
	}
}

// Subscribe returns a channel of confirmation/failure events. Slow
// subscribers lose events rather than blocking replay.
func (w *Worker) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

// Notify wakes the worker after new entries were enqueued.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run processes the queue until ctx is cancelled. While the backend is
// unreachable the whole queue pauses and replay resumes automatically,
// probing with bounded exponential backoff.
func (w *Worker) Run(ctx context.Context) error {
	offline := 0
	for {
		_, err := w.Pass(ctx)
		switch {
		case err == nil:
			offline = 0
		case book.IsRetryable(err):
			delay := w.backoff.Delay(offline)
			offline++
			w.logger.Info("backend unreachable, pausing replay", "retry_in", delay, "attempt", offline)
			if err := w.sleep(ctx, delay); err != nil {
				return nil
			}
			continue
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}

		if err := w.sleep(ctx, idlePoll); err != nil {
			return nil
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.wake:
		return nil
	case <-timer.C:
		return nil
	}
}

// mark validates the edge against the state machine, then lets the store
// apply it. The SQL guards catch concurrent movers; this catches a
// worker bug before it touches the row.
func (w *Worker) mark(ctx context.Context, q *store.Queries, entry *book.SyncEntry,
	to book.SyncState, lastError string) error {

	if !IsValidTransition(entry.State, to) {
		return &InvalidStateTransitionError{FromState: entry.State, ToState: to, EntryID: entry.ID}
	}
	var err error
	switch to {
	case book.SyncSending:
		err = q.MarkSending(ctx, entry.ID)
	case book.SyncApplied:
		err = q.MarkApplied(ctx, entry.ID)
	case book.SyncPending:
		err = q.MarkPending(ctx, entry.ID, lastError)
	case book.SyncFailed:
		err = q.MarkFailed(ctx, entry.ID, lastError)
	}
	if err != nil {
		return err
	}
	entry.State = to
	return nil
}

// Pass walks the queue once in enqueue order. A transient failure stops
// the pass (strict ordering would be lost otherwise) and is returned; a
// non-retryable failure marks the entry failed and blocks only entries
// that causally depend on it.
func (w *Worker) Pass(ctx context.Context) (applied int, err error) {
	q := w.store.Queries()
	entries, err := q.ListQueue(ctx, book.SyncPending, book.SyncFailed)
	if err != nil {
		return 0, err
	}

	blocked := make(map[string]bool)
	for _, entry := range entries {
		if entry.State == book.SyncFailed {
			blocked[entry.ID] = true
			continue
		}
		if blockedByDependency(entry, blocked) {
			// Stays pending behind the failed dependency.
			blocked[entry.ID] = true
			continue
		}

		if err := w.mark(ctx, q, &entry, book.SyncSending, ""); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Cancelled between listing and sending.
				continue
			}
			return applied, err
		}

		sendErr := w.dispatch(ctx, entry)
		switch {
		case sendErr == nil:
			if err := w.mark(ctx, q, &entry, book.SyncApplied, ""); err != nil {
				return applied, err
			}
			if w.journal != nil {
				w.journal.Append(entry.ID, string(entry.Action), string(entry.Payload))
			}
			w.emit(Event{EntryID: entry.ID, Action: entry.Action, Type: EventApplied})
			applied++

		case book.IsRetryable(sendErr):
			if err := w.mark(ctx, q, &entry, book.SyncPending, sendErr.Error()); err != nil {
				return applied, err
			}
			return applied, sendErr

		default:
			if err := w.mark(ctx, q, &entry, book.SyncFailed, sendErr.Error()); err != nil {
				return applied, err
			}
			blocked[entry.ID] = true
			w.logger.Warn("sync entry rejected", "entry", entry.ID, "action", entry.Action, "error", sendErr)
			w.emit(Event{EntryID: entry.ID, Action: entry.Action, Type: EventFailed, Err: sendErr.Error()})
		}
	}
	return applied, nil
}

func blockedByDependency(entry book.SyncEntry, blocked map[string]bool) bool {
	for _, dep := range entry.DependsOn {
		if blocked[dep] {
			return true
		}
	}
	return false
}

func (w *Worker) dispatch(ctx context.Context, entry book.SyncEntry) error {
	switch entry.Action {
	case book.ActionCreate, book.ActionUpdate, book.ActionSoftDelete, book.ActionRestore, book.ActionPurge:
		var p book.RecordPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode record payload: %w", err)
		}
		switch entry.Action {
		case book.ActionCreate:
			return w.remote.Create(ctx, w.actor, p.Table, p.ID, p.Record)
		case book.ActionUpdate:
			return w.remote.Update(ctx, w.actor, p.Table, p.ID, p.Record)
		case book.ActionSoftDelete:
			return w.remote.SoftDelete(ctx, w.actor, p.Table, p.ID, entry.CreatedAt)
		case book.ActionRestore:
			return w.remote.Restore(ctx, w.actor, p.Table, p.ID)
		default:
			return w.remote.Purge(ctx, w.actor, p.Table, p.ID)
		}

	case book.ActionAllocatePayment:
		var p book.AllocatePaymentPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode allocation payload: %w", err)
		}
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return fmt.Errorf("failed to parse allocation amount: %w", err)
		}
		_, err = w.remote.AllocatePayment(ctx, w.actor, remote.AllocationRequest{
			OpID:           entry.ID,
			ContactID:      p.ContactID,
			Amount:         amount,
			Date:           p.Date,
			Method:         p.Method,
			InstallmentIDs: p.InstallmentIDs,
			AdvanceID:      p.AdvanceID,
		})
		return err

	case book.ActionCreateSnapshot:
		var p book.SnapshotPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode snapshot payload: %w", err)
		}
		_, err := w.remote.GetOrCreateSnapshot(ctx, w.actor, p.Month)
		return err

	case book.ActionDropSnapshots:
		var p book.SnapshotPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode snapshot payload: %w", err)
		}
		return w.remote.DropSnapshots(ctx, w.actor, p.Month)

	default:
		return fmt.Errorf("unknown sync action: %s", entry.Action)
	}
}
