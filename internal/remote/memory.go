package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/ledgersync/internal/allocate"
	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/snapshot"
)

// MemoryClient is an in-memory backend for tests and offline simulation.
// It mirrors the PostgresClient semantics: idempotent creates by id,
// role-scoped writes, recorded allocation operations.
type MemoryClient struct {
	mu      sync.Mutex
	records map[string]map[string]json.RawMessage
	deleted map[string]map[string]bool
	ops     map[string]*AllocationResult

	// Offline makes every call fail with a NetworkError while set.
	Offline bool
	// FailNext is returned (once) by the next mutating call.
	FailNext error
}

// NewMemoryClient creates an empty in-memory backend.
func NewMemoryClient() *MemoryClient {
	mc := &MemoryClient{
		records: make(map[string]map[string]json.RawMessage),
		deleted: make(map[string]map[string]bool),
		ops:     make(map[string]*AllocationResult),
	}
	for _, table := range Tables() {
		mc.records[table] = make(map[string]json.RawMessage)
		mc.deleted[table] = make(map[string]bool)
	}
	return mc
}

// SetOffline toggles simulated connectivity.
func (mc *MemoryClient) SetOffline(offline bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Offline = offline
}

// Count returns the number of records in a table, deleted included.
func (mc *MemoryClient) Count(table string) int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.records[table])
}

func (mc *MemoryClient) gate(actor book.Actor, op string, write bool) error {
	if mc.Offline {
		return &book.NetworkError{Err: errors.New("backend unreachable")}
	}
	if mc.FailNext != nil && write {
		err := mc.FailNext
		mc.FailNext = nil
		return err
	}
	if write && !actor.CanWrite() {
		return &book.AuthorizationError{Role: actor.Role, Operation: op}
	}
	return nil
}

func (mc *MemoryClient) Create(_ context.Context, actor book.Actor, table, id string, record json.RawMessage) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "create "+table, true); err != nil {
		return err
	}
	if _, exists := mc.records[table][id]; exists {
		// Duplicate delivery: already applied, nothing to do.
		return nil
	}
	mc.records[table][id] = append(json.RawMessage(nil), record...)
	return nil
}

func (mc *MemoryClient) Update(_ context.Context, actor book.Actor, table, id string, patch json.RawMessage) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "update "+table, true); err != nil {
		return err
	}
	cur, exists := mc.records[table][id]
	if !exists {
		return &book.ConflictError{Table: table, ID: id, Reason: "record does not exist"}
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(cur, &merged); err != nil {
		return fmt.Errorf("failed to decode stored record: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("failed to decode patch: %w", err)
	}
	for k, v := range fields {
		merged[k] = v
	}
	rec, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode merged record: %w", err)
	}
	mc.records[table][id] = rec
	return nil
}

func (mc *MemoryClient) SoftDelete(_ context.Context, actor book.Actor, table, id string, _ time.Time) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "delete from "+table, true); err != nil {
		return err
	}
	if _, exists := mc.records[table][id]; !exists {
		return &book.ConflictError{Table: table, ID: id, Reason: "record does not exist"}
	}
	mc.deleted[table][id] = true
	return nil
}

func (mc *MemoryClient) Restore(_ context.Context, actor book.Actor, table, id string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "restore in "+table, true); err != nil {
		return err
	}
	if _, exists := mc.records[table][id]; !exists {
		return &book.ConflictError{Table: table, ID: id, Reason: "record does not exist"}
	}
	delete(mc.deleted[table], id)
	return nil
}

func (mc *MemoryClient) Purge(_ context.Context, actor book.Actor, table, id string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "purge from "+table, true); err != nil {
		return err
	}
	if table == TableLedger {
		for iid, rec := range mc.records[TableInstallments] {
			var in book.PaymentInstallment
			if json.Unmarshal(rec, &in) == nil && in.LedgerTransactionID == id {
				delete(mc.records[TableInstallments], iid)
				delete(mc.deleted[TableInstallments], iid)
			}
		}
	}
	delete(mc.records[table], id)
	delete(mc.deleted[table], id)
	return nil
}

func (mc *MemoryClient) Query(_ context.Context, actor book.Actor, table string, filter QueryFilter) ([]json.RawMessage, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "query "+table, false); err != nil {
		return nil, err
	}
	var out []json.RawMessage
	for id, rec := range mc.records[table] {
		if mc.deleted[table][id] && !filter.IncludeDeleted {
			continue
		}
		if !matches(rec, filter.Equals) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func matches(rec json.RawMessage, equals map[string]string) bool {
	if len(equals) == 0 {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal(rec, &fields); err != nil {
		return false
	}
	for k, want := range equals {
		got, ok := fields[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (mc *MemoryClient) AllocatePayment(_ context.Context, actor book.Actor, req AllocationRequest) (*AllocationResult, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "allocate payment", true); err != nil {
		return nil, err
	}

	if prior, ok := mc.ops[req.OpID]; ok {
		return prior, nil
	}

	var outstanding []book.LedgerTransaction
	for id, rec := range mc.records[TableLedger] {
		if mc.deleted[TableLedger][id] {
			continue
		}
		var entry book.LedgerTransaction
		if err := json.Unmarshal(rec, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode ledger record: %w", err)
		}
		if entry.ContactID == req.ContactID &&
			(entry.Kind == book.LedgerPayable || entry.Kind == book.LedgerReceivable) &&
			entry.Status != book.StatusPaid {
			outstanding = append(outstanding, entry)
		}
	}

	plan, err := allocate.Build(req.ContactID, req.Amount, req.Date, req.Method, outstanding, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	plan.AssignIDs(req.InstallmentIDs, req.AdvanceID)

	result := &AllocationResult{Advance: plan.Advance}
	for _, alloc := range plan.Allocations {
		rec, err := json.Marshal(alloc.Entry)
		if err != nil {
			return nil, fmt.Errorf("failed to encode ledger record: %w", err)
		}
		mc.records[TableLedger][alloc.Entry.ID] = rec
		result.LedgerUpdates = append(result.LedgerUpdates, alloc.Entry)
	}
	for _, inst := range plan.Installments {
		rec, err := json.Marshal(inst)
		if err != nil {
			return nil, fmt.Errorf("failed to encode installment: %w", err)
		}
		mc.records[TableInstallments][inst.ID] = rec
		result.Installments = append(result.Installments, inst)
	}
	if plan.Advance != nil {
		rec, err := json.Marshal(plan.Advance)
		if err != nil {
			return nil, fmt.Errorf("failed to encode advance: %w", err)
		}
		mc.records[TableLedger][plan.Advance.ID] = rec
	}

	mc.ops[req.OpID] = result
	return result, nil
}

func (mc *MemoryClient) GetOrCreateSnapshot(_ context.Context, actor book.Actor, month time.Time) (*book.MonthlySnapshot, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	month = book.MonthStart(month)

	if mc.Offline {
		return nil, &book.NetworkError{Err: errors.New("backend unreachable")}
	}
	for id, rec := range mc.records[TableSnapshots] {
		var snap book.MonthlySnapshot
		if json.Unmarshal(rec, &snap) == nil && snap.Month.Equal(month) && !mc.deleted[TableSnapshots][id] {
			return &snap, nil
		}
	}

	if !actor.CanWrite() {
		return nil, &book.AuthorizationError{Role: actor.Role, Operation: "create snapshot"}
	}

	fins, err := decodeLive[book.FinancialTransaction](mc, TableFinancial, month)
	if err != nil {
		return nil, err
	}
	stocks, err := decodeLive[book.StockTransaction](mc, TableStock, month)
	if err != nil {
		return nil, err
	}
	entries, err := decodeLive[book.LedgerTransaction](mc, TableLedger, month)
	if err != nil {
		return nil, err
	}
	installments := make(map[string][]book.PaymentInstallment)
	for id, rec := range mc.records[TableInstallments] {
		if mc.deleted[TableInstallments][id] {
			continue
		}
		var in book.PaymentInstallment
		if err := json.Unmarshal(rec, &in); err != nil {
			return nil, fmt.Errorf("failed to decode installment: %w", err)
		}
		installments[in.LedgerTransactionID] = append(installments[in.LedgerTransactionID], in)
	}

	snap, err := snapshot.ComputeFrom(month, fins, stocks, entries, installments)
	if err != nil {
		return nil, err
	}
	rec, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	mc.records[TableSnapshots][snap.ID] = rec
	return snap, nil
}

func (mc *MemoryClient) DropSnapshots(_ context.Context, actor book.Actor, from time.Time) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "drop snapshots", true); err != nil {
		return err
	}
	from = book.MonthStart(from)
	for id, rec := range mc.records[TableSnapshots] {
		var snap book.MonthlySnapshot
		if json.Unmarshal(rec, &snap) == nil && !snap.Month.Before(from) {
			delete(mc.records[TableSnapshots], id)
			delete(mc.deleted[TableSnapshots], id)
		}
	}
	return nil
}

func (mc *MemoryClient) ExportAll(_ context.Context, actor book.Actor) (map[string][]json.RawMessage, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "export", false); err != nil {
		return nil, err
	}
	out := make(map[string][]json.RawMessage, len(mc.records))
	for table, recs := range mc.records {
		for _, rec := range recs {
			out[table] = append(out[table], append(json.RawMessage(nil), rec...))
		}
	}
	return out, nil
}

func (mc *MemoryClient) ImportAll(_ context.Context, actor book.Actor, payload map[string][]json.RawMessage) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.gate(actor, "import", true); err != nil {
		return err
	}
	for _, table := range Tables() {
		recs, ok := payload[table]
		if !ok {
			continue
		}
		mc.records[table] = make(map[string]json.RawMessage)
		mc.deleted[table] = make(map[string]bool)
		for _, rec := range recs {
			id := recordID(rec)
			if id == "" {
				return &book.ValidationError{Field: "record", Reason: "missing id in import payload for " + table}
			}
			mc.records[table][id] = append(json.RawMessage(nil), rec...)
		}
	}
	return nil
}

// decodeLive decodes the non-deleted records of a table dated strictly
// before month. A zero month admits everything.
func decodeLive[T any](mc *MemoryClient, table string, month time.Time) ([]T, error) {
	var out []T
	for id, rec := range mc.records[table] {
		if mc.deleted[table][id] {
			continue
		}
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("failed to decode record from %s: %w", table, err)
		}
		if !month.IsZero() {
			if d, ok := dateOf(any(v)); ok && !d.Before(month) {
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func dateOf(v any) (time.Time, bool) {
	switch t := v.(type) {
	case book.FinancialTransaction:
		return t.Date, true
	case book.StockTransaction:
		return t.Date, true
	case book.LedgerTransaction:
		return t.Date, true
	default:
		return time.Time{}, false
	}
}
