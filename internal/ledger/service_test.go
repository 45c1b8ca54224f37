package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prismstudio/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory ledger implementing EntryStore and BalanceStore. Begin takes the
// store lock until Commit/Rollback, AppendTx enforces the (job_id,
// entry_type) uniqueness guard, and Rollback replays an undo log, mirroring
// the storage-layer atomicity Refund depends on.
// ---------------------------------------------------------------------------

type memLedger struct {
	mu        sync.Mutex
	balances  map[uuid.UUID]int64
	entries   []*models.LedgerEntry
	entryKeys map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances:  make(map[uuid.UUID]int64),
		entryKeys: make(map[string]bool),
	}
}

type memLedgerTx struct {
	noopTx
	store *memLedger
	undo  []func()
	done  bool
}

func (s *memLedger) Begin(ctx context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	return &memLedgerTx{store: s}, nil
}

func (t *memLedgerTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memLedgerTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	return nil
}

func (s *memLedger) AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	t := tx.(*memLedgerTx)
	if e.JobID != nil {
		key := e.JobID.String() + "|" + e.EntryType
		if s.entryKeys[key] {
			return &pgconn.PgError{Code: "23505", ConstraintName: "ledger_entries_job_id_entry_type_key"}
		}
		s.entryKeys[key] = true
		t.undo = append(t.undo, func() { delete(s.entryKeys, key) })
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	t.undo = append(t.undo, func() { s.entries = s.entries[:len(s.entries)-1] })
	return nil
}

func (s *memLedger) CreditTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) error {
	t := tx.(*memLedgerTx)
	s.balances[id] += amount
	t.undo = append(t.undo, func() { s.balances[id] -= amount })
	return nil
}

func (s *memLedger) FindEntry(ctx context.Context, jobID uuid.UUID, entryType string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.JobID != nil && *e.JobID == jobID && e.EntryType == entryType {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memLedger) SumDeltas(ctx context.Context, workspaceID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, e := range s.entries {
		if e.WorkspaceID == workspaceID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func (s *memLedger) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID, projectID *uuid.UUID) ([]*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range s.entries {
		if e.WorkspaceID != workspaceID {
			continue
		}
		if projectID != nil && (e.ProjectID == nil || *e.ProjectID != *projectID) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memLedger) balance(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[id]
}

func (s *memLedger) refundEntries(jobID uuid.UUID) []*models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range s.entries {
		if e.JobID != nil && *e.JobID == jobID && e.EntryType == models.LedgerEntryRefund {
			out = append(out, e)
		}
	}
	return out
}

// noopTx satisfies pgx.Tx for the embedded base of memLedgerTx.
type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// chargedJob seeds a workspace with postChargeBalance, a job, and its charge
// entry of the given cost, as admission would have left them.
func chargedJob(store *memLedger, postChargeBalance, cost int64) *models.Job {
	wsID := uuid.New()
	jobID := uuid.New()
	store.balances[wsID] = postChargeBalance
	store.entries = append(store.entries, &models.LedgerEntry{
		ID:          uuid.New(),
		WorkspaceID: wsID,
		JobID:       &jobID,
		EntryType:   models.LedgerEntryCharge,
		Delta:       -cost,
		Reason:      "gen_video job",
	})
	store.entryKeys[jobID.String()+"|"+models.LedgerEntryCharge] = true
	return &models.Job{ID: jobID, WorkspaceID: wsID, Kind: models.JobKindGenVideo, Status: models.JobStatusFailed}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// Entries come back in the order they were appended, including a charge and
// its refund written within the same timestamp resolution; readers reconstruct
// a job's history from that order alone.
func TestListLedger_AppendOrder(t *testing.T) {
	store := newMemLedger()
	job := chargedJob(store, 975, 25)
	svc := NewService(store, store)
	ctx := context.Background()

	if _, err := svc.Refund(ctx, job, "gen_video job failed"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	entries, err := svc.ListLedger(ctx, job.WorkspaceID, nil)
	if err != nil {
		t.Fatalf("ListLedger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].EntryType != models.LedgerEntryCharge || entries[1].EntryType != models.LedgerEntryRefund {
		t.Errorf("order: got [%s %s], want [charge refund]", entries[0].EntryType, entries[1].EntryType)
	}
}

func TestRefund_RestoresBalanceExactlyOnce(t *testing.T) {
	store := newMemLedger()
	job := chargedJob(store, 975, 25)
	svc := NewService(store, store)
	ctx := context.Background()

	res, err := svc.Refund(ctx, job, "gen_video job failed")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if !res.Refunded || res.AlreadyRefunded {
		t.Errorf("first refund: got %+v, want Refunded=true", res)
	}
	if got := store.balance(job.WorkspaceID); got != 1000 {
		t.Errorf("balance after refund: got %d, want 1000", got)
	}
	refunds := store.refundEntries(job.ID)
	if len(refunds) != 1 {
		t.Fatalf("refund entries: got %d, want 1", len(refunds))
	}
	if refunds[0].Delta != 25 {
		t.Errorf("refund delta: got %d, want 25", refunds[0].Delta)
	}

	// Second attempt: uniqueness guard rejects the insert, balance untouched.
	res, err = svc.Refund(ctx, job, "gen_video job failed")
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}
	if res.Refunded || !res.AlreadyRefunded {
		t.Errorf("second refund: got %+v, want AlreadyRefunded=true", res)
	}
	if got := store.balance(job.WorkspaceID); got != 1000 {
		t.Errorf("balance after second refund: got %d, want 1000", got)
	}
	if n := len(store.refundEntries(job.ID)); n != 1 {
		t.Errorf("refund entries after second attempt: got %d, want 1", n)
	}
}

// Ten workers calling Refund on the same job simultaneously: exactly one
// refund entry, balance restored by exactly the charge amount.
func TestRefund_Concurrent(t *testing.T) {
	store := newMemLedger()
	job := chargedJob(store, 975, 25)
	svc := NewService(store, store)
	ctx := context.Background()

	const n = 10
	results := make([]RefundResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Refund(ctx, job, "gen_video job failed")
		}(i)
	}
	wg.Wait()

	refunded := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if results[i].Refunded {
			refunded++
		}
	}
	if refunded != 1 {
		t.Errorf("refunded count: got %d, want exactly 1", refunded)
	}
	if got := store.balance(job.WorkspaceID); got != 1000 {
		t.Errorf("balance: got %d, want 1000", got)
	}
	if n := len(store.refundEntries(job.ID)); n != 1 {
		t.Errorf("refund entries: got %d, want 1", n)
	}
}

func TestRefund_NoChargeIsNoop(t *testing.T) {
	store := newMemLedger()
	job := &models.Job{ID: uuid.New(), WorkspaceID: uuid.New(), Kind: models.JobKindGenImage}
	svc := NewService(store, store)

	res, err := svc.Refund(context.Background(), job, "gen_image job failed")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if res.Refunded || res.AlreadyRefunded {
		t.Errorf("refund of uncharged job: got %+v, want no-op", res)
	}
	if n := len(store.refundEntries(job.ID)); n != 0 {
		t.Errorf("refund entries: got %d, want 0", n)
	}
}

// Charge/refund symmetry: the ledger holds one negative and one positive
// entry for the job, equal in magnitude, and the deltas sum to zero.
func TestRefund_ChargeSymmetry(t *testing.T) {
	store := newMemLedger()
	job := chargedJob(store, 975, 25)
	svc := NewService(store, store)

	if _, err := svc.Refund(context.Background(), job, "gen_video job failed"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	sum, err := svc.SumDeltas(context.Background(), job.WorkspaceID)
	if err != nil {
		t.Fatalf("SumDeltas: %v", err)
	}
	if sum != 0 {
		t.Errorf("delta sum: got %d, want 0", sum)
	}
	entries, err := svc.ListLedger(context.Background(), job.WorkspaceID, nil)
	if err != nil {
		t.Fatalf("ListLedger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Delta != -entries[1].Delta {
		t.Errorf("charge and refund not symmetric: %d vs %d", entries[0].Delta, entries[1].Delta)
	}
}

func TestFindRefundEntry(t *testing.T) {
	store := newMemLedger()
	job := chargedJob(store, 975, 25)
	svc := NewService(store, store)
	ctx := context.Background()

	e, err := svc.FindRefundEntry(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindRefundEntry: %v", err)
	}
	if e != nil {
		t.Error("expected no refund entry before refund")
	}
	if _, err := svc.Refund(ctx, job, "gen_video job failed"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	e, err = svc.FindRefundEntry(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindRefundEntry: %v", err)
	}
	if e == nil || e.Delta != 25 {
		t.Errorf("refund entry after refund: got %+v, want delta 25", e)
	}
}
