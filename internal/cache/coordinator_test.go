package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-delivery-console/internal/domain"
	"github.com/tbourn/go-delivery-console/internal/remote"
	"github.com/tbourn/go-delivery-console/internal/store"
)

// fakeRemote is a controllable Remote. Gates, when set, make the matching
// call block until the channel is closed, so tests can observe the cache
// while a mutation is in flight.
type fakeRemote struct {
	mu sync.Mutex

	list []domain.Delivery

	listCount, createCount, updateCount, deleteCount int

	listErr, createErr, updateErr, deleteErr error

	listGate, createGate, updateGate, deleteGate chan struct{}

	createResult *domain.Delivery // overrides the echoed record when set
}

func (f *fakeRemote) List(ctx context.Context) ([]domain.Delivery, error) {
	f.mu.Lock()
	f.listCount++
	gate, err := f.listGate, f.listErr
	data := append([]domain.Delivery(nil), f.list...)
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *fakeRemote) Create(ctx context.Context, d domain.Delivery) (domain.Delivery, error) {
	f.mu.Lock()
	f.createCount++
	gate, err, res := f.createGate, f.createErr, f.createResult
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.Delivery{}, err
	}
	if res != nil {
		return *res, nil
	}
	return d, nil
}

func (f *fakeRemote) Update(ctx context.Context, id int64, patch domain.DeliveryPatch) (domain.Delivery, error) {
	f.mu.Lock()
	f.updateCount++
	gate, err := f.updateGate, f.updateErr
	var base domain.Delivery
	for _, d := range f.list {
		if d.ID == id {
			base = d
		}
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.Delivery{}, err
	}
	if base.ID == 0 {
		base = domain.Delivery{ID: id}
	}
	return patch.Apply(base), nil
}

func (f *fakeRemote) Delete(ctx context.Context, id int64) (remote.Ack, error) {
	f.mu.Lock()
	f.deleteCount++
	gate, err := f.deleteGate, f.deleteErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return remote.Ack{}, err
	}
	return remote.Ack{Success: true, ID: id}, nil
}

func (f *fakeRemote) calls() (list, create, update, del int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCount, f.createCount, f.updateCount, f.deleteCount
}

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func seedRecords() []domain.Delivery {
	return []domain.Delivery{
		{ID: 1, Date: "2026-09-01", Recipient: "Ada", Address: "1 Loop Rd", Status: domain.StatusPending},
		{ID: 2, Date: "2026-09-02", Recipient: "Bob", Address: "2 Loop Rd", Status: domain.StatusInTransit},
	}
}

// newLoaded returns a coordinator that already holds the seed collection.
func newLoaded(t *testing.T, f *fakeRemote) (*Coordinator, *store.Store) {
	t.Helper()
	st := store.New()
	c := New(f, st, WithClock(testClock))
	res := c.Deliveries(context.Background())
	if res.Err != nil {
		t.Fatalf("initial load: %v", res.Err)
	}
	return c, st
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDeliveries_ServesCacheWithoutRefetch(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, st := newLoaded(t, f)

	res := c.Deliveries(context.Background())
	if res.IsLoading || res.Err != nil {
		t.Fatalf("cached read should be settled: %+v", res)
	}
	if len(res.Data) != 2 || res.Data[0].ID != 2 {
		t.Fatalf("cached data wrong or unsorted: %+v", res.Data)
	}
	if list, _, _, _ := f.calls(); list != 1 {
		t.Fatalf("cached read must not refetch: %d list calls", list)
	}
	if st.Len() != 2 {
		t.Fatalf("store not populated: %d", st.Len())
	}
}

func TestDeliveries_ConcurrentReadersShareOneFetch(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeRemote{list: seedRecords(), listGate: gate}
	c := New(f, store.New(), WithClock(testClock))

	const readers = 16
	var wg sync.WaitGroup
	results := make([]Result, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Deliveries(context.Background())
		}(i)
	}

	// Let every reader reach the in-flight fetch before releasing it.
	waitFor(t, func() bool { l, _, _, _ := f.calls(); return l >= 1 }, "fetch never started")
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if list, _, _, _ := f.calls(); list != 1 {
		t.Fatalf("expected exactly one list call, got %d", list)
	}
	for i, res := range results {
		if res.Err != nil || len(res.Data) != 2 {
			t.Fatalf("reader %d got %+v", i, res)
		}
	}
}

func TestDeliveries_FailedReadNoData(t *testing.T) {
	f := &fakeRemote{listErr: errors.New("unreachable")}
	c := New(f, store.New(), WithClock(testClock))

	res := c.Deliveries(context.Background())
	if res.Err == nil || res.Data != nil {
		t.Fatalf("expected error state, got %+v", res)
	}

	// Errored -> Loading on retry.
	f.mu.Lock()
	f.listErr = nil
	f.list = seedRecords()
	f.mu.Unlock()

	res = c.Deliveries(context.Background())
	if res.Err != nil || len(res.Data) != 2 {
		t.Fatalf("retry should recover: %+v", res)
	}
}

func TestRefetch_FailurePreservesStaleData(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, st := newLoaded(t, f)

	f.mu.Lock()
	f.listErr = errors.New("backend down")
	f.mu.Unlock()

	if err := c.Refetch(context.Background()); err == nil {
		t.Fatal("refetch should report the failure")
	}

	res := c.Deliveries(context.Background())
	if res.Err != nil {
		t.Fatalf("stale data should mask the error: %+v", res)
	}
	if len(res.Data) != 2 || st.Len() != 2 {
		t.Fatalf("good data was cleared by a failed refetch: %+v", res.Data)
	}
}

func TestUpdate_OptimisticThenConfirmed(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeRemote{list: seedRecords(), updateGate: gate}
	c, st := newLoaded(t, f)

	st1 := domain.StatusDelivered
	done := make(chan error, 1)
	go func() {
		_, err := c.UpdateDelivery(context.Background(), 1, domain.DeliveryPatch{Status: &st1})
		done <- err
	}()

	// Optimism visibility: the mutation is visible before the call settles.
	waitFor(t, func() bool {
		d, ok := st.Get(1)
		return ok && d.Status == domain.StatusDelivered
	}, "optimistic update not visible in store")
	if c.PendingMutations() != 1 {
		t.Fatalf("expected one pending mutation, got %d", c.PendingMutations())
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if c.PendingMutations() != 0 {
		t.Fatal("pending mutation not cleared after confirm")
	}
	if d, _ := st.Get(1); d.Status != domain.StatusDelivered {
		t.Fatalf("confirmed state lost: %+v", d)
	}
}

func TestUpdate_RollbackRestoresDispatchSnapshot(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, st := newLoaded(t, f)

	before := st.Snapshot()

	f.mu.Lock()
	f.updateErr = errors.New("rejected")
	f.mu.Unlock()

	st1 := domain.StatusDelivered
	_, err := c.UpdateDelivery(context.Background(), 1, domain.DeliveryPatch{Status: &st1})
	if err == nil {
		t.Fatal("update should surface the remote failure")
	}

	// Rollback correctness: snapshot equals the dispatch snapshot exactly.
	after := st.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rollback incomplete:\nbefore %+v\nafter  %+v", before, after)
	}
	if c.PendingMutations() != 0 {
		t.Fatal("pending mutation survived rollback")
	}

	res := c.Deliveries(context.Background())
	if !reflect.DeepEqual(res.Data, after) {
		t.Fatalf("cache and store diverged after rollback:\ncache %+v\nstore %+v", res.Data, after)
	}
}

func TestDelete_OptimisticAndSettled(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, st := newLoaded(t, f)

	if err := c.DeleteDelivery(context.Background(), 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap := st.Snapshot()
	if len(snap) != 1 || snap[0].ID != 2 {
		t.Fatalf("expected only id 2, got %+v", snap)
	}
	if c.PendingMutations() != 0 {
		t.Fatal("pending mutation not cleared")
	}
}

func TestDelete_IdempotentOnAbsentID(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, st := newLoaded(t, f)

	if err := c.DeleteDelivery(context.Background(), 42); err != nil {
		t.Fatalf("deleting an absent id must not error: %v", err)
	}
	if _, _, _, del := f.calls(); del != 0 {
		t.Fatalf("deleting an absent id must not hit the network: %d calls", del)
	}
	if st.Len() != 2 {
		t.Fatalf("collection altered: %d records", st.Len())
	}
}

func TestDelete_RollbackReinsertsRecord(t *testing.T) {
	f := &fakeRemote{list: seedRecords(), deleteErr: errors.New("rejected")}
	c, st := newLoaded(t, f)

	before := st.Snapshot()
	if err := c.DeleteDelivery(context.Background(), 1); err == nil {
		t.Fatal("delete should surface the remote failure")
	}
	if !reflect.DeepEqual(before, st.Snapshot()) {
		t.Fatalf("delete rollback incomplete: %+v", st.Snapshot())
	}
}

func TestCreate_RollbackRemovesRecord(t *testing.T) {
	f := &fakeRemote{list: seedRecords(), createErr: errors.New("rejected")}
	c, st := newLoaded(t, f)

	_, err := c.CreateDelivery(context.Background(), domain.Delivery{
		Date: "2026-09-05", Recipient: "Eve", Address: "5 Loop Rd", Status: domain.StatusPending,
	})
	if err == nil {
		t.Fatal("create should surface the remote failure")
	}
	if st.Len() != 2 {
		t.Fatalf("optimistic create not rolled back: %d records", st.Len())
	}
}

func TestCreate_ServerRewritesProvisionalID(t *testing.T) {
	canonical := domain.Delivery{ID: 999, Date: "2026-09-05", Recipient: "Eve", Address: "5 Loop Rd", Status: domain.StatusPending}
	f := &fakeRemote{list: seedRecords(), createResult: &canonical}
	c, st := newLoaded(t, f)

	got, err := c.CreateDelivery(context.Background(), domain.Delivery{
		Date: "2026-09-05", Recipient: "Eve", Address: "5 Loop Rd", Status: domain.StatusPending,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.ID != 999 {
		t.Fatalf("expected canonical id, got %+v", got)
	}
	if _, ok := st.Get(999); !ok {
		t.Fatal("canonical record missing from store")
	}
	if st.Len() != 3 {
		t.Fatalf("provisional record not replaced: %d records", st.Len())
	}
}

func TestCreate_PastDateRejectedBeforeNetwork(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, st := newLoaded(t, f)

	_, err := c.CreateDelivery(context.Background(), domain.Delivery{
		Date: "2026-08-29", Recipient: "Eve", Address: "5 Loop Rd", Status: domain.StatusPending,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, create, _, _ := f.calls(); create != 0 {
		t.Fatalf("validation failure must not hit the network: %d calls", create)
	}
	if st.Len() != 2 {
		t.Fatal("rejected create leaked into the collection")
	}
}

func TestUpdate_NotFoundIsSurfaced(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, _ := newLoaded(t, f)

	st1 := domain.StatusDelivered
	_, err := c.UpdateDelivery(context.Background(), 42, domain.DeliveryPatch{Status: &st1})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Two mutations on the same record: A (status) is still in flight when B
// (recipient) dispatches and settles. A then fails; its rollback must revert
// only the status field, leaving B's recipient in place.
func TestRollback_DoesNotClobberConcurrentMutation(t *testing.T) {
	gateA := make(chan struct{})
	f := &fakeRemote{list: seedRecords(), updateGate: gateA, updateErr: errors.New("rejected")}
	c, st := newLoaded(t, f)

	stA := domain.StatusDelivered
	doneA := make(chan error, 1)
	go func() {
		_, err := c.UpdateDelivery(context.Background(), 1, domain.DeliveryPatch{Status: &stA})
		doneA <- err
	}()
	waitFor(t, func() bool { return c.PendingMutations() == 1 }, "mutation A never dispatched")

	// B dispatches while A is in flight and settles successfully.
	f.mu.Lock()
	f.updateGate = nil
	f.updateErr = nil
	f.mu.Unlock()
	rec := "Grace"
	if _, err := c.UpdateDelivery(context.Background(), 1, domain.DeliveryPatch{Recipient: &rec}); err != nil {
		t.Fatalf("mutation B: %v", err)
	}

	// Now fail A.
	f.mu.Lock()
	f.updateErr = errors.New("rejected")
	f.mu.Unlock()
	close(gateA)
	if err := <-doneA; err == nil {
		t.Fatal("mutation A should fail")
	}

	got, _ := st.Get(1)
	if got.Status != domain.StatusPending {
		t.Fatalf("A's status change not rolled back: %+v", got)
	}
	if got.Recipient != "Grace" {
		t.Fatalf("rollback of A clobbered B's effect: %+v", got)
	}
}

func TestSettledMutation_InvalidatesCache(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, _ := newLoaded(t, f)

	st1 := domain.StatusDelivered
	if _, err := c.UpdateDelivery(context.Background(), 1, domain.DeliveryPatch{Status: &st1}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Stale-while-revalidate: the read serves current data immediately and
	// revalidates in the background.
	res := c.Deliveries(context.Background())
	if len(res.Data) != 2 {
		t.Fatalf("stale read should still serve data: %+v", res)
	}
	if !res.Stale && !res.IsLoading {
		t.Fatalf("read after settled mutation should be revalidating: %+v", res)
	}
	waitFor(t, func() bool { l, _, _, _ := f.calls(); return l >= 2 }, "background revalidation never ran")

	waitFor(t, func() bool { return !c.Deliveries(context.Background()).Stale }, "cache never became fresh")
}

func TestStoreAndCacheConverge(t *testing.T) {
	f := &fakeRemote{list: seedRecords()}
	c, st := newLoaded(t, f)

	rec := "Grace"
	if _, err := c.UpdateDelivery(context.Background(), 2, domain.DeliveryPatch{Recipient: &rec}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.DeleteDelivery(context.Background(), 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.CreateDelivery(context.Background(), domain.Delivery{
		Date: "2026-09-09", Recipient: "Eve", Address: "5 Loop Rd", Status: domain.StatusPending,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Take the store snapshot first: reading the cache afterwards kicks off
	// a background revalidation that would replace both with server truth.
	want := st.Snapshot()
	res := c.Deliveries(context.Background())
	if !reflect.DeepEqual(res.Data, want) {
		t.Fatalf("cache and store diverged after settled operations:\ncache %+v\nstore %+v", res.Data, want)
	}
}
