// Package cache implements the coordinator that sits between the UI-facing
// read/write API and the backing deliveries service.
//
// The coordinator owns one cached query result (the full collection) plus
// zero or more in-flight mutations. Reads are served from cache; a stale or
// absent cache triggers a (coalesced) fetch that also repopulates the
// collection store. Writes are applied optimistically to the cached snapshot
// and the store before the remote call is issued, and are rolled back with a
// field-level inverse when the remote call fails, so the cache never keeps
// showing a mutation the server rejected.
//
// Locking: the cached snapshot and the collection store are mutated only
// here, and always under one mutex, so an apply or rollback step can never
// interleave with another. Store observers run inside that step and must not
// call back into the coordinator.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-delivery-console/internal/domain"
	"github.com/tbourn/go-delivery-console/internal/remote"
	"github.com/tbourn/go-delivery-console/internal/store"
)

// Remote is the backing-service contract consumed by the coordinator.
// *remote.Client satisfies it; tests substitute fakes.
type Remote interface {
	List(ctx context.Context) ([]domain.Delivery, error)
	Create(ctx context.Context, d domain.Delivery) (domain.Delivery, error)
	Update(ctx context.Context, id int64, patch domain.DeliveryPatch) (domain.Delivery, error)
	Delete(ctx context.Context, id int64) (remote.Ack, error)
}

// queryState is the lifecycle of the single cached list query.
type queryState int

const (
	stateAbsent queryState = iota
	stateLoading
	stateLoaded
	stateErrored
)

func (s queryState) String() string {
	switch s {
	case stateAbsent:
		return "absent"
	case stateLoading:
		return "loading"
	case stateLoaded:
		return "loaded"
	case stateErrored:
		return "errored"
	}
	return "unknown"
}

// Result is the read accessor's answer: the current data (possibly stale),
// whether a fetch is in flight, and the fetch error when no data exists.
type Result struct {
	Data      []domain.Delivery
	IsLoading bool
	Stale     bool
	Err       error
	FetchedAt time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l.With().Str("component", "cache").Logger() }
}

// WithClock overrides the time source. Used by tests to pin "today" for
// date validation and provisional id generation.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator bridges the cached query result, the collection store, and the
// backing service. Construct with New; safe for concurrent use.
type Coordinator struct {
	remote Remote
	store  *store.Store
	log    zerolog.Logger
	now    func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	state      queryState
	data       []domain.Delivery // cached snapshot, id-descending
	fetchedAt  time.Time
	fetchErr   error
	stale      bool
	refreshing bool
	pending    map[string]*pendingMutation
}

// New returns a Coordinator backed by rc and bridging into st.
func New(rc Remote, st *store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:  rc,
		store:   st,
		log:     zerolog.Nop(),
		now:     time.Now,
		state:   stateAbsent,
		pending: make(map[string]*pendingMutation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

//
// Read path
//

// Deliveries returns the cached collection.
//
// Loaded and fresh: the cached value is returned synchronously with no
// network call. Loaded but invalidated: the current data is returned
// immediately and a background revalidation is started (stale-while-
// revalidate). Absent or errored: the call blocks on a fetch; concurrent
// callers attach to the same in-flight fetch rather than issuing duplicates.
func (c *Coordinator) Deliveries(ctx context.Context) Result {
	c.mu.Lock()
	if c.state == stateLoaded {
		if !c.stale {
			res := c.resultLocked()
			c.mu.Unlock()
			return res
		}
		start := !c.refreshing
		if start {
			c.refreshing = true
		}
		res := c.resultLocked()
		res.IsLoading = true
		c.mu.Unlock()
		if start {
			go func() { _ = c.fetch(context.WithoutCancel(ctx), false) }()
		}
		return res
	}
	c.mu.Unlock()

	_ = c.fetch(ctx, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resultLocked()
}

// Refetch forces a fetch regardless of cache state and blocks until it
// settles. A failed refetch preserves previously loaded data.
func (c *Coordinator) Refetch(ctx context.Context) error {
	return c.fetch(ctx, true)
}

// Invalidate marks the cached result stale. The data keeps serving; the next
// read triggers a background revalidation.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// PendingMutations reports how many mutations are currently in flight.
func (c *Coordinator) PendingMutations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// resultLocked builds a Result from current state. Caller holds c.mu.
// The fetch error surfaces only when there is no previous data to serve.
func (c *Coordinator) resultLocked() Result {
	res := Result{
		IsLoading: c.state == stateLoading || c.refreshing,
		Stale:     c.stale,
		FetchedAt: c.fetchedAt,
	}
	if c.data != nil {
		res.Data = append([]domain.Delivery(nil), c.data...)
	} else {
		res.Err = c.fetchErr
	}
	return res
}

// fetch performs the list call, coalesced through singleflight so at most
// one fetch is outstanding at a time. On success the cached snapshot and the
// collection store are replaced wholesale; on failure a previously loaded
// value is preserved.
func (c *Coordinator) fetch(ctx context.Context, transition bool) error {
	_, err, _ := c.group.Do("deliveries", func() (any, error) {
		c.mu.Lock()
		if transition && c.state != stateLoaded {
			c.state = stateLoading
		}
		c.refreshing = true
		c.mu.Unlock()

		list, err := c.remote.List(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.refreshing = false
		if err != nil {
			listFetches.WithLabelValues("error").Inc()
			c.fetchErr = err
			if c.data != nil {
				c.state = stateLoaded // keep serving stale data
			} else {
				c.state = stateErrored
			}
			c.log.Warn().Err(err).Stringer("state", c.state).Msg("list fetch failed")
			return nil, err
		}

		sortByIDDesc(list)
		c.data = list
		c.state = stateLoaded
		c.stale = false
		c.fetchedAt = c.now()
		c.fetchErr = nil
		c.store.ReplaceAll(list)
		listFetches.WithLabelValues("ok").Inc()
		c.log.Debug().Int("records", len(list)).Msg("list fetch ok")
		return nil, nil
	})
	return err
}

//
// Write path
//

// CreateDelivery optimistically inserts d, then confirms it with the backing
// service. A zero id is replaced with a provisional client-generated id.
// The returned record is the server-confirmed one, which may differ from the
// optimistic record (e.g. a rewritten id); such differences are reconciled
// into the cache and store.
func (c *Coordinator) CreateDelivery(ctx context.Context, d domain.Delivery) (domain.Delivery, error) {
	if d.ID == 0 {
		d.ID = domain.NewID(c.now())
	}
	if err := domain.ValidateNew(d, c.now()); err != nil {
		mutations.WithLabelValues(string(mutationCreate), "rejected").Inc()
		return domain.Delivery{}, err
	}

	c.mu.Lock()
	if _, ok := c.lookupLocked(d.ID); ok {
		c.mu.Unlock()
		return domain.Delivery{}, store.ErrDuplicateID
	}
	c.insertLocked(d)
	if err := c.store.Insert(d); err != nil {
		c.removeLocked(d.ID)
		c.mu.Unlock()
		return domain.Delivery{}, err
	}
	pm := c.registerLocked(mutationCreate, d.ID, domain.DeliveryPatch{}, d)
	c.mu.Unlock()

	confirmed, err := c.remote.Create(ctx, d)
	if err != nil {
		c.rollback(pm, err)
		mutations.WithLabelValues(string(mutationCreate), "failed").Inc()
		return domain.Delivery{}, err
	}
	c.settle(pm)
	c.reconcile(pm, confirmed)
	mutations.WithLabelValues(string(mutationCreate), "ok").Inc()
	return confirmed, nil
}

// UpdateDelivery optimistically merges patch into the record matching id,
// then confirms with the backing service. The inverse used for rollback is
// computed here, against the snapshot at dispatch time.
func (c *Coordinator) UpdateDelivery(ctx context.Context, id int64, patch domain.DeliveryPatch) (domain.Delivery, error) {
	if err := domain.ValidatePatch(patch, c.now()); err != nil {
		mutations.WithLabelValues(string(mutationUpdate), "rejected").Inc()
		return domain.Delivery{}, err
	}

	c.mu.Lock()
	cur, ok := c.lookupLocked(id)
	if !ok {
		c.mu.Unlock()
		return domain.Delivery{}, store.ErrNotFound
	}
	inverse := inverseOf(cur, patch)
	c.setLocked(patch.Apply(cur))
	if _, err := c.store.Update(id, patch); err != nil {
		// Store and cache diverged: a contract violation, not a network
		// failure. Undo the cache apply and surface the defect.
		c.setLocked(cur)
		c.mu.Unlock()
		return domain.Delivery{}, err
	}
	pm := c.registerLocked(mutationUpdate, id, inverse, domain.Delivery{})
	c.mu.Unlock()

	confirmed, err := c.remote.Update(ctx, id, patch)
	if err != nil {
		c.rollback(pm, err)
		mutations.WithLabelValues(string(mutationUpdate), "failed").Inc()
		return domain.Delivery{}, err
	}
	c.settle(pm)
	c.reconcile(pm, confirmed)
	mutations.WithLabelValues(string(mutationUpdate), "ok").Inc()
	return confirmed, nil
}

// DeleteDelivery optimistically removes id, then confirms with the backing
// service. Deleting an id that is not present locally is a no-op success:
// duplicate delete requests are tolerated and issue no network call.
func (c *Coordinator) DeleteDelivery(ctx context.Context, id int64) error {
	c.mu.Lock()
	cur, ok := c.lookupLocked(id)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	c.removeLocked(id)
	c.store.Remove(id)
	pm := c.registerLocked(mutationDelete, id, domain.DeliveryPatch{}, cur)
	c.mu.Unlock()

	ack, err := c.remote.Delete(ctx, id)
	if err == nil && !ack.Success {
		err = fmt.Errorf("delete of %d not acknowledged by server", id)
	}
	if err != nil {
		c.rollback(pm, err)
		mutations.WithLabelValues(string(mutationDelete), "failed").Inc()
		return err
	}
	c.settle(pm)
	mutations.WithLabelValues(string(mutationDelete), "ok").Inc()
	return nil
}

// settle discards a confirmed pending mutation and marks the cached query
// stale so the next read revalidates against the server in the background.
func (c *Coordinator) settle(pm *pendingMutation) {
	c.mu.Lock()
	delete(c.pending, pm.token)
	c.stale = true
	c.mu.Unlock()
	c.log.Debug().Str("kind", string(pm.kind)).Int64("id", pm.targetID).Msg("mutation confirmed")
}

// rollback replays the inverse of a failed mutation against current state.
// The undo is a merge, not a full-record overwrite: an update rollback only
// reverts the fields that update touched, a delete rollback re-inserts only
// when the id is still absent, and a create rollback removes only when the
// id is still present. Mutations dispatched later on the same record are
// therefore not clobbered.
func (c *Coordinator) rollback(pm *pendingMutation, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, pm.token)
	rollbacks.WithLabelValues(string(pm.kind)).Inc()

	switch pm.kind {
	case mutationCreate:
		c.removeLocked(pm.targetID)
		c.store.Remove(pm.targetID)
	case mutationUpdate:
		if cur, ok := c.lookupLocked(pm.targetID); ok {
			c.setLocked(pm.inverse.Apply(cur))
			_, _ = c.store.Update(pm.targetID, pm.inverse)
		}
	case mutationDelete:
		if _, ok := c.lookupLocked(pm.targetID); !ok {
			c.insertLocked(pm.snapshot)
			_ = c.store.Insert(pm.snapshot)
		}
	}

	c.log.Warn().
		Err(cause).
		Str("kind", string(pm.kind)).
		Int64("id", pm.targetID).
		Dur("in_flight", c.now().Sub(pm.dispatchedAt)).
		Msg("mutation rolled back")
}

// reconcile merges server-returned field differences after a confirmed
// create or update. When another mutation on the same record is still in
// flight the merge is skipped: its optimistic effect must not be overwritten
// by our (older) server echo.
func (c *Coordinator) reconcile(pm *pendingMutation, confirmed domain.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.otherPendingLocked(pm.targetID, pm.token) {
		c.log.Debug().Int64("id", pm.targetID).Msg("reconcile skipped: newer mutation in flight")
		return
	}
	cur, ok := c.lookupLocked(pm.targetID)
	if !ok {
		return // deleted meanwhile
	}
	if cur == confirmed {
		return
	}
	if confirmed.ID != pm.targetID {
		// Server rewrote the id (provisional create id not honored).
		c.removeLocked(pm.targetID)
		c.insertLocked(confirmed)
		_ = c.store.Replace(pm.targetID, confirmed)
		c.log.Info().Int64("provisional", pm.targetID).Int64("canonical", confirmed.ID).Msg("id rewritten by server")
		return
	}
	c.setLocked(confirmed)
	_ = c.store.Replace(pm.targetID, confirmed)
}

//
// Cached snapshot helpers. All callers hold c.mu.
//

func (c *Coordinator) lookupLocked(id int64) (domain.Delivery, bool) {
	for _, d := range c.data {
		if d.ID == id {
			return d, true
		}
	}
	return domain.Delivery{}, false
}

func (c *Coordinator) setLocked(d domain.Delivery) {
	for i := range c.data {
		if c.data[i].ID == d.ID {
			c.data[i] = d
			return
		}
	}
}

func (c *Coordinator) insertLocked(d domain.Delivery) {
	c.data = append(c.data, d)
	sortByIDDesc(c.data)
}

func (c *Coordinator) removeLocked(id int64) {
	for i := range c.data {
		if c.data[i].ID == id {
			c.data = append(c.data[:i], c.data[i+1:]...)
			return
		}
	}
}

func sortByIDDesc(list []domain.Delivery) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
}
