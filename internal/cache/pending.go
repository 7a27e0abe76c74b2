package cache

import (
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-delivery-console/internal/domain"
)

// mutationKind identifies which collection operation a pending mutation
// performs. The values double as metric label values.
type mutationKind string

const (
	mutationCreate mutationKind = "create"
	mutationUpdate mutationKind = "update"
	mutationDelete mutationKind = "delete"
)

// pendingMutation tracks one optimistic mutation between dispatch and
// settlement. The inverse is computed against the snapshot at dispatch time,
// never against live state, so a rollback cannot clobber the effect of a
// later mutation on the same record (the inverse for an update carries only
// the fields that update touched).
type pendingMutation struct {
	token        string
	kind         mutationKind
	targetID     int64
	inverse      domain.DeliveryPatch // update: pre-patch values of the touched fields
	snapshot     domain.Delivery      // delete: the full removed record; create: the inserted record
	dispatchedAt time.Time
}

// registerLocked records a pending mutation. Caller holds c.mu.
func (c *Coordinator) registerLocked(kind mutationKind, targetID int64, inverse domain.DeliveryPatch, snapshot domain.Delivery) *pendingMutation {
	pm := &pendingMutation{
		token:        uuid.NewString(),
		kind:         kind,
		targetID:     targetID,
		inverse:      inverse,
		snapshot:     snapshot,
		dispatchedAt: c.now(),
	}
	c.pending[pm.token] = pm
	return pm
}

// otherPendingLocked reports whether a different mutation is still in flight
// for the same record. Caller holds c.mu.
func (c *Coordinator) otherPendingLocked(targetID int64, excludeToken string) bool {
	for tok, pm := range c.pending {
		if tok != excludeToken && pm.targetID == targetID {
			return true
		}
	}
	return false
}

// inverseOf computes the patch that undoes applying p to cur: for every
// field p sets, the pre-patch value from cur.
func inverseOf(cur domain.Delivery, p domain.DeliveryPatch) domain.DeliveryPatch {
	var inv domain.DeliveryPatch
	if p.Date != nil {
		v := cur.Date
		inv.Date = &v
	}
	if p.Recipient != nil {
		v := cur.Recipient
		inv.Recipient = &v
	}
	if p.Address != nil {
		v := cur.Address
		inv.Address = &v
	}
	if p.Status != nil {
		v := cur.Status
		inv.Status = &v
	}
	return inv
}
