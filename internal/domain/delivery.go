// Package domain defines the delivery record, its closed status set, and the
// client-side validation rules applied before any network traffic. These
// types cross every boundary of the application: the remote wire format, the
// in-memory collection store, and the HTTP surface all share them.
package domain

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DeliveryStatus is the closed set of delivery states. Values serialize with
// their display spelling ("In Transit", not "InTransit") because that is the
// wire format of the backing service.
type DeliveryStatus string

// The four permitted statuses. The core places no ordering constraint on
// transitions; any status may move to any other.
const (
	StatusPending      DeliveryStatus = "Pending"
	StatusInTransit    DeliveryStatus = "In Transit"
	StatusDelivered    DeliveryStatus = "Delivered"
	StatusNotDelivered DeliveryStatus = "Not Delivered"
)

// Statuses lists all permitted statuses in display order.
func Statuses() []DeliveryStatus {
	return []DeliveryStatus{StatusPending, StatusInTransit, StatusDelivered, StatusNotDelivered}
}

// Valid reports whether s is a member of the closed status set.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInTransit, StatusDelivered, StatusNotDelivered:
		return true
	}
	return false
}

// ParseStatus converts a wire string into a DeliveryStatus. Parsing is
// strict: unknown values are rejected rather than coerced.
func ParseStatus(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

// DateLayout is the ISO-8601 calendar date format used on every boundary.
// Delivery dates are dates, not instants; no time zone or clock component.
const DateLayout = "2006-01-02"

// Delivery is the unit of storage: one scheduled delivery as the console
// believes the server knows it.
//
// Fields:
//   - ID: unique, stable identifier assigned by the creator before the
//     record is known to the server; never reassigned.
//   - Date: ISO-8601 calendar date (YYYY-MM-DD).
//   - Recipient: non-empty display name.
//   - Address: non-empty display address.
//   - Status: one of the four permitted statuses.
type Delivery struct {
	ID        int64          `json:"id"`
	Date      string         `json:"date"`
	Recipient string         `json:"recipient"`
	Address   string         `json:"address"`
	Status    DeliveryStatus `json:"status"`
}

// DeliveryPatch is a closed set of optional fields for partial updates.
// A nil field means "leave unchanged". Patches are deliberately not an
// open-ended map so that the compiler polices which fields can change.
type DeliveryPatch struct {
	Date      *string         `json:"date,omitempty"`
	Recipient *string         `json:"recipient,omitempty"`
	Address   *string         `json:"address,omitempty"`
	Status    *DeliveryStatus `json:"status,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p DeliveryPatch) IsZero() bool {
	return p.Date == nil && p.Recipient == nil && p.Address == nil && p.Status == nil
}

// Apply returns a copy of d with the patch's non-nil fields merged in.
func (p DeliveryPatch) Apply(d Delivery) Delivery {
	if p.Date != nil {
		d.Date = *p.Date
	}
	if p.Recipient != nil {
		d.Recipient = *p.Recipient
	}
	if p.Address != nil {
		d.Address = *p.Address
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	return d
}

// ErrValidation is the sentinel wrapped by every client-side validation
// failure, so callers can branch with errors.Is without inspecting fields.
var ErrValidation = errors.New("validation failed")

// ValidationError describes a single rejected field. It wraps ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrValidation) succeed.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ValidateNew checks a record before it is created. The delivery date must
// not be earlier than today; this is enforced here, before any network call
// is issued.
func ValidateNew(d Delivery, today time.Time) error {
	if d.Recipient == "" {
		return invalid("recipient", "must not be empty")
	}
	if d.Address == "" {
		return invalid("address", "must not be empty")
	}
	if !d.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown status %q", string(d.Status)))
	}
	return validateDate(d.Date, today)
}

// ValidatePatch checks a partial update before it is applied. Only fields
// present in the patch are validated; the date rule matches ValidateNew.
func ValidatePatch(p DeliveryPatch, today time.Time) error {
	if p.IsZero() {
		return invalid("patch", "no fields to update")
	}
	if p.Recipient != nil && *p.Recipient == "" {
		return invalid("recipient", "must not be empty")
	}
	if p.Address != nil && *p.Address == "" {
		return invalid("address", "must not be empty")
	}
	if p.Status != nil && !p.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown status %q", string(*p.Status)))
	}
	if p.Date != nil {
		return validateDate(*p.Date, today)
	}
	return nil
}

func validateDate(date string, today time.Time) error {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return invalid("date", fmt.Sprintf("not a calendar date (want %s)", DateLayout))
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(day) {
		return invalid("date", "must not be earlier than today")
	}
	return nil
}

// id generation state; provisional ids are epoch milliseconds with a
// monotonic bump when two creates land in the same millisecond.
var (
	idMu   sync.Mutex
	idLast int64
)

// NewID returns a provisional, client-generated identifier. Ids are epoch
// milliseconds of now, guaranteed strictly increasing within the process so
// that rapid successive creates never collide.
func NewID(now time.Time) int64 {
	idMu.Lock()
	defer idMu.Unlock()
	id := now.UnixMilli()
	if id <= idLast {
		id = idLast + 1
	}
	idLast = id
	return id
}
