package domain

import "time"

// HoldTTL is how long a reservation keeps stock off the shelf before it
// goes stale. Availability reads filter on reserved_until directly, so a
// hold stops counting the moment it passes this deadline even if the
// sweeper has not flipped its status yet.
const HoldTTL = 15 * time.Minute

type Status string

const (
	StatusActive    Status = "active"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusConfirmed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed. Only active
// holds move; confirm/cancel/expire on anything else is a silent no-op.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusActive
}

// Reservation is a time-boxed claim on a quantity of a product's stock.
// Rows are never deleted; status transitions are the only mutation.
type Reservation struct {
	ID            int64
	ProductID     int64
	UserID        *int64
	SessionID     *string
	Quantity      int
	ReservedUntil time.Time
	Status        Status
	OrderToken    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExpiredAt reports whether the hold is past its deadline at the given
// instant, regardless of stored status.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !r.ReservedUntil.After(now)
}

// HeldAt reports whether the reservation still counts against available
// stock: active and not yet past its deadline.
func (r *Reservation) HeldAt(now time.Time) bool {
	return r.Status == StatusActive && !r.ExpiredAt(now)
}

// Product is the inventory record this service holds stock against. The
// catalog subsystem owns the row; only the confirm step mutates stock here.
type Product struct {
	ID         int64
	Name       string
	PriceCents int64
	Stock      int
	InStock    bool
}

// CartItem is one line of a checkout attempt.
type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// UnavailableItem describes a cart line that cannot be covered right now.
type UnavailableItem struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

// CartValidation is the pre-checkout availability report.
type CartValidation struct {
	CanReserve  bool              `json:"can_reserve"`
	Unavailable []UnavailableItem `json:"unavailable_items,omitempty"`
}
