package models

import (
	"encoding/json"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// SeatDetail carries the category-derived pricing info for one claimed seat.
// Stored on the grab as JSON so the dashboard can render it without the cache.
type SeatDetail struct {
	SeatID string          `json:"seatId"`
	Label  string          `json:"label"`
	Price  decimal.Decimal `json:"price"`
	Color  string          `json:"color"`
}

// TicketGrab is the persisted record of a claim: the remote hold plus enough
// detail to resume quota tracking after a restart. A grab with no payment URL
// past the hold TTL is abandoned and swept.
type TicketGrab struct {
	ID           string       `json:"id"`
	EventURL     string       `json:"event_url"`
	GrabbedSeats []string     `json:"grabbed_seats"`
	IsSeat       bool         `json:"is_seat"`
	IsCategory   bool         `json:"is_category"`
	HoldToken    string       `json:"hold_token"`
	SeatDetails  []SeatDetail `json:"seat_details"`
	// Quantity is the requested ticket count for category grabs; seat grabs
	// derive their count from GrabbedSeats.
	Quantity   int       `json:"quantity"`
	AccountID  string    `json:"account_id"`
	PaymentURL string    `json:"payment_url"`
	Created    time.Time `json:"created"`
}

// TicketCount is the grab's contribution to an account's quota.
func (g *TicketGrab) TicketCount() int {
	if g.IsCategory {
		return g.Quantity
	}
	return len(g.GrabbedSeats)
}

// Abandoned reports whether the grab is past the hold TTL without ever
// reaching a payment URL.
func (g *TicketGrab) Abandoned(now time.Time, ttl time.Duration) bool {
	return g.PaymentURL == "" && now.Sub(g.Created) >= ttl
}

func GrabFromRecord(r *core.Record) *TicketGrab {
	g := &TicketGrab{
		ID:         r.Id,
		EventURL:   r.GetString("event_url"),
		IsSeat:     r.GetBool("is_seat"),
		IsCategory: r.GetBool("is_category"),
		HoldToken:  r.GetString("hold_token"),
		Quantity:   r.GetInt("quantity"),
		AccountID:  r.GetString("account_id"),
		PaymentURL: r.GetString("payment_url"),
		Created:    r.GetDateTime("created").Time(),
	}
	// Seat ids and details are stored as serialized JSON text, matching how
	// the dashboard consumes them. Malformed blobs degrade to empty slices.
	if raw := r.GetString("grabbed_seats"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &g.GrabbedSeats)
	}
	if raw := r.GetString("seat_details"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &g.SeatDetails)
	}
	return g
}

func (g *TicketGrab) ApplyTo(r *core.Record) {
	seats, _ := json.Marshal(g.GrabbedSeats)
	details, _ := json.Marshal(g.SeatDetails)
	r.Set("event_url", g.EventURL)
	r.Set("grabbed_seats", string(seats))
	r.Set("is_seat", g.IsSeat)
	r.Set("is_category", g.IsCategory)
	r.Set("hold_token", g.HoldToken)
	r.Set("seat_details", string(details))
	r.Set("quantity", g.Quantity)
	r.Set("account_id", g.AccountID)
	r.Set("payment_url", g.PaymentURL)
}
