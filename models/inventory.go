package models

import (
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// Seat statuses as reported by the seating-chart widget.
const (
	SeatStatusFree     = "free"
	SeatStatusReserved = "reserved"
)

// SeatTypeSeat filters out booths, tables and general-admission areas the
// widget also enumerates.
const SeatTypeSeat = "seat"

// Seat is one selectable object extracted from the seating-chart widget.
// Transient: rebuilt on every refresh cycle, never persisted.
type Seat struct {
	SeatID         string `json:"seatId"`
	Status         string `json:"status"`
	Entrance       bool   `json:"entrance"`
	Accessible     bool   `json:"accessible"`
	RestrictedView bool   `json:"restrictedView"`
	Type           string `json:"type"`
	CategoryKey    int    `json:"categoryKey"`
}

// Category is a priced seating category from the widget. Transient, used only
// to price-filter seats.
type Category struct {
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
	Key   int             `json:"key"`
	Color string          `json:"color"`
}

// InBounds reports whether the category price falls inside [min, max].
// A zero max means no upper bound.
func (c Category) InBounds(min, max decimal.Decimal) bool {
	if c.Price.LessThan(min) {
		return false
	}
	if max.IsPositive() && c.Price.GreaterThan(max) {
		return false
	}
	return true
}

// TicketType is one entry of the remote ticket-listing API, used for events
// without a seating chart.
type TicketType struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	EndsAt   time.Time       `json:"ends_at"`
	Quantity int             `json:"quantity"`
}

// Expired reports whether the ticket type's sale window has closed.
func (t TicketType) Expired(now time.Time) bool {
	return !t.EndsAt.IsZero() && now.After(t.EndsAt)
}

// Proxy is an outbound proxy for browser traffic, managed by the dashboard.
type Proxy struct {
	ID       string `json:"id"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Active   bool   `json:"active"`
}

// URL renders the proxy as a scheme://host:port address for the browser
// launcher. Credentials, when present, ride along in userinfo form.
func (p *Proxy) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("http://%s:%s@%s:%d", p.Username, p.Password, p.IP, p.Port)
	}
	return fmt.Sprintf("http://%s:%d", p.IP, p.Port)
}

func ProxyFromRecord(r *core.Record) *Proxy {
	return &Proxy{
		ID:       r.Id,
		IP:       r.GetString("ip"),
		Port:     r.GetInt("port"),
		Username: r.GetString("username"),
		Password: r.GetString("password"),
		Active:   r.GetBool("active"),
	}
}
