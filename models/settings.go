package models

import (
	"errors"
	"fmt"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// RunState is the engine lifecycle state. Resume and Reset are not states of
// their own: both are entries into StateRunning from StateStopped that differ
// only in their side effects on progress counters.
type RunState int

const (
	StateStopped RunState = iota
	StateRunning
)

func (s RunState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ErrInvalidTransition marks run-state changes the engine must refuse.
var ErrInvalidTransition = errors.New("invalid run-state transition")

// Transition validates a run-state change. The only legal moves are
// Stopped -> Running and Running -> Stopped.
func Transition(from, to RunState) error {
	if from == to {
		return fmt.Errorf("%w: engine already %s", ErrInvalidTransition, to)
	}
	switch {
	case from == StateStopped && to == StateRunning:
		return nil
	case from == StateRunning && to == StateStopped:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Settings is the single per-tenant engine configuration record. It is read
// at engine start and written back whenever run state or progress changes.
type Settings struct {
	ID                string          `json:"id"`
	EventURL          string          `json:"event_url"`
	MinPrice          decimal.Decimal `json:"min_price"`
	MaxPrice          decimal.Decimal `json:"max_price"`
	MaxTickets        int             `json:"max_tickets"`
	Concurrency       int             `json:"concurrency"`
	UseProxies        bool            `json:"use_proxies"`
	Stopped           bool            `json:"stopped"`
	LastUsedAccountID string          `json:"last_used_account_id"`
	// RecheckInterval is the sweeper cadence in minutes.
	RecheckInterval int `json:"recheck_interval"`
}

func SettingsFromRecord(r *core.Record) *Settings {
	return &Settings{
		ID:                r.Id,
		EventURL:          r.GetString("event_url"),
		MinPrice:          decimal.NewFromFloat(r.GetFloat("min_price")),
		MaxPrice:          decimal.NewFromFloat(r.GetFloat("max_price")),
		MaxTickets:        r.GetInt("max_tickets"),
		Concurrency:       r.GetInt("concurrency"),
		UseProxies:        r.GetBool("use_proxies"),
		Stopped:           r.GetBool("stopped"),
		LastUsedAccountID: r.GetString("last_used_account_id"),
		RecheckInterval:   r.GetInt("recheck_interval"),
	}
}

func (s *Settings) ApplyTo(r *core.Record) {
	r.Set("event_url", s.EventURL)
	r.Set("min_price", s.MinPrice.InexactFloat64())
	r.Set("max_price", s.MaxPrice.InexactFloat64())
	r.Set("max_tickets", s.MaxTickets)
	r.Set("concurrency", s.Concurrency)
	r.Set("use_proxies", s.UseProxies)
	r.Set("stopped", s.Stopped)
	r.Set("last_used_account_id", s.LastUsedAccountID)
	r.Set("recheck_interval", s.RecheckInterval)
}
