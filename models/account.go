package models

import (
	"time"

	"github.com/pocketbase/pocketbase/core"
)

// Account is a single webook.com login the engine can book with. The
// persistence layer owns the record; the engine only updates cookies and
// progress bookkeeping.
type Account struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Password       string    `json:"password"`
	CookiesJSON    string    `json:"cookies_json"`
	Disabled       bool      `json:"disabled"`
	TicketsGrabbed int       `json:"tickets_grabbed"`
	Created        time.Time `json:"created"`
}

func AccountFromRecord(r *core.Record) *Account {
	return &Account{
		ID:             r.Id,
		Email:          r.GetString("email"),
		Password:       r.GetString("password"),
		CookiesJSON:    r.GetString("cookies_json"),
		Disabled:       r.GetBool("disabled"),
		TicketsGrabbed: r.GetInt("tickets_grabbed"),
		Created:        r.GetDateTime("created").Time(),
	}
}

func (a *Account) ApplyTo(r *core.Record) {
	r.Set("email", a.Email)
	r.Set("password", a.Password)
	r.Set("cookies_json", a.CookiesJSON)
	r.Set("disabled", a.Disabled)
	r.Set("tickets_grabbed", a.TicketsGrabbed)
}
