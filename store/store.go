// Package store is the PocketBase-backed persistence layer for accounts,
// engine settings, ticket grabs and proxies.
package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/shibob53/webook-scraper/models"
)

const (
	collectionAccounts = "webook_accounts"
	collectionSettings = "crawler_settings"
	collectionGrabs    = "ticket_grabs"
	collectionProxies  = "proxies"
)

type Store struct {
	app core.App
}

func New(app core.App) *Store {
	return &Store{app: app}
}

// ActiveAccounts returns all non-disabled accounts in creation order, which
// is the stable order the worker pool walks for resume.
func (s *Store) ActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	records, err := s.app.FindRecordsByFilter(
		collectionAccounts,
		"disabled = false",
		"+created",
		0,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	accounts := make([]*models.Account, 0, len(records))
	for _, r := range records {
		accounts = append(accounts, models.AccountFromRecord(r))
	}
	return accounts, nil
}

// SaveAccountCookies persists the refreshed cookie jar after a login.
func (s *Store) SaveAccountCookies(ctx context.Context, account *models.Account) error {
	record, err := s.app.FindRecordById(collectionAccounts, account.ID)
	if err != nil {
		return fmt.Errorf("account %s: %w", account.ID, err)
	}
	record.Set("cookies_json", account.CookiesJSON)
	return s.app.Save(record)
}

// SaveAccountProgress persists the account's cumulative ticket counter.
func (s *Store) SaveAccountProgress(ctx context.Context, account *models.Account) error {
	record, err := s.app.FindRecordById(collectionAccounts, account.ID)
	if err != nil {
		return fmt.Errorf("account %s: %w", account.ID, err)
	}
	record.Set("tickets_grabbed", account.TicketsGrabbed)
	return s.app.Save(record)
}

// ResetAccountProgress zeroes every account's ticket counter. Part of the
// engine's Reset entry.
func (s *Store) ResetAccountProgress(ctx context.Context) error {
	records, err := s.app.FindAllRecords(collectionAccounts)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	for _, r := range records {
		if r.GetInt("tickets_grabbed") == 0 {
			continue
		}
		r.Set("tickets_grabbed", 0)
		if err := s.app.Save(r); err != nil {
			return fmt.Errorf("reset account %s: %w", r.Id, err)
		}
	}
	return nil
}

// LoadSettings returns the single settings record, creating a stopped
// default when none exists yet.
func (s *Store) LoadSettings(ctx context.Context) (*models.Settings, error) {
	records, err := s.app.FindRecordsByFilter(collectionSettings, "id != ''", "+created", 1, 0)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if len(records) > 0 {
		return models.SettingsFromRecord(records[0]), nil
	}

	collection, err := s.app.FindCollectionByNameOrId(collectionSettings)
	if err != nil {
		return nil, err
	}
	record := core.NewRecord(collection)
	defaults := &models.Settings{
		MaxTickets:      5,
		Concurrency:     1,
		Stopped:         true,
		RecheckInterval: 30,
	}
	defaults.ApplyTo(record)
	if err := s.app.Save(record); err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	defaults.ID = record.Id
	return defaults, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings *models.Settings) error {
	record, err := s.app.FindRecordById(collectionSettings, settings.ID)
	if err != nil {
		return fmt.Errorf("settings %s: %w", settings.ID, err)
	}
	settings.ApplyTo(record)
	return s.app.Save(record)
}

// CreateGrab persists a new grab and writes the generated id back.
func (s *Store) CreateGrab(ctx context.Context, grab *models.TicketGrab) error {
	collection, err := s.app.FindCollectionByNameOrId(collectionGrabs)
	if err != nil {
		return err
	}
	record := core.NewRecord(collection)
	grab.ApplyTo(record)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("create grab: %w", err)
	}
	grab.ID = record.Id
	grab.Created = record.GetDateTime("created").Time()
	return nil
}

func (s *Store) SetGrabPaymentURL(ctx context.Context, grabID, paymentURL string) error {
	record, err := s.app.FindRecordById(collectionGrabs, grabID)
	if err != nil {
		return fmt.Errorf("grab %s: %w", grabID, err)
	}
	record.Set("payment_url", paymentURL)
	return s.app.Save(record)
}

func (s *Store) DeleteGrab(ctx context.Context, grabID string) error {
	record, err := s.app.FindRecordById(collectionGrabs, grabID)
	if err != nil {
		return fmt.Errorf("grab %s: %w", grabID, err)
	}
	return s.app.Delete(record)
}

// GrabsForAccount returns the grabs backing one account's quota for an event.
func (s *Store) GrabsForAccount(ctx context.Context, eventURL, accountID string) ([]*models.TicketGrab, error) {
	records, err := s.app.FindAllRecords(collectionGrabs, dbx.HashExp{
		"event_url":  eventURL,
		"account_id": accountID,
	})
	if err != nil {
		return nil, fmt.Errorf("load grabs: %w", err)
	}
	return grabsFromRecords(records), nil
}

func (s *Store) AllGrabs(ctx context.Context) ([]*models.TicketGrab, error) {
	records, err := s.app.FindAllRecords(collectionGrabs)
	if err != nil {
		return nil, fmt.Errorf("load grabs: %w", err)
	}
	return grabsFromRecords(records), nil
}

func grabsFromRecords(records []*core.Record) []*models.TicketGrab {
	grabs := make([]*models.TicketGrab, 0, len(records))
	for _, r := range records {
		grabs = append(grabs, models.GrabFromRecord(r))
	}
	return grabs
}

// ActiveProxy returns the first active proxy, or nil when none is configured.
func (s *Store) ActiveProxy(ctx context.Context) (*models.Proxy, error) {
	records, err := s.app.FindRecordsByFilter(collectionProxies, "active = true", "+created", 1, 0)
	if err != nil {
		return nil, fmt.Errorf("load proxies: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return models.ProxyFromRecord(records[0]), nil
}
