package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/shibob53/webook-scraper/models"
	"github.com/shibob53/webook-scraper/utils"
)

// ListingService fetches ticket-type listings for events that sell without a
// seating chart. Responses are cached in Redis so the worker pool does not
// hammer the listing API on every cycle.
type ListingService struct {
	client   *http.Client
	redis    *redis.Client
	breaker  *utils.CircuitBreaker
	baseURL  string
	cacheTTL time.Duration
}

func NewListingService(redisClient *redis.Client, baseURL string, cacheTTL time.Duration) *ListingService {
	return &ListingService{
		client:   &http.Client{Timeout: 15 * time.Second},
		redis:    redisClient,
		breaker:  utils.NewCircuitBreaker("ticket-listing"),
		baseURL:  strings.TrimRight(baseURL, "/"),
		cacheTTL: cacheTTL,
	}
}

type listingResponse struct {
	Data struct {
		TicketTypes []listingTicketType `json:"ticket_types"`
	} `json:"data"`
}

type listingTicketType struct {
	ID       string  `json:"_id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	EndsAt   string  `json:"ends_at"`
	Quantity int     `json:"quantity"`
}

// TicketTypes returns the event's ticket types, served from cache when fresh.
func (s *ListingService) TicketTypes(ctx context.Context, eventURL string) ([]models.TicketType, error) {
	slug := slugFromEventURL(eventURL)
	if slug == "" {
		return nil, fmt.Errorf("%w: no event slug in %q", ErrInventoryExtraction, eventURL)
	}

	cacheKey := "listing:" + slug
	if cached, err := s.redis.Get(ctx, cacheKey).Result(); err == nil {
		var types []models.TicketType
		if err := json.Unmarshal([]byte(cached), &types); err == nil {
			return types, nil
		}
	}

	var types []models.TicketType
	err := s.breaker.Execute(ctx, func() error {
		fetched, err := s.fetch(ctx, slug)
		if err != nil {
			return err
		}
		types = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(types); err == nil {
		s.redis.Set(ctx, cacheKey, encoded, s.cacheTTL)
	}
	return types, nil
}

func (s *ListingService) fetch(ctx context.Context, slug string) ([]models.TicketType, error) {
	url := fmt.Sprintf("%s/%s/tickets", s.baseURL, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing fetch: unexpected status %d", resp.StatusCode)
	}

	var payload listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInventoryExtraction, err)
	}

	types := make([]models.TicketType, 0, len(payload.Data.TicketTypes))
	for _, raw := range payload.Data.TicketTypes {
		if raw.ID == "" || raw.Name == "" || raw.Price <= 0 {
			return nil, fmt.Errorf("%w: listing entry missing id, name or price", ErrInventoryExtraction)
		}
		t := models.TicketType{
			ID:       raw.ID,
			Name:     raw.Name,
			Price:    decimal.NewFromFloat(raw.Price),
			Currency: raw.Currency,
			Quantity: raw.Quantity,
		}
		if raw.EndsAt != "" {
			if endsAt, err := time.Parse(time.RFC3339, raw.EndsAt); err == nil {
				t.EndsAt = endsAt
			}
		}
		types = append(types, t)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: listing returned no ticket types", ErrInventoryExtraction)
	}
	return types, nil
}

// CheapestEligible returns the lowest-priced unexpired ticket type inside the
// price window, or nil when nothing qualifies.
func CheapestEligible(types []models.TicketType, min, max decimal.Decimal, now time.Time) *models.TicketType {
	eligible := make([]models.TicketType, 0, len(types))
	for _, t := range types {
		if t.Expired(now) {
			continue
		}
		if t.Price.LessThan(min) {
			continue
		}
		if max.IsPositive() && t.Price.GreaterThan(max) {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Price.LessThan(eligible[j].Price)
	})
	return &eligible[0]
}

// slugFromEventURL extracts the event identifier from a booking URL, the last
// non-empty path segment.
func slugFromEventURL(eventURL string) string {
	trimmed := strings.TrimRight(eventURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
