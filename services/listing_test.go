package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibob53/webook-scraper/models"
)

const listingEventURL = "https://webook.com/en/events/super-cup-final"

func TestTicketTypesFetchesAndCaches(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/super-cup-final/tickets", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"ticket_types":[
			{"_id":"t1","name":"Category 1","price":250,"currency":"SAR","quantity":100},
			{"_id":"t2","name":"Category 2","price":100,"currency":"SAR","quantity":50}
		]}}`))
	}))
	defer server.Close()

	db, mock := redismock.NewClientMock()
	svc := NewListingService(db, server.URL, 5*time.Minute)

	mock.ExpectGet("listing:super-cup-final").RedisNil()
	mock.Regexp().ExpectSet("listing:super-cup-final", `.+`, 5*time.Minute).SetVal("OK")

	types, err := svc.TicketTypes(context.Background(), listingEventURL)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, 1, requests)
	assert.Equal(t, "t1", types[0].ID)
	assert.True(t, types[0].Price.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 50, types[1].Quantity)
}

func TestTicketTypesServedFromCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("cache hit must not reach the listing API")
	}))
	defer server.Close()

	cached := []models.TicketType{
		{ID: "t1", Name: "Category 1", Price: decimal.NewFromInt(250), Currency: "SAR", Quantity: 10},
	}
	encoded, err := json.Marshal(cached)
	require.NoError(t, err)

	db, mock := redismock.NewClientMock()
	mock.ExpectGet("listing:super-cup-final").SetVal(string(encoded))

	svc := NewListingService(db, server.URL, 5*time.Minute)
	types, err := svc.TicketTypes(context.Background(), listingEventURL)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "t1", types[0].ID)
}

func TestTicketTypesRejectsMalformedEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"ticket_types":[{"_id":"t1","name":"","price":0}]}}`))
	}))
	defer server.Close()

	db, mock := redismock.NewClientMock()
	mock.ExpectGet("listing:super-cup-final").RedisNil()

	svc := NewListingService(db, server.URL, 5*time.Minute)
	_, err := svc.TicketTypes(context.Background(), listingEventURL)
	assert.ErrorIs(t, err, ErrInventoryExtraction)
}

func TestCheapestEligible(t *testing.T) {
	now := time.Now()
	types := []models.TicketType{
		{ID: "gold", Price: decimal.NewFromInt(250)},
		{ID: "silver", Price: decimal.NewFromInt(100)},
		{ID: "bronze", Price: decimal.NewFromInt(40)},
		{ID: "expired", Price: decimal.NewFromInt(90), EndsAt: now.Add(-time.Hour)},
	}

	t.Run("cheapest inside window", func(t *testing.T) {
		got := CheapestEligible(types, decimal.NewFromInt(50), decimal.NewFromInt(200), now)
		require.NotNil(t, got)
		assert.Equal(t, "silver", got.ID)
	})

	t.Run("no upper bound", func(t *testing.T) {
		got := CheapestEligible(types, decimal.NewFromInt(150), decimal.Zero, now)
		require.NotNil(t, got)
		assert.Equal(t, "gold", got.ID)
	})

	t.Run("nothing qualifies", func(t *testing.T) {
		got := CheapestEligible(types, decimal.NewFromInt(300), decimal.Zero, now)
		assert.Nil(t, got)
	})

	t.Run("expired types skipped", func(t *testing.T) {
		got := CheapestEligible(types, decimal.NewFromInt(60), decimal.NewFromInt(95), now)
		assert.Nil(t, got)
	})
}

func TestSlugFromEventURL(t *testing.T) {
	assert.Equal(t, "super-cup-final", slugFromEventURL("https://webook.com/en/events/super-cup-final"))
	assert.Equal(t, "super-cup-final", slugFromEventURL("https://webook.com/en/events/super-cup-final/"))
	assert.Equal(t, "", slugFromEventURL(""))
}
