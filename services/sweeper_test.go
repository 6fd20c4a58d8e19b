package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibob53/webook-scraper/models"
)

func TestSweepRemovesOnlyAbandonedGrabs(t *testing.T) {
	store := newFakeStore(&models.Settings{})
	now := time.Now()

	seed := func(id string, age time.Duration, paymentURL string) {
		store.grabs[id] = &models.TicketGrab{
			ID:         id,
			EventURL:   "https://webook.com/en/events/x",
			AccountID:  "acc1",
			Quantity:   2,
			IsCategory: true,
			PaymentURL: paymentURL,
			Created:    now.Add(-age),
		}
	}
	seed("stale", 11*time.Minute, "")
	seed("young", 9*time.Minute, "")
	seed("paid", 30*time.Minute, "https://pay.example/123")

	sweeper := NewSweeper(store, nil, 10*time.Minute)
	swept, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, swept)
	assert.Equal(t, []string{"stale"}, store.deletedGrabs)
	assert.Equal(t, 2, store.grabCount())
}

func TestSweepNothingToDo(t *testing.T) {
	store := newFakeStore(&models.Settings{})
	sweeper := NewSweeper(store, nil, 10*time.Minute)

	swept, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestSweepExactTTLBoundary(t *testing.T) {
	store := newFakeStore(&models.Settings{})
	store.grabs["edge"] = &models.TicketGrab{
		ID:      "edge",
		Created: time.Now().Add(-10*time.Minute - time.Second),
	}

	sweeper := NewSweeper(store, nil, 10*time.Minute)
	swept, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
}
