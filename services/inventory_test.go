package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shibob53/webook-scraper/models"
)

// seatChartPage builds a fakePage whose seating-chart frame reports the
// given categories and seats.
func seatChartPage(categories []models.Category, seats []models.Seat) *fakePage {
	return &fakePage{
		evalFrame: func(urlSubstr, js string, out any) error {
			if strings.Contains(js, "chart.categories") {
				return setResult(out, categories)
			}
			return setResult(out, seats)
		},
	}
}

func freeSeat(id string, categoryKey int) models.Seat {
	return models.Seat{
		SeatID:      id,
		Status:      models.SeatStatusFree,
		Type:        models.SeatTypeSeat,
		CategoryKey: categoryKey,
	}
}

func TestRefreshFiltersByPriceAndStatus(t *testing.T) {
	categories := []models.Category{
		{Label: "Bronze", Price: decimal.NewFromInt(40), Key: 1, Color: "#a52a2a"},
		{Label: "Silver", Price: decimal.NewFromInt(100), Key: 2, Color: "#c0c0c0"},
		{Label: "Gold", Price: decimal.NewFromInt(250), Key: 3, Color: "#ffd700"},
	}
	seats := []models.Seat{
		freeSeat("A-1", 1),
		freeSeat("B-1", 2),
		freeSeat("B-2", 2),
		{SeatID: "B-3", Status: models.SeatStatusReserved, Type: models.SeatTypeSeat, CategoryKey: 2},
		{SeatID: "T-1", Status: models.SeatStatusFree, Type: "table", CategoryKey: 2},
		freeSeat("C-1", 3),
	}

	cache := NewInventoryCache()
	cache.SetPriceBounds(decimal.NewFromInt(50), decimal.NewFromInt(200))

	require.NoError(t, cache.Refresh(context.Background(), seatChartPage(categories, seats)))

	// Only the free Silver seats survive: Bronze is below the floor, Gold
	// above the ceiling, B-3 is taken and T-1 is not a seat.
	assert.Equal(t, 2, cache.FreeCount())
	assert.Equal(t, 1, cache.CategoryCount())

	claimed := cache.Claim(5)
	require.Len(t, claimed, 2)
	assert.Equal(t, "B-1", claimed[0].SeatID)
	assert.Equal(t, "Silver", claimed[0].Label)
	assert.True(t, claimed[0].Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "B-2", claimed[1].SeatID)
}

func TestRefreshNoUpperBound(t *testing.T) {
	categories := []models.Category{
		{Label: "Gold", Price: decimal.NewFromInt(250), Key: 3},
	}
	cache := NewInventoryCache()
	cache.SetPriceBounds(decimal.NewFromInt(50), decimal.Zero)

	require.NoError(t, cache.Refresh(context.Background(), seatChartPage(categories, []models.Seat{freeSeat("C-1", 3)})))
	assert.Equal(t, 1, cache.FreeCount())
}

func TestRefreshReplacesWholesale(t *testing.T) {
	categories := []models.Category{{Label: "GA", Price: decimal.NewFromInt(80), Key: 1}}
	cache := NewInventoryCache()

	require.NoError(t, cache.Refresh(context.Background(),
		seatChartPage(categories, []models.Seat{freeSeat("A-1", 1), freeSeat("A-2", 1)})))
	assert.Equal(t, 2, cache.FreeCount())

	// Second refresh reports a different seat map entirely.
	require.NoError(t, cache.Refresh(context.Background(),
		seatChartPage(categories, []models.Seat{freeSeat("Z-9", 1)})))
	assert.Equal(t, 1, cache.FreeCount())

	claimed := cache.Claim(1)
	require.Len(t, claimed, 1)
	assert.Equal(t, "Z-9", claimed[0].SeatID)
}

func TestRefreshEmptyWidgetFails(t *testing.T) {
	cache := NewInventoryCache()
	err := cache.Refresh(context.Background(), seatChartPage(nil, nil))
	assert.ErrorIs(t, err, ErrInventoryExtraction)
}

func TestClaimNeverHandsOutTheSameSeatTwice(t *testing.T) {
	categories := []models.Category{{Label: "GA", Price: decimal.NewFromInt(80), Key: 1}}
	seats := make([]models.Seat, 0, 100)
	for i := 0; i < 100; i++ {
		seats = append(seats, freeSeat(seatID(i), 1))
	}

	cache := NewInventoryCache()
	require.NoError(t, cache.Refresh(context.Background(), seatChartPage(categories, seats)))

	var mu sync.Mutex
	seen := map[string]int{}

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed := cache.Claim(3)
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, detail := range claimed {
					seen[detail.SeatID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "seat %s claimed %d times", id, count)
	}
	assert.Equal(t, 0, cache.FreeCount())
}

func TestRefreshKeepsClaimedSeatsOut(t *testing.T) {
	categories := []models.Category{{Label: "GA", Price: decimal.NewFromInt(80), Key: 1}}
	chart := []models.Seat{freeSeat("A-1", 1), freeSeat("A-2", 1)}

	cache := NewInventoryCache()
	require.NoError(t, cache.Refresh(context.Background(), seatChartPage(categories, chart)))

	claimed := cache.Claim(1)
	require.Len(t, claimed, 1)
	require.Equal(t, "A-1", claimed[0].SeatID)

	// The widget keeps reporting A-1 free until its hold lands; a refresh
	// in that window must not hand the seat to a second worker.
	require.NoError(t, cache.Refresh(context.Background(), seatChartPage(categories, chart)))
	again := cache.Claim(2)
	require.Len(t, again, 1)
	assert.Equal(t, "A-2", again[0].SeatID)
}

func TestReleaseReadmitsSeatsOnRefresh(t *testing.T) {
	categories := []models.Category{{Label: "GA", Price: decimal.NewFromInt(80), Key: 1}}
	chart := []models.Seat{freeSeat("A-1", 1)}

	cache := NewInventoryCache()
	require.NoError(t, cache.Refresh(context.Background(), seatChartPage(categories, chart)))

	claimed := cache.Claim(1)
	require.Len(t, claimed, 1)

	// Release drops the claim without re-pooling; the seat comes back only
	// through a refresh that still sees it free.
	cache.Release(claimed)
	assert.Equal(t, 0, cache.FreeCount())

	require.NoError(t, cache.Refresh(context.Background(), seatChartPage(categories, chart)))
	again := cache.Claim(1)
	require.Len(t, again, 1)
	assert.Equal(t, "A-1", again[0].SeatID)
}

func TestExtractionScriptsReadWidgetFields(t *testing.T) {
	// The widget exposes seat ids as key.seatId, not key.id.
	assert.Contains(t, seatsJS, "key.seatId")
	assert.Contains(t, seatsJS, "value.isSelectable.value")
	assert.Contains(t, categoriesJS, "categoryPricing.categoryPricing.price")
}

func TestRestoreReturnsClaimedSeats(t *testing.T) {
	categories := []models.Category{{Label: "GA", Price: decimal.NewFromInt(80), Key: 1}}
	cache := NewInventoryCache()
	require.NoError(t, cache.Refresh(context.Background(),
		seatChartPage(categories, []models.Seat{freeSeat("A-1", 1), freeSeat("A-2", 1)})))

	claimed := cache.Claim(2)
	require.Len(t, claimed, 2)
	assert.Equal(t, 0, cache.FreeCount())

	cache.Restore(claimed)
	assert.Equal(t, 2, cache.FreeCount())

	again := cache.Claim(2)
	require.Len(t, again, 2)
	assert.Equal(t, "A-1", again[0].SeatID)
	assert.Equal(t, "GA", again[0].Label)
	assert.True(t, again[0].Price.Equal(decimal.NewFromInt(80)))
}

func TestClaimZeroOrNegative(t *testing.T) {
	cache := NewInventoryCache()
	assert.Nil(t, cache.Claim(0))
	assert.Nil(t, cache.Claim(-1))
}

func seatID(i int) string {
	return "S-" + string(rune('A'+i/26)) + string(rune('A'+i%26))
}
