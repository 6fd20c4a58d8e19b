package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shibob53/webook-scraper/models"
	"github.com/shibob53/webook-scraper/monitoring"
	"github.com/shibob53/webook-scraper/realtime"
)

// SweepStore is the slice of persistence the sweeper needs.
type SweepStore interface {
	AllGrabs(ctx context.Context) ([]*models.TicketGrab, error)
	DeleteGrab(ctx context.Context, grabID string) error
}

// Sweeper removes grabs whose remote hold has lapsed without ever reaching a
// payment page. The remote side releases such holds on its own; the sweeper
// keeps the local records and quota accounting in line with that.
type Sweeper struct {
	store   SweepStore
	emitter *realtime.Emitter
	holdTTL time.Duration
}

func NewSweeper(store SweepStore, emitter *realtime.Emitter, holdTTL time.Duration) *Sweeper {
	return &Sweeper{
		store:   store,
		emitter: emitter,
		holdTTL: holdTTL,
	}
}

// Sweep deletes every abandoned grab and returns how many went. Grabs with a
// payment URL are never touched regardless of age.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	grabs, err := s.store.AllGrabs(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}

	now := time.Now()
	swept := 0
	for _, grab := range grabs {
		if !grab.Abandoned(now, s.holdTTL) {
			continue
		}
		if err := s.store.DeleteGrab(ctx, grab.ID); err != nil {
			s.emitter.Emit(realtime.KindError,
				fmt.Sprintf("sweep: failed to delete grab %s: %v", grab.ID, err))
			continue
		}
		swept++
	}

	if swept > 0 {
		monitoring.TrackSweptGrabs(swept)
		s.emitter.Emit(realtime.KindInfo, fmt.Sprintf("swept %d expired hold(s)", swept))
	}
	return swept, nil
}
