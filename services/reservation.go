package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shibob53/webook-scraper/browser"
	"github.com/shibob53/webook-scraper/models"
	"github.com/shibob53/webook-scraper/monitoring"
	"github.com/shibob53/webook-scraper/realtime"
)

const (
	bookButtonSelector       = `a[data-testid="book-button"]`
	dayButtonSelector        = `button[name="day"]:not([disabled])`
	summaryButtonSelector    = `button[data-testid="ticketing_tickets_go_to_summary_button"]`
	termsCheckboxSelector    = `input[data-testid="ticketing_summary_terms_checkbox"]`
	proceedToPaymentSelector = `[data-testid="ticketing_summary_proceed_to_payment"]`

	checkAllTermsJS = `(() => {
	const boxes = document.querySelectorAll('input[type="checkbox"]');
	boxes.forEach((box) => { if (!box.checked) box.click(); });
	return boxes.length;
})()`

	pickLatestDayJS = `(() => {
	const days = document.querySelectorAll('button[name="day"]:not([disabled])');
	if (days.length === 0) return 0;
	days[days.length - 1].click();
	return days.length;
})()`

	holdTokenJS = `seatsio.charts[0].holdToken`

	navigationPollInterval = time.Second
)

// GrabStore persists reservation outcomes.
type GrabStore interface {
	CreateGrab(ctx context.Context, grab *models.TicketGrab) error
	DeleteGrab(ctx context.Context, grabID string) error
	SetGrabPaymentURL(ctx context.Context, grabID, paymentURL string) error
}

// ReservationService drives one acquisition attempt on an authenticated page:
// claim inventory, place the remote hold, walk the checkout to the payment
// page, and record the grab.
type ReservationService struct {
	store     GrabStore
	inventory *InventoryCache
	listing   *ListingService
	emitter   *realtime.Emitter

	settings        *models.Settings
	claimBatch      int
	checkoutTimeout time.Duration
}

func NewReservationService(
	store GrabStore,
	inventory *InventoryCache,
	listing *ListingService,
	emitter *realtime.Emitter,
	settings *models.Settings,
	claimBatch int,
	checkoutTimeout time.Duration,
) *ReservationService {
	return &ReservationService{
		store:           store,
		inventory:       inventory,
		listing:         listing,
		emitter:         emitter,
		settings:        settings,
		claimBatch:      claimBatch,
		checkoutTimeout: checkoutTimeout,
	}
}

// Attempt runs one full reservation cycle for the account and returns how
// many tickets it secured. A zero count with a nil error means there was
// nothing claimable this cycle.
func (r *ReservationService) Attempt(ctx context.Context, page browser.Page, account *models.Account, remaining int) (int, error) {
	if remaining <= 0 {
		return 0, nil
	}

	started := time.Now()
	defer func() { monitoring.TrackAttempt(time.Since(started)) }()

	if err := r.openBookingPage(ctx, page); err != nil {
		return 0, err
	}

	seatMode, err := UsesSeatWidget(ctx, page)
	if err != nil {
		return 0, fmt.Errorf("%w: widget probe: %v", ErrInventoryExtraction, err)
	}

	var grab *models.TicketGrab
	if seatMode {
		grab, err = r.holdSeats(ctx, page, account, remaining)
	} else {
		grab, err = r.holdTicketTypes(ctx, page, account, remaining)
	}
	if err != nil {
		return 0, err
	}
	if grab == nil {
		return 0, nil
	}

	paymentURL, err := r.checkout(ctx, page)
	if err != nil {
		// The remote hold expires on its own; the grab must not survive a
		// checkout that never reached payment.
		if delErr := r.store.DeleteGrab(ctx, grab.ID); delErr != nil {
			r.emitter.Emit(realtime.KindError,
				fmt.Sprintf("failed to remove stalled grab %s: %v", grab.ID, delErr))
		}
		if grab.IsSeat {
			r.inventory.Release(grab.SeatDetails)
		}
		return 0, err
	}

	if err := r.store.SetGrabPaymentURL(ctx, grab.ID, paymentURL); err != nil {
		return 0, fmt.Errorf("record payment url: %w", err)
	}

	r.emitter.Emit(realtime.KindInfo, fmt.Sprintf(
		"account %s secured %d ticket(s), payment at %s", account.Email, grab.TicketCount(), paymentURL))
	return grab.TicketCount(), nil
}

// openBookingPage lands on the event's ticketing page, clicking through the
// book button and a date picker when the event has one.
func (r *ReservationService) openBookingPage(ctx context.Context, page browser.Page) error {
	if err := page.Navigate(ctx, r.settings.EventURL); err != nil {
		return fmt.Errorf("%w: open event page: %v", ErrNavigationTimeout, err)
	}

	if err := page.Click(ctx, bookButtonSelector); err != nil {
		// Some events land straight on the booking view.
		if navErr := page.Navigate(ctx, strings.TrimRight(r.settings.EventURL, "/")+"/book"); navErr != nil {
			return fmt.Errorf("%w: open booking page: %v", ErrNavigationTimeout, navErr)
		}
	}

	var dayCount int
	_ = page.Evaluate(ctx, pickLatestDayJS, &dayCount)
	if dayCount > 1 {
		r.emitter.Emit(realtime.KindWarning,
			fmt.Sprintf("event has %d open dates, booking the most recent one", dayCount))
	}
	return nil
}

// holdSeats claims seats from the shared cache and places the remote hold
// through the seating widget.
func (r *ReservationService) holdSeats(ctx context.Context, page browser.Page, account *models.Account, remaining int) (*models.TicketGrab, error) {
	if r.inventory.FreeCount() == 0 {
		if err := r.inventory.Refresh(ctx, page); err != nil {
			return nil, err
		}
	}

	want := remaining
	if want > r.claimBatch {
		want = r.claimBatch
	}
	claimed := r.inventory.Claim(want)
	if len(claimed) == 0 {
		return nil, nil
	}

	seatIDs := make([]string, 0, len(claimed))
	for _, detail := range claimed {
		seatIDs = append(seatIDs, detail.SeatID)
	}

	if err := r.selectSeats(ctx, page, seatIDs); err != nil {
		r.inventory.Restore(claimed)
		return nil, fmt.Errorf("%w: %v", ErrClaimRejected, err)
	}

	var holdToken string
	if err := page.Evaluate(ctx, holdTokenJS, &holdToken); err != nil || holdToken == "" {
		r.inventory.Restore(claimed)
		return nil, fmt.Errorf("%w: no hold token after selection", ErrClaimRejected)
	}

	grab := &models.TicketGrab{
		EventURL:     r.settings.EventURL,
		GrabbedSeats: seatIDs,
		IsSeat:       true,
		HoldToken:    holdToken,
		SeatDetails:  claimed,
		AccountID:    account.ID,
	}
	if err := r.store.CreateGrab(ctx, grab); err != nil {
		return nil, err
	}

	monitoring.TrackGrab("seat")
	return grab, nil
}

func (r *ReservationService) selectSeats(ctx context.Context, page browser.Page, seatIDs []string) error {
	encoded, err := json.Marshal(seatIDs)
	if err != nil {
		return err
	}

	js := fmt.Sprintf(`(async () => {
	try {
		await seatsio.charts[0].trySelectObjects(%s);
		return true;
	} catch (err) {
		return false;
	}
})()`, string(encoded))

	var accepted bool
	if err := page.Evaluate(ctx, js, &accepted); err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("selection of %d seat(s) refused", len(seatIDs))
	}
	return nil
}

// holdTicketTypes books the cheapest eligible ticket type for events without
// a seating chart.
func (r *ReservationService) holdTicketTypes(ctx context.Context, page browser.Page, account *models.Account, remaining int) (*models.TicketGrab, error) {
	types, err := r.listing.TicketTypes(ctx, r.settings.EventURL)
	if err != nil {
		return nil, err
	}

	cheapest := CheapestEligible(types, r.settings.MinPrice, r.settings.MaxPrice, time.Now())
	if cheapest == nil {
		return nil, nil
	}

	quantity := remaining
	if quantity > r.claimBatch {
		quantity = r.claimBatch
	}
	if cheapest.Quantity > 0 && quantity > cheapest.Quantity {
		quantity = cheapest.Quantity
	}
	if quantity == 0 {
		return nil, nil
	}

	if err := r.selectTicketQuantity(ctx, page, cheapest.Name, quantity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClaimRejected, err)
	}

	grab := &models.TicketGrab{
		EventURL:   r.settings.EventURL,
		IsCategory: true,
		Quantity:   quantity,
		AccountID:  account.ID,
	}
	if err := r.store.CreateGrab(ctx, grab); err != nil {
		return nil, err
	}

	monitoring.TrackGrab("category")
	return grab, nil
}

func (r *ReservationService) selectTicketQuantity(ctx context.Context, page browser.Page, typeName string, quantity int) error {
	encodedName, err := json.Marshal(typeName)
	if err != nil {
		return err
	}

	js := fmt.Sprintf(`(() => {
	const rows = document.querySelectorAll('[data-testid="ticketing_tickets_ticket_type"]');
	for (const row of rows) {
		if (!row.textContent.includes(%s)) continue;
		const plus = row.querySelector('button[data-testid="ticketing_tickets_increase_quantity"]');
		if (!plus) return false;
		for (let i = 0; i < %d; i++) plus.click();
		return true;
	}
	return false;
})()`, string(encodedName), quantity)

	var selected bool
	if err := page.Evaluate(ctx, js, &selected); err != nil {
		return err
	}
	if !selected {
		return fmt.Errorf("ticket type %q not selectable", typeName)
	}
	return nil
}

// checkout walks summary and terms to the payment page and returns its URL.
// A checkout that never leaves the summary page is a stall: the caller drops
// the grab and the hold lapses on its own.
func (r *ReservationService) checkout(ctx context.Context, page browser.Page) (string, error) {
	if err := page.Click(ctx, summaryButtonSelector); err != nil {
		return "", fmt.Errorf("%w: summary button: %v", ErrCheckoutStall, err)
	}

	if err := page.WaitVisible(ctx, termsCheckboxSelector); err != nil {
		return "", fmt.Errorf("%w: terms never appeared: %v", ErrCheckoutStall, err)
	}

	var checked int
	if err := page.Evaluate(ctx, checkAllTermsJS, &checked); err != nil || checked == 0 {
		return "", fmt.Errorf("%w: could not accept terms", ErrCheckoutStall)
	}

	summaryURL, err := page.URL(ctx)
	if err != nil {
		return "", err
	}

	if err := page.Click(ctx, proceedToPaymentSelector); err != nil {
		return "", fmt.Errorf("%w: proceed button: %v", ErrCheckoutStall, err)
	}

	deadline := time.Now().Add(r.checkoutTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(navigationPollInterval):
		}

		current, err := page.URL(ctx)
		if err != nil {
			continue
		}
		if current != summaryURL {
			return current, nil
		}
	}
	return "", ErrCheckoutStall
}
