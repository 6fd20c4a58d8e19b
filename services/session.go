package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shibob53/webook-scraper/browser"
	"github.com/shibob53/webook-scraper/models"
	"github.com/shibob53/webook-scraper/monitoring"
	"github.com/shibob53/webook-scraper/realtime"
)

const (
	loginButtonSelector   = `a[data-testid="header_nav_login_button"]`
	emailInputSelector    = `input[name="email"]`
	passwordInputSelector = `input[name="password"]`
	submitButtonSelector  = `button[type="submit"]`

	loggedInJS = `!document.querySelector('a[data-testid="header_nav_login_button"]')`

	dismissConsentJS = `(() => {
	for (const button of document.querySelectorAll('button')) {
		if (button.textContent.trim() === 'Accept all') {
			button.click();
			return true;
		}
	}
	return false;
})()`

	loginPollInterval = 2 * time.Second
	throttleWindow    = time.Minute
)

// CookieStore persists refreshed cookie jars back to the account record.
type CookieStore interface {
	SaveAccountCookies(ctx context.Context, account *models.Account) error
}

// SessionService brings a browsing context into an authenticated state for a
// given account, preferring cookie restore over a fresh login.
type SessionService struct {
	store        CookieStore
	redis        *redis.Client
	emitter      *realtime.Emitter
	homeURL      string
	loginURL     string
	loginTimeout time.Duration
	loginBurst   int
}

func NewSessionService(
	store CookieStore,
	redisClient *redis.Client,
	emitter *realtime.Emitter,
	homeURL, loginURL string,
	loginTimeout time.Duration,
	loginBurst int,
) *SessionService {
	return &SessionService{
		store:        store,
		redis:        redisClient,
		emitter:      emitter,
		homeURL:      homeURL,
		loginURL:     loginURL,
		loginTimeout: loginTimeout,
		loginBurst:   loginBurst,
	}
}

// EnsureSession leaves the page authenticated as the account or returns
// ErrAuthFailure. Restored cookies are tried first; a full login only runs
// when the restored session is dead.
func (s *SessionService) EnsureSession(ctx context.Context, page browser.Page, account *models.Account) error {
	if err := s.restoreCookies(ctx, page, account); err != nil {
		s.emitter.Emit(realtime.KindWarning,
			fmt.Sprintf("cookie restore failed for %s: %v", account.Email, err))
	}

	if err := page.Navigate(ctx, s.homeURL); err != nil {
		return fmt.Errorf("%w: open home: %v", ErrNavigationTimeout, err)
	}
	s.dismissConsent(ctx, page)

	if s.isLoggedIn(ctx, page) {
		monitoring.TrackLogin("restored")
		return s.saveCookies(ctx, page, account)
	}

	if err := s.throttleLogin(ctx, account); err != nil {
		return err
	}

	if err := s.login(ctx, page, account); err != nil {
		monitoring.TrackLogin("failed")
		return err
	}

	monitoring.TrackLogin("fresh")
	s.emitter.Emit(realtime.KindInfo, fmt.Sprintf("logged in as %s", account.Email))
	return s.saveCookies(ctx, page, account)
}

func (s *SessionService) restoreCookies(ctx context.Context, page browser.Page, account *models.Account) error {
	if err := page.ClearCookies(ctx); err != nil {
		return err
	}
	if account.CookiesJSON == "" {
		return nil
	}

	var cookies []browser.Cookie
	if err := json.Unmarshal([]byte(account.CookiesJSON), &cookies); err != nil {
		return fmt.Errorf("decode stored cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil
	}
	return page.SetCookies(ctx, cookies)
}

func (s *SessionService) saveCookies(ctx context.Context, page browser.Page, account *models.Account) error {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}
	encoded, err := json.Marshal(cookies)
	if err != nil {
		return err
	}
	account.CookiesJSON = string(encoded)
	return s.store.SaveAccountCookies(ctx, account)
}

func (s *SessionService) isLoggedIn(ctx context.Context, page browser.Page) bool {
	var loggedIn bool
	if err := page.Evaluate(ctx, loggedInJS, &loggedIn); err != nil {
		return false
	}
	return loggedIn
}

func (s *SessionService) dismissConsent(ctx context.Context, page browser.Page) {
	var dismissed bool
	_ = page.Evaluate(ctx, dismissConsentJS, &dismissed)
}

// throttleLogin bounds fresh logins per account inside a one minute window
// so a flapping account does not trip the site's abuse detection.
func (s *SessionService) throttleLogin(ctx context.Context, account *models.Account) error {
	key := "login:throttle:" + account.Email
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("login throttle: %w", err)
	}
	if count == 1 {
		s.redis.Expire(ctx, key, throttleWindow)
	}
	if int(count) > s.loginBurst {
		monitoring.TrackLogin("throttled")
		return fmt.Errorf("%w: %s throttled after %d login attempts", ErrAuthFailure, account.Email, count-1)
	}
	return nil
}

func (s *SessionService) login(ctx context.Context, page browser.Page, account *models.Account) error {
	if err := page.Navigate(ctx, s.loginURL); err != nil {
		return fmt.Errorf("%w: open login page: %v", ErrNavigationTimeout, err)
	}
	s.dismissConsent(ctx, page)

	if err := page.WaitVisible(ctx, emailInputSelector); err != nil {
		return fmt.Errorf("%w: login form never appeared: %v", ErrAuthFailure, err)
	}
	if err := page.Type(ctx, emailInputSelector, account.Email); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	if err := page.Type(ctx, passwordInputSelector, account.Password); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	if err := page.Click(ctx, submitButtonSelector); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}

	deadline := time.Now().Add(s.loginTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loginPollInterval):
		}
		if s.isLoggedIn(ctx, page) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s still unauthenticated after %s", ErrAuthFailure, account.Email, s.loginTimeout)
}
