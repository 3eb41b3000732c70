// Package browser manages the Chrome session used to drive the source
// service. A persistent user data directory keeps the login cookie between
// runs, so interactive login is only needed once.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"immichporter/pkg/config"
	errs "immichporter/pkg/errors"
	"immichporter/pkg/logger"
)

// Session is a live browser attached to the source service.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	allocCancel context.CancelFunc
	baseURL     string
	logger      logger.Logger
}

// Manager owns browser lifecycle: launching Chrome, verifying login state
// and the interface locale, and tearing the session down.
type Manager struct {
	cfg    config.GPhotosConfig
	logger logger.Logger
}

// NewManager creates a session manager from scraper configuration.
func NewManager(cfg config.GPhotosConfig, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{cfg: cfg, logger: log}
}

// Acquire launches Chrome and verifies the session is logged in and the
// interface language is supported. The returned session must be released
// by the caller.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	s, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.verify(ctx); err != nil {
		s.Release()
		return nil, err
	}

	return s, nil
}

// AcquireForLogin launches Chrome headful without checking login state,
// for the interactive login flow.
func (m *Manager) AcquireForLogin(ctx context.Context) (*Session, error) {
	headless := m.cfg.Headless
	m.cfg.Headless = false
	defer func() { m.cfg.Headless = headless }()

	return m.launch(ctx)
}

func (m *Manager) launch(ctx context.Context) (*Session, error) {
	dataDir := m.cfg.UserDataDir
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".immichporter", "chrome")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create user data directory: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserDataDir(dataDir),
		chromedp.WindowSize(1440, 900),
	)
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force Chrome to start now so launch failures surface here
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, errs.Newf(errs.ErrorTypeNetwork, "failed to launch browser: %v", err)
	}

	m.logger.InfoWithFields("browser session started", map[string]interface{}{
		"headless": m.cfg.Headless,
		"data_dir": dataDir,
	})

	return &Session{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		baseURL:     strings.TrimRight(m.cfg.BaseURL, "/"),
		logger:      m.logger,
	}, nil
}

// verify navigates to the service root and checks login state and locale.
func (s *Session) verify(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
	defer cancel()

	var currentURL, lang string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(s.baseURL),
		chromedp.WaitReady("body"),
		chromedp.Location(&currentURL),
		chromedp.AttributeValue("html", "lang", &lang, nil),
	)
	if err != nil {
		return errs.Newf(errs.ErrorTypeTimeout, "failed to load service page: %v", err)
	}

	if isLoginURL(currentURL) {
		return errs.New(errs.ErrorTypeSessionExpired, "browser session is not logged in, run gphoto login first")
	}

	if !isSupportedLocale(lang) {
		return errs.Newf(errs.ErrorTypeLocale,
			"interface language %q is not supported, field extraction needs an English locale", lang)
	}

	s.logger.Debug("browser session verified")
	return nil
}

// isLoginURL reports whether the browser was redirected to an account
// login page instead of the service.
func isLoginURL(url string) bool {
	return strings.Contains(url, "accounts.google.") ||
		strings.Contains(url, "/signin") ||
		strings.Contains(url, "/ServiceLogin")
}

// isSupportedLocale accepts English locales. The extractors parse visible
// labels such as "Shared by", which other locales render differently.
func isSupportedLocale(lang string) bool {
	if lang == "" {
		// Some page states omit the attribute; treat as acceptable
		// and let extraction surface schema errors if parsing fails
		return true
	}
	return strings.HasPrefix(strings.ToLower(lang), "en")
}

// Context returns the chromedp context for running browser actions.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Run executes chromedp actions in this session.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	} else if ctx.Done() != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(runCtx)
		defer cancel()
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-runCtx.Done():
			}
		}()
	}
	return chromedp.Run(runCtx, actions...)
}

// LoggedIn reports whether the current session still has a valid login,
// without failing the run.
func (s *Session) LoggedIn(ctx context.Context) bool {
	var currentURL string
	err := s.Run(ctx, chromedp.Location(&currentURL))
	if err != nil {
		return false
	}
	return !isLoginURL(currentURL)
}

// WaitForLogin blocks until the user completes the interactive login or
// the context expires. Polls the current URL once a second.
func (s *Session) WaitForLogin(ctx context.Context) error {
	if err := s.Run(ctx, chromedp.Navigate(s.baseURL)); err != nil {
		return errs.Newf(errs.ErrorTypeNetwork, "failed to open login page: %v", err)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errs.New(errs.ErrorTypeSessionExpired, "login was not completed in time")
		case <-ticker.C:
			var currentURL string
			if err := s.Run(ctx, chromedp.Location(&currentURL)); err != nil {
				continue
			}
			if !isLoginURL(currentURL) && strings.HasPrefix(currentURL, s.baseURL) {
				s.logger.Info("login completed")
				return nil
			}
		}
	}
}

// Release closes the browser and frees the allocator.
func (s *Session) Release() {
	s.cancel()
	s.allocCancel()
	s.logger.Debug("browser session released")
}
