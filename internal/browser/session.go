package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"time"

	"pharmwatch/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

var (
	// ErrNoDriver means every configured driver failed to launch. This is
	// unrecoverable for the worker owning the session.
	ErrNoDriver = errors.New("no browser driver available")

	ErrNotReady = errors.New("browser session is not ready")
)

// State tracks the session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateLaunching
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Matcher is one capability-typed element probe: a CSS selector plus a
// regex the element text must match. Fallback lists of matchers are kept
// as data so new site markup variants are configuration changes.
type Matcher struct {
	Selector string
	Pattern  string
}

// Session owns one browser instance for one crawl worker. Sessions are not
// safe for concurrent use; each worker constructs its own.
type Session struct {
	cfg          config.BrowserConfig
	logger       *zap.Logger
	rng          *rand.Rand
	proxies      []string
	restartEvery int

	state    State
	browser  *rod.Browser
	launcher *launcher.Launcher
	visits   int
}

// NewSession prepares a session without launching anything. restartEvery
// bounds memory growth: after that many page visits the browser is closed
// and relaunched. Zero disables restarts.
func NewSession(cfg config.BrowserConfig, restartEvery int, logger *zap.Logger) (*Session, error) {
	proxies, err := cfg.LoadProxies()
	if err != nil {
		return nil, fmt.Errorf("failed to load proxy pool: %w", err)
	}

	return &Session{
		cfg:          cfg,
		logger:       logger,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		proxies:      proxies,
		restartEvery: restartEvery,
		state:        StateUninitialized,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Start walks the configured driver fallback order and launches the first
// one that works. When every driver fails it returns ErrNoDriver wrapping
// the last launch error.
func (s *Session) Start() error {
	if s.state == StateClosed {
		return ErrNotReady
	}
	s.state = StateLaunching

	drivers := s.cfg.Drivers
	if len(drivers) == 0 {
		drivers = []config.Driver{{Name: "managed"}}
	}

	var lastErr error
	for _, driver := range drivers {
		s.logger.Info("Launching browser driver", zap.String("driver", driver.Name))
		if err := s.launchDriver(driver); err != nil {
			s.logger.Warn("Driver launch failed",
				zap.String("driver", driver.Name),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		s.state = StateReady
		s.visits = 0
		s.logger.Info("Browser session ready", zap.String("driver", driver.Name))
		return nil
	}

	s.state = StateUninitialized
	return fmt.Errorf("%w: %v", ErrNoDriver, lastErr)
}

func (s *Session) launchDriver(driver config.Driver) error {
	bin, err := s.resolveBinary(driver)
	if err != nil {
		return err
	}

	l := launcher.New().
		Headless(s.cfg.Headless).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("lang", s.cfg.Locale).
		Set("window-size", fmt.Sprintf("%d,%d", s.cfg.Width, s.cfg.Height)).
		Delete("enable-automation")

	if bin != "" {
		l = l.Bin(bin)
	}

	if proxy := s.randomProxy(); proxy != "" {
		s.logger.Info("Using proxy", zap.String("proxy", proxy))
		l = l.Proxy(proxy)
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return fmt.Errorf("failed to launch %s: %w", driver.Name, err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("failed to connect to %s: %w", driver.Name, err)
	}

	s.browser = b
	s.launcher = l
	return nil
}

// resolveBinary maps a driver entry to a concrete browser binary. The
// "managed" driver downloads a browser via the launcher when nothing is
// installed.
func (s *Session) resolveBinary(driver config.Driver) (string, error) {
	if driver.Bin != "" {
		return driver.Bin, nil
	}
	if driver.Name == "managed" {
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return "", fmt.Errorf("failed to download managed browser: %w", err)
		}
		return path, nil
	}
	path, err := exec.LookPath(driver.Name)
	if err != nil {
		return "", fmt.Errorf("binary %q not found in PATH: %w", driver.Name, err)
	}
	return path, nil
}

// Fetch navigates to url, waits for the page to settle, scrolls to the
// bottom to trigger lazy-loaded offer sections, and returns the rendered
// HTML. The visit counts against the restart budget.
func (s *Session) Fetch(ctx context.Context, url string) (string, error) {
	page, err := s.newPage(ctx)
	if err != nil {
		return "", err
	}
	defer page.Close()

	if err := s.loadAndSettle(page, url); err != nil {
		return "", err
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to capture page html: %w", err)
	}
	return html, nil
}

// FetchAndExpand behaves like Fetch but first clicks "load more" style
// controls until no matcher finds one, bounded by maxClicks to avoid
// spinning on a stuck UI.
func (s *Session) FetchAndExpand(ctx context.Context, url string, matchers []Matcher, maxClicks int) (string, error) {
	page, err := s.newPage(ctx)
	if err != nil {
		return "", err
	}
	defer page.Close()

	if err := s.loadAndSettle(page, url); err != nil {
		return "", err
	}

	for click := 0; click < maxClicks; click++ {
		el := s.findControl(page, matchers)
		if el == nil {
			break
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			s.logger.Warn("Failed to click expand control", zap.Error(err))
			break
		}
		if err := page.WaitStable(time.Second); err != nil {
			break
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to capture page html: %w", err)
	}
	return html, nil
}

// findControl tries each matcher in order with a short probe timeout and
// returns the first matching element, or nil when the page offers none.
func (s *Session) findControl(page *rod.Page, matchers []Matcher) *rod.Element {
	for _, m := range matchers {
		probe := page.Timeout(2 * time.Second)
		el, err := probe.ElementR(m.Selector, m.Pattern)
		if err != nil {
			continue
		}
		return el
	}
	return nil
}

func (s *Session) newPage(ctx context.Context) (*rod.Page, error) {
	if s.state != StateReady {
		return nil, ErrNotReady
	}

	if s.restartEvery > 0 && s.visits >= s.restartEvery {
		s.logger.Info("Restarting browser session",
			zap.Int("visits", s.visits),
			zap.Int("restart_every", s.restartEvery),
		)
		if err := s.restart(); err != nil {
			return nil, err
		}
	}

	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to open stealth page: %w", err)
	}

	page = page.Context(ctx).Timeout(s.cfg.PageLoadTimeout)

	ua := s.randomUserAgent()
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      ua,
		AcceptLanguage: s.cfg.Locale,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to set user agent: %w", err)
	}

	s.visits++
	return page, nil
}

func (s *Session) loadAndSettle(page *rod.Page, url string) error {
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page load timeout for %s: %w", url, err)
	}

	// Lazy-loaded offer sections render only once scrolled into view.
	if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		s.logger.Debug("Scroll to bottom failed", zap.Error(err))
	}
	if err := page.WaitStable(time.Second); err != nil {
		return fmt.Errorf("page did not settle for %s: %w", url, err)
	}
	return nil
}

func (s *Session) restart() error {
	s.teardown()
	s.state = StateUninitialized
	return s.Start()
}

// Close releases the browser and its launcher. A closed session cannot be
// restarted.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.teardown()
	s.state = StateClosed
	return nil
}

func (s *Session) teardown() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("Failed to close browser", zap.Error(err))
		}
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
		s.launcher = nil
	}
}

func (s *Session) randomUserAgent() string {
	if len(s.cfg.UserAgents) == 0 {
		return ""
	}
	return s.cfg.UserAgents[s.rng.Intn(len(s.cfg.UserAgents))]
}

func (s *Session) randomProxy() string {
	if len(s.proxies) == 0 {
		return ""
	}
	return s.proxies[s.rng.Intn(len(s.proxies))]
}
