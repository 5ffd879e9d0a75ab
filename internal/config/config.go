package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Crawler  CrawlerConfig
	Browser  BrowserConfig
}

type AppConfig struct {
	Env string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

type CrawlerConfig struct {
	// CategoryURL is the listing page enumerated during discovery.
	CategoryURL string
	// SiteBaseURL prefixes relative product links found on the listing page.
	SiteBaseURL string
	// Region selects the regional offer page variant for each product.
	Region string
	// Workers is the number of concurrent crawl sessions; clamped to the
	// catalog size at dispatch time.
	Workers int
	// MaxFetchAttempts bounds retries of a single page load on timeout.
	MaxFetchAttempts int
	// RestartEvery closes and relaunches a worker's browser after this many
	// page visits.
	RestartEvery int
	// MinDiscovered guards deactivation: a discovery pass below this count
	// is not trusted to deactivate absent products.
	MinDiscovered int
	// PolitenessMin/Max bound the randomized delay between product fetches.
	PolitenessMin time.Duration
	PolitenessMax time.Duration
}

type BrowserConfig struct {
	Headless bool
	// Drivers is the ordered fallback list of browser binaries. An empty
	// path means the launcher's managed download.
	Drivers []Driver
	// Proxies is a literal list; ProxyFile, when set, is a newline-delimited
	// file appended to it.
	Proxies    []string
	ProxyFile  string
	UserAgents []string
	Locale     string
	Width      int
	Height     int
	// PageLoadTimeout bounds one navigation including the idle wait.
	PageLoadTimeout time.Duration
}

// Driver names one launchable browser binary in the fallback order.
type Driver struct {
	Name string
	Bin  string
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:117.0) Gecko/20100101 Firefox/117.0",
}

func Load() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("CATEGORY_URL", "https://www.gdziepolek.pl/kategorie/susz-i-ekstrakt-marihuany-medycznej")
	viper.SetDefault("SITE_BASE_URL", "https://www.gdziepolek.pl")
	viper.SetDefault("REGION", "w-slaskim")
	viper.SetDefault("CRAWL_WORKERS", 2)
	viper.SetDefault("CRAWL_MAX_FETCH_ATTEMPTS", 3)
	viper.SetDefault("CRAWL_RESTART_EVERY", 10)
	viper.SetDefault("CRAWL_MIN_DISCOVERED", 3)
	viper.SetDefault("CRAWL_POLITENESS_MIN_MS", 1000)
	viper.SetDefault("CRAWL_POLITENESS_MAX_MS", 3000)
	viper.SetDefault("BROWSER_HEADLESS", true)
	viper.SetDefault("BROWSER_DRIVERS", "chrome,chromium,managed")
	viper.SetDefault("BROWSER_LOCALE", "pl-PL")
	viper.SetDefault("BROWSER_WIDTH", 1280)
	viper.SetDefault("BROWSER_HEIGHT", 900)
	viper.SetDefault("BROWSER_PAGE_TIMEOUT_MS", 20000)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return &Config{
		App: AppConfig{
			Env: viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
		},
		Crawler: CrawlerConfig{
			CategoryURL:      viper.GetString("CATEGORY_URL"),
			SiteBaseURL:      viper.GetString("SITE_BASE_URL"),
			Region:           viper.GetString("REGION"),
			Workers:          viper.GetInt("CRAWL_WORKERS"),
			MaxFetchAttempts: viper.GetInt("CRAWL_MAX_FETCH_ATTEMPTS"),
			RestartEvery:     viper.GetInt("CRAWL_RESTART_EVERY"),
			MinDiscovered:    viper.GetInt("CRAWL_MIN_DISCOVERED"),
			PolitenessMin:    time.Duration(viper.GetInt("CRAWL_POLITENESS_MIN_MS")) * time.Millisecond,
			PolitenessMax:    time.Duration(viper.GetInt("CRAWL_POLITENESS_MAX_MS")) * time.Millisecond,
		},
		Browser: BrowserConfig{
			Headless:        viper.GetBool("BROWSER_HEADLESS"),
			Drivers:         parseDrivers(viper.GetString("BROWSER_DRIVERS")),
			Proxies:         splitList(viper.GetString("BROWSER_PROXIES")),
			ProxyFile:       viper.GetString("BROWSER_PROXY_FILE"),
			UserAgents:      userAgents(viper.GetString("BROWSER_USER_AGENTS")),
			Locale:          viper.GetString("BROWSER_LOCALE"),
			Width:           viper.GetInt("BROWSER_WIDTH"),
			Height:          viper.GetInt("BROWSER_HEIGHT"),
			PageLoadTimeout: time.Duration(viper.GetInt("BROWSER_PAGE_TIMEOUT_MS")) * time.Millisecond,
		},
	}
}

// parseDrivers turns "chrome,chromium:/usr/bin/chromium,managed" into the
// ordered fallback list. A bare name relies on the launcher's binary lookup;
// "managed" (or an empty bin) means the launcher's downloaded browser.
func parseDrivers(s string) []Driver {
	var drivers []Driver
	for _, part := range splitList(s) {
		name, bin, found := strings.Cut(part, ":")
		if !found {
			bin = ""
		}
		drivers = append(drivers, Driver{Name: name, Bin: bin})
	}
	return drivers
}

func userAgents(s string) []string {
	if agents := splitList(s); len(agents) > 0 {
		return agents
	}
	return defaultUserAgents
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadProxies returns the combined proxy pool: the literal list plus the
// newline-delimited file, when configured. A missing file is an error so a
// typo does not silently disable proxying.
func (b BrowserConfig) LoadProxies() ([]string, error) {
	proxies := append([]string(nil), b.Proxies...)
	if b.ProxyFile == "" {
		return proxies, nil
	}
	data, err := os.ReadFile(b.ProxyFile)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			proxies = append(proxies, line)
		}
	}
	return proxies, nil
}
