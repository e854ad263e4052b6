// Package config loads and validates watcher configuration via Viper.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config captures all watcher configuration knobs loaded via Viper. It is
// resolved once at startup and passed by value to every component.
type Config struct {
	Watch    WatchConfig    `mapstructure:"watch"`
	Render   RenderConfig   `mapstructure:"render"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// WatchConfig controls the polling loop.
type WatchConfig struct {
	URL               string `mapstructure:"url"`
	CheckEverySeconds int    `mapstructure:"check_every_seconds"`
	JitterMaxSeconds  int    `mapstructure:"jitter_max_seconds"`
	StateFile         string `mapstructure:"state_file"`
}

// RenderConfig configures the headless browser.
type RenderConfig struct {
	NavTimeoutMs     int    `mapstructure:"nav_timeout_ms"`
	WaitAfterLoadMs  int    `mapstructure:"wait_after_load_ms"`
	Proxy            string `mapstructure:"proxy"`
	MinHTMLBytes     int    `mapstructure:"min_html_bytes"`
	UserAgent        string `mapstructure:"user_agent"`
	Locale           string `mapstructure:"locale"`
	AcceptLanguage   string `mapstructure:"accept_language"`
	Referer          string `mapstructure:"referer"`
	ViewportWidth    int    `mapstructure:"viewport_width"`
	ViewportHeight   int    `mapstructure:"viewport_height"`
	Attempts         int    `mapstructure:"attempts"`
	BackoffBaseMs    int    `mapstructure:"backoff_base_ms"`
	ReadySelector    string `mapstructure:"ready_selector"`
	ExtractSelector  string `mapstructure:"extract_selector"`
	ChromeExecPath   string `mapstructure:"chrome_exec_path"`
	DisableHeadless  bool   `mapstructure:"disable_headless"`
	NoSandbox        bool   `mapstructure:"no_sandbox"`
}

// TelegramConfig holds the notification credentials.
type TelegramConfig struct {
	Token          string   `mapstructure:"token"`
	ChatIDs        []string `mapstructure:"chat_ids"`
	APIURL         string   `mapstructure:"api_url"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	RatePerChat    float64  `mapstructure:"rate_per_chat"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ServerConfig controls the optional ops HTTP server. An empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultUserAgent mimics a desktop Chrome to reduce anti-bot friction.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/124.0 Safari/537.36"

// legacyEnv maps config keys to the plain environment names the watcher has
// always accepted, in addition to the PAGEWATCH_ prefixed form.
var legacyEnv = map[string]string{
	"watch.url":                 "WATCH_URL",
	"watch.check_every_seconds": "CHECK_EVERY_SECONDS",
	"watch.jitter_max_seconds":  "JITTER_MAX_SECONDS",
	"watch.state_file":          "STATE_FILE",
	"render.nav_timeout_ms":     "PW_NAV_TIMEOUT_MS",
	"render.wait_after_load_ms": "PW_WAIT_AFTER_LOAD_MS",
	"render.proxy":              "PW_PROXY",
	"render.min_html_bytes":     "MIN_HTML_BYTES",
	"telegram.token":            "TELEGRAM_BOT_TOKEN",
	"telegram.chat_ids":         "TELEGRAM_CHAT_IDS",
	"telegram.api_url":          "TELEGRAM_API_URL",
	"logging.level":             "LOG_LEVEL",
	"server.addr":               "METRICS_ADDR",
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range legacyEnv {
		prefixed := "PAGEWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Telegram.ChatIDs = cleanList(cfg.Telegram.ChatIDs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("watch.url", "https://tickets.cafonline.com/fr")
	v.SetDefault("watch.check_every_seconds", 180)
	v.SetDefault("watch.jitter_max_seconds", 60)
	v.SetDefault("watch.state_file", "last_hash.txt")
	v.SetDefault("render.nav_timeout_ms", 60000)
	v.SetDefault("render.wait_after_load_ms", 5000)
	v.SetDefault("render.proxy", "")
	v.SetDefault("render.min_html_bytes", 1000)
	v.SetDefault("render.user_agent", DefaultUserAgent)
	v.SetDefault("render.locale", "fr-FR")
	v.SetDefault("render.accept_language", "fr-FR,fr;q=0.9,en;q=0.8")
	v.SetDefault("render.referer", "https://www.google.com/")
	v.SetDefault("render.viewport_width", 1366)
	v.SetDefault("render.viewport_height", 768)
	v.SetDefault("render.attempts", 2)
	v.SetDefault("render.backoff_base_ms", 1000)
	v.SetDefault("render.ready_selector", "body")
	v.SetDefault("render.extract_selector", "html")
	v.SetDefault("render.chrome_exec_path", "")
	v.SetDefault("render.disable_headless", false)
	v.SetDefault("render.no_sandbox", true)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_ids", []string{})
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout_seconds", 20)
	v.SetDefault("telegram.rate_per_chat", 1.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("server.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Watch.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("watch.url must be an absolute http(s) URL, got %q", c.Watch.URL)
	}
	if c.Watch.CheckEverySeconds <= 0 {
		return fmt.Errorf("watch.check_every_seconds must be > 0")
	}
	if c.Watch.JitterMaxSeconds < 0 {
		return fmt.Errorf("watch.jitter_max_seconds must be >= 0")
	}
	if strings.TrimSpace(c.Watch.StateFile) == "" {
		return fmt.Errorf("watch.state_file must be set")
	}
	if c.Render.NavTimeoutMs <= 0 {
		return fmt.Errorf("render.nav_timeout_ms must be > 0")
	}
	if c.Render.WaitAfterLoadMs < 0 {
		return fmt.Errorf("render.wait_after_load_ms must be >= 0")
	}
	if c.Render.MinHTMLBytes < 0 {
		return fmt.Errorf("render.min_html_bytes must be >= 0")
	}
	if c.Render.Attempts < 1 {
		return fmt.Errorf("render.attempts must be >= 1")
	}
	if c.Render.BackoffBaseMs < 0 {
		return fmt.Errorf("render.backoff_base_ms must be >= 0")
	}
	if c.Render.Proxy != "" && !validProxy(c.Render.Proxy) {
		return fmt.Errorf("render.proxy must be host:port or a URL with a host, got %q", c.Render.Proxy)
	}
	if c.Telegram.TimeoutSeconds <= 0 {
		return fmt.Errorf("telegram.timeout_seconds must be > 0")
	}
	if c.Telegram.RatePerChat < 0 {
		return fmt.Errorf("telegram.rate_per_chat must be >= 0")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// CheckInterval is the base delay between successful checks.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.Watch.CheckEverySeconds) * time.Second
}

// JitterMax is the upper bound of the random delay added to CheckInterval.
func (c Config) JitterMax() time.Duration {
	return time.Duration(c.Watch.JitterMaxSeconds) * time.Second
}

// NavTimeout bounds navigation and every in-page wait.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Render.NavTimeoutMs) * time.Millisecond
}

// SettleDelay is the fixed wait after load before the DOM is extracted.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Render.WaitAfterLoadMs) * time.Millisecond
}

// RenderBackoffBase is the unit of the exponential delay between render attempts.
func (c Config) RenderBackoffBase() time.Duration {
	return time.Duration(c.Render.BackoffBaseMs) * time.Millisecond
}

// NotifyTimeout bounds one outbound notification request.
func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Telegram.TimeoutSeconds) * time.Second
}

// validProxy accepts what Chrome's --proxy-server takes for a single proxy:
// scheme://host[:port] or a bare host:port.
func validProxy(raw string) bool {
	if strings.ContainsAny(raw, " \t") {
		return false
	}
	if strings.Contains(raw, "://") {
		p, err := url.Parse(raw)
		return err == nil && p.Hostname() != ""
	}
	host, port, err := net.SplitHostPort(raw)
	return err == nil && host != "" && port != ""
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
