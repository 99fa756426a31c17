package config

// Config is the full bot configuration.
//
// Both JSON and YAML files are accepted; YAML is coerced to JSON and decoded
// strictly, so unknown keys are rejected in either format. All durations are
// Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Sources  SourcesConfig  `json:"sources"`
	Tracker  TrackerConfig  `json:"tracker"`
	Notify   NotifyConfig   `json:"notify,omitempty"`
	Users    UsersConfig    `json:"users,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs may run /check and /reset and receive audit mirrors.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// AuditChat receives a copy of every delivery outcome (0 disables).
	AuditChat int64 `json:"audit_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/shelfwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite, Go duration string
}

// SourcesConfig configures the product retrieval chain, in priority order:
// structured API, snapshot, storefront scrape.
type SourcesConfig struct {
	// Timeout bounds one adapter call for one seller.
	Timeout  string         `json:"timeout,omitempty"`
	API      APISource      `json:"api"`
	Snapshot SnapshotSource `json:"snapshot"`
	Scrape   ScrapeSource   `json:"scrape"`
}

type APISource struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	Token   string `json:"token,omitempty"`
}

type SnapshotSource struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`
	// MaxAge rejects snapshots older than this (default "12h").
	MaxAge string `json:"max_age,omitempty"`
}

type ScrapeSource struct {
	Enabled     bool   `json:"enabled"`
	Marketplace string `json:"marketplace,omitempty"` // e.g. "co.uk"
	MaxPages    int    `json:"max_pages,omitempty"`
	// PageDelay is the randomized-around base delay between page fetches.
	PageDelay string `json:"page_delay,omitempty"`
}

// TrackerConfig controls cycle scheduling and upstream pacing.
type TrackerConfig struct {
	// Schedule is a cron spec or @every expression ("@every 30m").
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
	// SellerDelay is the fixed delay between consecutive seller checks.
	SellerDelay string `json:"seller_delay,omitempty"`
	// SkipWindow skips sellers checked within this window (forced checks
	// ignore it). "0s" disables skipping.
	SkipWindow string `json:"skip_window,omitempty"`
}

type NotifyConfig struct {
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
}

// UsersConfig is the built-in tier resolver: user id -> tier name, plus
// explicit per-user quota overrides that win over the tier default.
type UsersConfig struct {
	Tiers     map[string]string `json:"tiers,omitempty"`     // "12345": "gold"
	Overrides map[string]int    `json:"overrides,omitempty"` // "12345": 20
}
