package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is loaded once at process start and passed explicitly to every
// component that needs it. Client credentials live here and nowhere else.
type Config struct {
	Addr string

	// InstallTTL bounds how long a pending install may wait for its OAuth
	// callback. It matches the lifetime of the state cookie handed to the
	// browser, so a stale callback is rejected even if the record survives.
	InstallTTL time.Duration

	HubSpot  HubSpot
	Redis    Redis
	Postgres Postgres
	Kafka    Kafka
}

// HubSpot captures the OAuth app registration plus endpoint bases. The
// endpoint fields exist so tests can point the exchanger and API client at
// httptest servers.
type HubSpot struct {
	ClientID        string
	ClientSecret    string
	AppID           string
	DeveloperAPIKey string
	RedirectURI     string
	// ActionURL is the public URL of the workflow callback endpoint,
	// registered as the custom action's target.
	ActionURL string
	Scopes    []string

	AuthURL         string
	TokenURL        string
	APIBaseURL      string
	ExchangeTimeout time.Duration
}

// Redis configures the session store backend. An empty URL disables Redis
// and the in-memory store is used instead.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres configures the durable session and audit stores. An empty DSN
// disables them.
type Postgres struct {
	DSN string
}

// Kafka configures the audit event sink. No brokers means events stay in
// the local audit store only.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

var defaultScopes = []string{
	"crm.objects.contacts.read",
	"crm.objects.contacts.write",
	"crm.schemas.companies.read",
	"crm.objects.companies.read",
	"crm.objects.companies.write",
	"crm.objects.deals.read",
	"crm.objects.deals.write",
	"automation",
	"oauth",
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:       getenv("HUBBRIDGE_ADDR", ":8080"),
		InstallTTL: getDuration("HUBBRIDGE_INSTALL_TTL", 10*time.Minute),
		HubSpot: HubSpot{
			ClientID:        os.Getenv("HUBSPOT_CLIENT_ID"),
			ClientSecret:    os.Getenv("HUBSPOT_CLIENT_SECRET"),
			AppID:           os.Getenv("HUBSPOT_APP_ID"),
			DeveloperAPIKey: os.Getenv("HUBSPOT_DEVELOPER_API_KEY"),
			RedirectURI:     os.Getenv("HUBSPOT_REDIRECT_URI"),
			ActionURL:       os.Getenv("HUBSPOT_ACTION_URL"),
			Scopes:          getList("HUBSPOT_SCOPES", defaultScopes),
			AuthURL:         getenv("HUBSPOT_AUTH_URL", "https://app.hubspot.com/oauth/authorize"),
			TokenURL:        getenv("HUBSPOT_TOKEN_URL", "https://api.hubapi.com/oauth/v1/token"),
			APIBaseURL:      getenv("HUBSPOT_API_BASE_URL", "https://api.hubapi.com"),
			ExchangeTimeout: getDuration("HUBSPOT_EXCHANGE_TIMEOUT", 15*time.Second),
		},
		Redis: Redis{
			URL:          os.Getenv("HUBBRIDGE_REDIS_URL"),
			PoolSize:     getInt("HUBBRIDGE_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("HUBBRIDGE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("HUBBRIDGE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("HUBBRIDGE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("HUBBRIDGE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			DSN: os.Getenv("HUBBRIDGE_POSTGRES_DSN"),
		},
		Kafka: Kafka{
			Brokers:    getList("HUBBRIDGE_KAFKA_BROKERS", nil),
			AuditTopic: getenv("HUBBRIDGE_AUDIT_TOPIC", "hubbridge.audit"),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
