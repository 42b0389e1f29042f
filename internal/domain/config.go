package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Core engine settings
	Engine  EngineConfig  `json:"engine"`
	Scanner ScannerConfig `json:"scanner"`
	Contact ContactConfig `json:"contact"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig holds probability engine constants. Passed explicitly into
// constructors so tests can instantiate isolated engines.
type EngineConfig struct {
	// DecayRate is k in dP/dt = -k*P, per day.
	DecayRate float64 `json:"decayRate"`

	// BoostFactor scales interaction impulse weights.
	BoostFactor float64 `json:"boostFactor"`

	// Step is the integration resolution in days.
	Step float64 `json:"step"`
}

// ScannerConfig holds compliance scanner settings.
type ScannerConfig struct {
	// EnrichmentURL enables the enriched scanner when set. Empty means
	// rule-based only.
	EnrichmentURL string `json:"enrichmentUrl"`

	// EnrichmentTimeout bounds the external judgment call, in seconds.
	EnrichmentTimeout int `json:"enrichmentTimeout"`
}

// ContactConfig holds contact-frequency guard settings.
type ContactConfig struct {
	// MaxContacts is the number of interactions allowed per case within
	// the window before the excessive-contact flag fires. 0 disables.
	MaxContacts int `json:"maxContacts"`

	// WindowSecs is the rolling window in seconds.
	WindowSecs int `json:"windowSecs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			DecayRate:   0.03,
			BoostFactor: 0.15,
			Step:        0.1,
		},
		Scanner: ScannerConfig{
			EnrichmentTimeout: 5,
		},
		Contact: ContactConfig{
			MaxContacts: 7, // FDCPA-style seven-in-seven guard
			WindowSecs:  7 * 24 * 3600,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
