// Package config loads ledgergate settings from ledgergate.yaml and the
// environment. Environment variables use the key path with dots replaced by
// underscores, e.g. LEDGER_NAME or AZURE_CLIENT_SECRET.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmerrifield20/ledgergate/pkg/ledger"
)

// Journal backends.
const (
	JournalNone     = "none"
	JournalMemory   = "memory"
	JournalBolt     = "bolt"
	JournalPostgres = "postgres"
)

type Server struct {
	Port           int
	CORSOrigins    []string
	RateLimitRPS   int
	MaxUploadBytes int64
}

type Ledger struct {
	Name            string
	Endpoint        string
	IdentityURL     string
	CertFile        string
	APIVersion      string
	HTTPTimeout     time.Duration
	PendingRetries  int
	PendingInterval time.Duration
	PendingTimeout  time.Duration
	EntryCacheSize  int
}

type Azure struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
	ResourceGroup  string
	Location       string
}

type Journal struct {
	Backend     string
	BoltPath    string
	DatabaseURL string
}

type Health struct {
	Interval      time.Duration
	FailThreshold int
}

// Config is the typed view of all settings.
type Config struct {
	Server  Server
	Ledger  Ledger
	Azure   Azure
	Journal Journal
	Health  Health
}

// New returns a viper instance with every default set and environment
// binding enabled. configFile, when non-empty, replaces the search for
// ledgergate.yaml in configs/ and the working directory.
func New(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ledgergate")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.max_upload_bytes", 10<<20)
	v.SetDefault("ledger.name", "")
	v.SetDefault("ledger.endpoint", "")
	v.SetDefault("ledger.identity_url", ledger.DefaultIdentityURL)
	v.SetDefault("ledger.cert_file", "networkcert.pem")
	v.SetDefault("ledger.api_version", ledger.DefaultAPIVersion)
	v.SetDefault("ledger.http_timeout", "0s")
	v.SetDefault("ledger.pending_retries", 1)
	v.SetDefault("ledger.pending_interval", "0s")
	v.SetDefault("ledger.pending_timeout", "0s")
	v.SetDefault("ledger.entry_cache_size", 1024)
	v.SetDefault("azure.tenant_id", "")
	v.SetDefault("azure.client_id", "")
	v.SetDefault("azure.client_secret", "")
	v.SetDefault("azure.subscription_id", "")
	v.SetDefault("azure.resource_group", "")
	v.SetDefault("azure.location", "southeastasia")
	v.SetDefault("journal.backend", JournalNone)
	v.SetDefault("journal.bolt_path", "data/journal.db")
	v.SetDefault("database.url", "")
	v.SetDefault("health.interval", "1m")
	v.SetDefault("health.fail_threshold", 3)
	return v
}

// Read loads the config file into v. A missing file is not an error; the
// returned bool reports whether one was found.
func Read(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &cfgNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read config: %w", err)
	}
	return true, nil
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: Server{
			Port:           v.GetInt("server.port"),
			CORSOrigins:    v.GetStringSlice("server.cors_origins"),
			RateLimitRPS:   v.GetInt("server.rate_limit_rps"),
			MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
		},
		Ledger: Ledger{
			Name:            v.GetString("ledger.name"),
			Endpoint:        v.GetString("ledger.endpoint"),
			IdentityURL:     v.GetString("ledger.identity_url"),
			CertFile:        v.GetString("ledger.cert_file"),
			APIVersion:      v.GetString("ledger.api_version"),
			HTTPTimeout:     v.GetDuration("ledger.http_timeout"),
			PendingRetries:  v.GetInt("ledger.pending_retries"),
			PendingInterval: v.GetDuration("ledger.pending_interval"),
			PendingTimeout:  v.GetDuration("ledger.pending_timeout"),
			EntryCacheSize:  v.GetInt("ledger.entry_cache_size"),
		},
		Azure: Azure{
			TenantID:       v.GetString("azure.tenant_id"),
			ClientID:       v.GetString("azure.client_id"),
			ClientSecret:   v.GetString("azure.client_secret"),
			SubscriptionID: v.GetString("azure.subscription_id"),
			ResourceGroup:  v.GetString("azure.resource_group"),
			Location:       v.GetString("azure.location"),
		},
		Journal: Journal{
			Backend:     strings.ToLower(v.GetString("journal.backend")),
			BoltPath:    v.GetString("journal.bolt_path"),
			DatabaseURL: v.GetString("database.url"),
		},
		Health: Health{
			Interval:      v.GetDuration("health.interval"),
			FailThreshold: v.GetInt("health.fail_threshold"),
		},
	}

	if cfg.Ledger.Endpoint == "" && cfg.Ledger.Name != "" {
		cfg.Ledger.Endpoint = fmt.Sprintf("https://%s.confidential-ledger.azure.com", cfg.Ledger.Name)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Journal.Backend {
	case JournalNone, JournalMemory, JournalBolt:
	case JournalPostgres:
		if c.Journal.DatabaseURL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres journal"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal.backend %q", c.Journal.Backend))
	}
	if c.Ledger.PendingRetries < 0 {
		errs = append(errs, errors.New("ledger.pending_retries must not be negative"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// RequireLedger reports an error unless a data-plane endpoint is configured.
func (c *Config) RequireLedger() error {
	if c.Ledger.Endpoint == "" {
		return errors.New("ledger.name or ledger.endpoint must be set (env LEDGER_NAME)")
	}
	return nil
}
