package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/edgecache/pkg/cache"
	"github.com/Sternrassler/edgecache/pkg/identity"
	"github.com/Sternrassler/edgecache/pkg/logging"
	"github.com/Sternrassler/edgecache/pkg/middleware"
	"github.com/Sternrassler/edgecache/pkg/ratelimit"
	"github.com/Sternrassler/edgecache/pkg/store"
)

// Config is the full runtime configuration of the edgecache proxy.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Store     StoreConfig     `koanf:"store"`
	RateLimit RateLimitConfig `koanf:"rateLimit"`
	Cache     CacheConfig     `koanf:"cache"`
	Admin     AdminConfig     `koanf:"admin"`
}

// ServerConfig holds listener, upstream and request classification settings.
type ServerConfig struct {
	Listen            ListenConfig  `koanf:"listen"`
	Upstream          string        `koanf:"upstream"`
	APIPrefix         string        `koanf:"apiPrefix"`
	TrustForwardedFor bool          `koanf:"trustForwardedFor"`
	IdentityHeader    string        `koanf:"identityHeader"`
	TrustedProxies    []string      `koanf:"trustedProxies"`
	ExcludedPaths     []string      `koanf:"excludedPaths"`
	ShutdownTimeout   time.Duration `koanf:"shutdownTimeout"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// Addr returns the listener address in host:port form.
func (l ListenConfig) Addr() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// StoreConfig describes the shared key-value store.
type StoreConfig struct {
	Driver           string         `koanf:"driver"`
	Address          string         `koanf:"address"`
	Username         string         `koanf:"username"`
	Password         string         `koanf:"password"`
	DB               int            `koanf:"db"`
	ConnectTimeout   time.Duration  `koanf:"connectTimeout"`
	OperationTimeout time.Duration  `koanf:"operationTimeout"`
	HealthInterval   time.Duration  `koanf:"healthInterval"`
	TLS              StoreTLSConfig `koanf:"tls"`
}

type StoreTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// RateLimitConfig holds the sliding-window limits.
type RateLimitConfig struct {
	Enabled       bool             `koanf:"enabled"`
	DefaultLimit  int64            `koanf:"defaultLimit"`
	WindowSeconds int              `koanf:"windowSeconds"`
	Routes        map[string]int64 `koanf:"routes"`
	ExemptIPs     []string         `koanf:"exemptIPs"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled          bool           `koanf:"enabled"`
	Namespace        string         `koanf:"namespace"`
	ListTTLSeconds   int            `koanf:"listTTLSeconds"`
	DetailTTLSeconds int            `koanf:"detailTTLSeconds"`
	RouteTTLSeconds  map[string]int `koanf:"routeTTLSeconds"`
	Paths            []string       `koanf:"paths"`
	MaxBodyBytes     int64          `koanf:"maxBodyBytes"`
}

// AdminConfig toggles the cache administration endpoints.
type AdminConfig struct {
	Enabled bool `koanf:"enabled"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	storeDefaults := store.DefaultConfig()
	rules := middleware.DefaultRules()
	return Config{
		Server: ServerConfig{
			Listen:          ListenConfig{Address: "0.0.0.0", Port: 8080},
			Upstream:        "http://localhost:8000",
			APIPrefix:       middleware.DefaultAPIPrefix,
			IdentityHeader:  identity.DefaultHeader,
			TrustedProxies:  []string{},
			ExcludedPaths:   rules.ExcludedPaths,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Store: StoreConfig{
			Driver:           storeDefaults.Driver,
			Address:          storeDefaults.Address,
			ConnectTimeout:   storeDefaults.ConnectTimeout,
			OperationTimeout: storeDefaults.OperationTimeout,
			HealthInterval:   storeDefaults.HealthInterval,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			DefaultLimit:  ratelimit.DefaultLimit,
			WindowSeconds: int(ratelimit.DefaultWindow / time.Second),
			Routes:        map[string]int64{},
			ExemptIPs:     []string{},
		},
		Cache: CacheConfig{
			Enabled:          true,
			Namespace:        cache.DefaultNamespace,
			ListTTLSeconds:   int(middleware.DefaultListTTL / time.Second),
			DetailTTLSeconds: int(middleware.DefaultDetailTTL / time.Second),
			RouteTTLSeconds:  map[string]int{},
			Paths:            rules.CachePaths,
			MaxBodyBytes:     middleware.DefaultMaxBodyBytes,
		},
	}
}

// Validate checks every section and returns all problems joined.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.listen.port must be between 0 and 65535 (got %d)", c.Server.Listen.Port))
	}
	if u, err := url.Parse(c.Server.Upstream); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.upstream must be an absolute http(s) URL (got %q)", c.Server.Upstream))
	}
	if c.Server.APIPrefix != "" && !strings.HasPrefix(c.Server.APIPrefix, "/") {
		errs = append(errs, fmt.Errorf("server.apiPrefix must start with / (got %q)", c.Server.APIPrefix))
	}
	if _, err := identity.ParsePrefixes(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trustedProxies: %w", err))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdownTimeout must not be negative"))
	}

	if err := logging.ValidateLevel(logging.LogLevel(c.Logging.Level)); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	switch c.Store.Driver {
	case store.DriverRedis, store.DriverValkey:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q (got %q)", store.DriverRedis, store.DriverValkey, c.Store.Driver))
	}
	if strings.TrimSpace(c.Store.Address) == "" {
		errs = append(errs, errors.New("store.address is required"))
	}
	if c.Store.ConnectTimeout > store.MaxConnectTimeout {
		errs = append(errs, fmt.Errorf("store.connectTimeout must not exceed %s", store.MaxConnectTimeout))
	}
	if c.Store.OperationTimeout > store.MaxOperationTimeout {
		errs = append(errs, fmt.Errorf("store.operationTimeout must not exceed %s", store.MaxOperationTimeout))
	}
	if c.Store.DB < 0 {
		errs = append(errs, fmt.Errorf("store.db must not be negative"))
	}

	if err := c.ValidateRules(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateRules checks the sections that can be hot reloaded.
func (c Config) ValidateRules() error {
	var errs []error
	if c.RateLimit.Enabled {
		if c.RateLimit.DefaultLimit <= 0 {
			errs = append(errs, fmt.Errorf("rateLimit.defaultLimit must be positive (got %d)", c.RateLimit.DefaultLimit))
		}
		if c.RateLimit.WindowSeconds < 1 {
			errs = append(errs, fmt.Errorf("rateLimit.windowSeconds must be at least 1 (got %d)", c.RateLimit.WindowSeconds))
		}
		if err := c.Policy().Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Cache.ListTTLSeconds < 1 || c.Cache.DetailTTLSeconds < 1 {
		errs = append(errs, errors.New("cache.listTTLSeconds and cache.detailTTLSeconds must be at least 1"))
	}
	if c.Cache.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("cache.maxBodyBytes must be positive (got %d)", c.Cache.MaxBodyBytes))
	}
	if err := c.Rules().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StoreSettings converts the store section for store.New.
func (c Config) StoreSettings() store.Config {
	return store.Config{
		Driver:           c.Store.Driver,
		Address:          c.Store.Address,
		Username:         c.Store.Username,
		Password:         c.Store.Password,
		DB:               c.Store.DB,
		ConnectTimeout:   c.Store.ConnectTimeout,
		OperationTimeout: c.Store.OperationTimeout,
		HealthInterval:   c.Store.HealthInterval,
		TLS: store.TLSConfig{
			Enabled: c.Store.TLS.Enabled,
			CAFile:  c.Store.TLS.CAFile,
		},
	}
}

// LoggingSettings converts the logging section for logging.Setup.
func (c Config) LoggingSettings() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

// Authenticator builds the identity header reader. Invalid proxy entries are
// rejected by Validate.
func (c Config) Authenticator() identity.TrustedHeader {
	proxies, _ := identity.ParsePrefixes(c.Server.TrustedProxies)
	return identity.TrustedHeader{Header: c.Server.IdentityHeader, Proxies: proxies}
}

// Policy converts the rate limit section.
func (c Config) Policy() ratelimit.Policy {
	routes := make(map[string]int64, len(c.RateLimit.Routes))
	for prefix, limit := range c.RateLimit.Routes {
		routes[prefix] = limit
	}
	return ratelimit.Policy{
		DefaultLimit: c.RateLimit.DefaultLimit,
		Window:       time.Duration(c.RateLimit.WindowSeconds) * time.Second,
		Routes:       routes,
		ExemptIPs:    append([]string(nil), c.RateLimit.ExemptIPs...),
	}
}

// Rules converts the request classification and cache sections.
func (c Config) Rules() middleware.Rules {
	ttls := make(map[string]time.Duration, len(c.Cache.RouteTTLSeconds))
	for prefix, seconds := range c.Cache.RouteTTLSeconds {
		ttls[prefix] = time.Duration(seconds) * time.Second
	}
	return middleware.Rules{
		APIPrefix:         c.Server.APIPrefix,
		ExcludedPaths:     append([]string(nil), c.Server.ExcludedPaths...),
		CachePaths:        append([]string(nil), c.Cache.Paths...),
		ListTTL:           time.Duration(c.Cache.ListTTLSeconds) * time.Second,
		DetailTTL:         time.Duration(c.Cache.DetailTTLSeconds) * time.Second,
		RouteTTLs:         ttls,
		MaxBodyBytes:      c.Cache.MaxBodyBytes,
		TrustForwardedFor: c.Server.TrustForwardedFor,
	}
}
