package supportchat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role is the kind of user the client acts as.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleRep      Role = "rep"
)

// Config defaults.
const (
	DefaultRegionCode            = "US"
	DefaultApp                   = "go-sdk"
	DefaultClientType            = "consumer-go-sdk"
	DefaultClientVersion         = "1.0.0"
	DefaultRetryDelay            = 3 * time.Second
	DefaultTypingTimeout         = 10 * time.Second
	DefaultAutomatedMessageDelay = 600 * time.Millisecond
	DefaultTypingPreviewInterval = time.Second
	DefaultSessionTTL            = 15 * time.Minute

	envPrefix = "SUPPORTCHAT_"
)

var ErrMissingHost = errors.New("supportchat: host not configured")

// Config holds the conversation parameters.
type Config struct {
	Host          string `yaml:"host"`
	CompanyMarker string `yaml:"company_marker"`
	ClientSecret  string `yaml:"client_secret"`
	UserToken     string `yaml:"user_token"`
	Role          Role   `yaml:"role"`
	// TargetCustomerToken is the CRM id of the customer a rep acts for.
	TargetCustomerToken string `yaml:"target_customer_token"`

	RegionCode    string `yaml:"region_code"`
	App           string `yaml:"app"`
	ClientType    string `yaml:"client_type"`
	ClientVersion string `yaml:"client_version"`

	RetryDelay            time.Duration `yaml:"retry_delay"`
	TypingTimeout         time.Duration `yaml:"typing_timeout"`
	AutomatedMessageDelay time.Duration `yaml:"automated_message_delay"`
	TypingPreviewInterval time.Duration `yaml:"typing_preview_interval"`

	// DataDir holds the persisted event log. Empty disables persistence.
	DataDir    string        `yaml:"data_dir"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	// RedisAddr selects the redis session store; empty keeps sessions in memory.
	RedisAddr string `yaml:"redis_addr"`
}

func (c Config) withDefaults() Config {
	if c.Role == "" {
		c.Role = RoleCustomer
	}
	if c.RegionCode == "" {
		c.RegionCode = DefaultRegionCode
	}
	if c.App == "" {
		c.App = DefaultApp
	}
	if c.ClientType == "" {
		c.ClientType = DefaultClientType
	}
	if c.ClientVersion == "" {
		c.ClientVersion = DefaultClientVersion
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	if c.AutomatedMessageDelay < 0 {
		c.AutomatedMessageDelay = 0
	} else if c.AutomatedMessageDelay == 0 {
		c.AutomatedMessageDelay = DefaultAutomatedMessageDelay
	}
	if c.TypingPreviewInterval <= 0 {
		c.TypingPreviewInterval = DefaultTypingPreviewInterval
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	return c
}

// IsCustomer reports whether the client acts as the customer.
func (c Config) IsCustomer() bool { return c.Role != RoleRep }

// SocketURL returns the WebSocket endpoint for Host.
func (c Config) SocketURL() string {
	host := strings.TrimRight(c.Host, "/")
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") {
		return host + "/api/websocket"
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return "wss://" + host + "/api/websocket"
}

// Header returns the fixed connection headers.
func (c Config) Header() http.Header {
	h := http.Header{}
	h.Set("ASAPP-ClientType", c.ClientType)
	h.Set("ASAPP-ClientVersion", c.ClientVersion)
	if c.ClientSecret != "" {
		h.Set("ASAPP-ClientSecret", c.ClientSecret)
	}
	return h
}

// EventLogPath returns the event file location, or "" without a DataDir.
func (c Config) EventLogPath() string {
	if c.DataDir == "" {
		return ""
	}
	name := c.CompanyMarker
	if name == "" {
		name = "default"
	}
	return filepath.Join(c.DataDir, name+".events")
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrMissingHost
	}
	switch c.Role {
	case RoleCustomer, RoleRep:
	default:
		return fmt.Errorf("supportchat: unknown role %q", c.Role)
	}
	return nil
}

// LoadConfig reads a YAML file (if path is non-empty) and overlays
// SUPPORTCHAT_* environment variables. Defaults are applied last.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := overlayEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

func overlayEnv(cfg *Config) error {
	strs := map[string]*string{
		"HOST":                  &cfg.Host,
		"COMPANY_MARKER":        &cfg.CompanyMarker,
		"CLIENT_SECRET":         &cfg.ClientSecret,
		"USER_TOKEN":            &cfg.UserToken,
		"TARGET_CUSTOMER_TOKEN": &cfg.TargetCustomerToken,
		"REGION_CODE":           &cfg.RegionCode,
		"APP":                   &cfg.App,
		"CLIENT_TYPE":           &cfg.ClientType,
		"CLIENT_VERSION":        &cfg.ClientVersion,
		"DATA_DIR":              &cfg.DataDir,
		"REDIS_ADDR":            &cfg.RedisAddr,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "ROLE"); ok {
		cfg.Role = Role(strings.ToLower(strings.TrimSpace(v)))
	}

	durations := map[string]*time.Duration{
		"RETRY_DELAY":             &cfg.RetryDelay,
		"TYPING_TIMEOUT":          &cfg.TypingTimeout,
		"AUTOMATED_MESSAGE_DELAY": &cfg.AutomatedMessageDelay,
		"TYPING_PREVIEW_INTERVAL": &cfg.TypingPreviewInterval,
		"SESSION_TTL":             &cfg.SessionTTL,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}
	return nil
}
