package supportchat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Host: "chat.example.test"}.withDefaults()

	want := Config{
		Host:                  "chat.example.test",
		Role:                  RoleCustomer,
		RegionCode:            "US",
		App:                   "go-sdk",
		ClientType:            "consumer-go-sdk",
		ClientVersion:         DefaultClientVersion,
		RetryDelay:            3 * time.Second,
		TypingTimeout:         10 * time.Second,
		AutomatedMessageDelay: 600 * time.Millisecond,
		TypingPreviewInterval: time.Second,
		SessionTTL:            15 * time.Minute,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if !cfg.IsCustomer() {
		t.Errorf("IsCustomer: got false for the default role")
	}
}

func TestConfigSocketURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"chat.example.test", "wss://chat.example.test/api/websocket"},
		{"https://chat.example.test/", "wss://chat.example.test/api/websocket"},
		{"ws://localhost:9000", "ws://localhost:9000/api/websocket"},
	}
	for _, tc := range tests {
		if got := (Config{Host: tc.host}).SocketURL(); got != tc.want {
			t.Errorf("SocketURL(%q): got %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestConfigHeader(t *testing.T) {
	cfg := Config{Host: "h", ClientSecret: "s3cret"}.withDefaults()
	h := cfg.Header()
	if h.Get("ASAPP-ClientType") != "consumer-go-sdk" || h.Get("ASAPP-ClientVersion") != DefaultClientVersion {
		t.Errorf("client headers: %v", h)
	}
	if h.Get("ASAPP-ClientSecret") != "s3cret" {
		t.Errorf("secret header: got %q", h.Get("ASAPP-ClientSecret"))
	}
	if (Config{}).Header().Get("ASAPP-ClientSecret") != "" {
		t.Errorf("secret header set without a secret")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supportchat.yaml")
	yaml := `host: chat.example.test
company_marker: acme
role: rep
retry_delay: 5s
data_dir: /tmp/chat
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SUPPORTCHAT_COMPANY_MARKER", "globex")
	t.Setenv("SUPPORTCHAT_TYPING_TIMEOUT", "2s")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Host != "chat.example.test" || cfg.Role != RoleRep || cfg.RetryDelay != 5*time.Second {
		t.Errorf("file values: %+v", cfg)
	}
	if cfg.CompanyMarker != "globex" {
		t.Errorf("env overlay: got marker %q, want globex", cfg.CompanyMarker)
	}
	if cfg.TypingTimeout != 2*time.Second {
		t.Errorf("env duration: got %v", cfg.TypingTimeout)
	}
	if cfg.RegionCode != "US" {
		t.Errorf("defaults not applied: region %q", cfg.RegionCode)
	}
	if got := cfg.EventLogPath(); got != filepath.Join("/tmp/chat", "globex.events") {
		t.Errorf("EventLogPath: got %q", got)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	os.WriteFile(unknown, []byte("hostname: x\n"), 0o600)
	if _, err := LoadConfig(unknown); err == nil {
		t.Errorf("unknown field accepted")
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("missing file accepted")
	}

	t.Setenv("SUPPORTCHAT_RETRY_DELAY", "soon")
	if _, err := LoadConfig(""); err == nil {
		t.Errorf("bad duration accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).withDefaults().validate(); err != ErrMissingHost {
		t.Errorf("empty host: got %v, want ErrMissingHost", err)
	}
	if err := (Config{Host: "h", Role: "admin"}).withDefaults().validate(); err == nil {
		t.Errorf("unknown role accepted")
	}
}
