package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 6777 {
		t.Errorf("port = %d, want 6777", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q", cfg.Server.Host)
	}
	if cfg.Database.DSN != "./data/amp_pool.db" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Server.Addr() != "0.0.0.0:6777" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
}

func TestLoadFileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_AMP_SECRET", "s3cret")

	path := filepath.Join(t.TempDir(), "amppool.yaml")
	data := `
server:
  port: 9000
  api_secret: ${TEST_AMP_SECRET}
  api_prefix: "api/"
  read_timeout: 10s
database:
  dsn: ":memory:"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.APISecret != "s3cret" {
		t.Errorf("api_secret = %q, want expanded env value", cfg.Server.APISecret)
	}
	if cfg.Server.APIPrefix != "/api" {
		t.Errorf("api_prefix = %q, want normalized /api", cfg.Server.APIPrefix)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read_timeout = %v", cfg.Server.ReadTimeout)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	env := map[string]string{
		"PORT":       "7000",
		"HOST":       "127.0.0.1",
		"API_SECRET": "tok",
		"DB_ECHO":    "true",
	}
	cfg.applyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if cfg.Server.Port != 7000 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server = %s", cfg.Server.Addr())
	}
	if cfg.Server.APISecret != "tok" {
		t.Errorf("api_secret = %q", cfg.Server.APISecret)
	}
	if !cfg.Database.Echo {
		t.Error("db echo not applied")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.ApplyOverrides(map[string]string{
		"PORT":         "8080",
		"ADMIN_PREFIX": "console/",
	})
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.AdminPrefix != "/console" {
		t.Errorf("admin_prefix = %q, want /console", cfg.Server.AdminPrefix)
	}
}

func TestApplyEnvIgnoresBadValues(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.applyEnv(func(key string) (string, bool) {
		if key == "PORT" {
			return "not-a-port", true
		}
		return "", false
	})
	if cfg.Server.Port != 6777 {
		t.Errorf("port = %d, want default kept", cfg.Server.Port)
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":       "",
		"/":      "",
		"api":    "/api",
		"/api":   "/api",
		"/api/":  "/api",
		"a/b/":   "/a/b",
		"//api/": "/api",
	}
	for in, want := range cases {
		if got := NormalizePrefix(in); got != want {
			t.Errorf("NormalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
