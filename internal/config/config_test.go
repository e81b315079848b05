package config

import (
	"path/filepath"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b *mapBackend) SetString(key, val string) error  { b.data[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }
func (b *mapBackend) Delete(key string) error          { delete(b.data, key); return nil }

func emptyBackend() ConfigBackend {
	return &mapBackend{data: map[string]any{}}
}

func TestDefaults(t *testing.T) {
	t.Setenv("PENNY_API_TOKEN", "test-token")

	cfg, err := loadWith(emptyBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 4201 {
		t.Errorf("Server.MCPPort = %d, want 4201", cfg.Server.MCPPort)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.FastModel != "phi3.5" {
		t.Errorf("Ollama.FastModel = %q", cfg.Ollama.FastModel)
	}
	if cfg.Ollama.DeepModel != "mistral-nemo" {
		t.Errorf("Ollama.DeepModel = %q", cfg.Ollama.DeepModel)
	}
	if cfg.Ollama.EmbedModel != "nomic-embed-text" {
		t.Errorf("Ollama.EmbedModel = %q", cfg.Ollama.EmbedModel)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("Retrieval.TopK = %d, want 10", cfg.Retrieval.TopK)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendOverridesDefaults(t *testing.T) {
	t.Setenv("PENNY_API_TOKEN", "test-token")

	b := &mapBackend{data: map[string]any{
		"server.port":     5000,
		"ollama.base_url": "http://custom:11434",
		"retrieval.top_k": 7,
		"log.level":       "debug",
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://custom:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("Retrieval.TopK = %d, want 7", cfg.Retrieval.TopK)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("PENNY_API_TOKEN", "test-token")
	t.Setenv("PENNY_SERVER_PORT", "6000")
	t.Setenv("PENNY_OLLAMA_FAST_MODEL", "qwen2.5:3b")

	b := &mapBackend{data: map[string]any{
		"server.port":       5000,
		"ollama.fast_model": "phi3.5",
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Ollama.FastModel != "qwen2.5:3b" {
		t.Errorf("Ollama.FastModel = %q", cfg.Ollama.FastModel)
	}
}

func TestMissingToken(t *testing.T) {
	t.Setenv("PENNY_API_TOKEN", "")

	if _, err := loadWith(emptyBackend()); err == nil {
		t.Error("missing API token accepted")
	}
}

func TestInvalidEnvIntFallsBackToDefault(t *testing.T) {
	t.Setenv("PENNY_API_TOKEN", "test-token")
	t.Setenv("PENNY_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(emptyBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want default 4200", cfg.Server.Port)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	b := newFileBackend(path)

	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("setting string: %v", err)
	}
	if err := b.SetInt("server.port", 5000); err != nil {
		t.Fatalf("setting int: %v", err)
	}

	// Fresh backend re-reads from disk.
	b2 := newFileBackend(path)
	if v, ok, err := b2.GetString("log.level"); err != nil || !ok || v != "debug" {
		t.Errorf("GetString = %q, %v, %v", v, ok, err)
	}
	if v, ok, err := b2.GetInt("server.port"); err != nil || !ok || v != 5000 {
		t.Errorf("GetInt = %d, %v, %v", v, ok, err)
	}

	if err := b2.Delete("log.level"); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	b3 := newFileBackend(path)
	if _, ok, _ := b3.GetString("log.level"); ok {
		t.Error("deleted key still present")
	}
}

func TestFileBackendMissingFile(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "nope", "config.json"))
	if _, ok, err := b.GetString("log.level"); ok || err != nil {
		t.Errorf("missing file should read as empty, got ok=%v err=%v", ok, err)
	}
}

func TestSetKey(t *testing.T) {
	b := &mapBackend{data: map[string]any{}}

	if err := setKeyWith(b, "log.level", "debug"); err != nil {
		t.Fatalf("setting string key: %v", err)
	}
	if err := setKeyWith(b, "server.port", "5000"); err != nil {
		t.Fatalf("setting int key: %v", err)
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("non-integer port accepted")
	}
	if err := setKeyWith(b, "api.token", "x"); err == nil {
		t.Error("secret settable via config file")
	}
	if err := setKeyWith(b, "bogus.key", "x"); err == nil {
		t.Error("unknown key accepted")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	t.Setenv("PENNY_API_TOKEN", "super-secret")

	cfg, err := loadWith(emptyBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, info := range ShowAll(cfg) {
		if info.Key == "api.token" || info.Value == "super-secret" {
			t.Errorf("secret leaked via ShowAll: %+v", info)
		}
	}
}

func TestValidKeysExcludesSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "api.token" {
			t.Error("secret key listed as settable")
		}
	}
	if len(ValidKeys()) == 0 {
		t.Error("no valid keys")
	}
}

func TestDefaultDataDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	if got := defaultDataDir(); got != filepath.Join("/tmp/xdg-data", "penny") {
		t.Errorf("defaultDataDir = %q", got)
	}
}
