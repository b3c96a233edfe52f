package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultAndNormalize(t *testing.T) {
	cfg := Default()
	if cfg.Port == 0 || cfg.DataDir == "" || cfg.Callbacks.Attempts < 1 {
		t.Fatalf("default config invalid: %+v", cfg)
	}
	if cfg.Downloader.FileLimit != 49_000_000 {
		t.Fatalf("expected default file limit 49000000, got %d", cfg.Downloader.FileLimit)
	}

	got := normalizeList([]string{"FB2", ".epub", "fb2", "  PDF", ""})

	has := func(slice []string, s string) bool {
		for _, v := range slice {
			if v == s {
				return true
			}
		}
		return false
	}
	if len(got) != 3 || !has(got, "fb2") || !has(got, "epub") || !has(got, "pdf") {
		t.Fatalf("expected normalized set fb2,epub,pdf got %v", got)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	_, err := Load("not_exists.yml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
}

func TestLoadReadsAndValidates(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "cfg.yml")
	content := []byte(`port: 9090
data_dir: testdata
callbacks:
  bot_host: http://bot.local:8000
scheduler:
  poll_interval: 100ms
groups:
  default:
    simultaneously: 2
    delay: 10
    formats: [FB2, epub]
sites:
  author.today:
    group: default
    parameters: [auth, paging]
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.DataDir != "testdata" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Callbacks.BotHost != "http://bot.local:8000/" {
		t.Fatalf("bot host not normalized: %q", cfg.Callbacks.BotHost)
	}
	if cfg.Scheduler.PollInterval.Std() != 100*time.Millisecond {
		t.Fatalf("poll interval not parsed: %s", cfg.Scheduler.PollInterval)
	}
	if cfg.Storage.Path != filepath.Join("testdata", "db") {
		t.Fatalf("storage path not derived from data dir: %q", cfg.Storage.Path)
	}
	site := cfg.Sites["author.today"]
	if site.Downloader != "elib2ebook" || !site.IsActive() {
		t.Fatalf("site defaults not applied: %+v", site)
	}
	if formats := cfg.Groups["default"].Formats; len(formats) != 2 || formats[0] != "fb2" {
		t.Fatalf("group formats not normalized: %v", formats)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	content := []byte(`port = 7070

[callbacks]
pause = "2s"

[groups.default]
simultaneously = 1

[sites."ranobelib.me"]
group = "default"
active = false
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 7070 || cfg.Callbacks.Pause.Std() != 2*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Sites["ranobelib.me"].IsActive() {
		t.Fatalf("expected site to be inactive")
	}
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	cases := map[string]string{
		"negative simultaneously": "groups:\n  g:\n    simultaneously: -1\n",
		"negative delay":          "groups:\n  g:\n    delay: -5\n",
		"unknown group":           "groups:\n  g: {}\nsites:\n  s:\n    group: missing\n",
		"bad redelivery schedule": "scheduler:\n  redelivery_schedule: \"every sometimes\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.yml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestShippedConfigKeepsFixedConstants(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.yml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	def := Default()
	if cfg.Downloader.FileLimit != def.Downloader.FileLimit {
		t.Fatalf("file_limit %d, want %d", cfg.Downloader.FileLimit, def.Downloader.FileLimit)
	}
	if cfg.Scheduler.PulseInterval.Std() != 5*time.Second {
		t.Fatalf("pulse_interval %s, want 5s", cfg.Scheduler.PulseInterval)
	}
	if cfg.Scheduler.PollInterval.Std() != 500*time.Millisecond {
		t.Fatalf("poll_interval %s, want 500ms", cfg.Scheduler.PollInterval)
	}
	if cfg.Callbacks.Attempts != 5 || cfg.Callbacks.Pause.Std() != time.Second {
		t.Fatalf("callbacks %+v, want 5 attempts with 1s pause", cfg.Callbacks)
	}
}
