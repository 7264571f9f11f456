package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/tgarchive/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "api_id: 123\napi_hash: abc\ngroup: mygroup\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.FetchBatchSize != 100 || cfg.FetchWait != 5 || cfg.FetchLimit != 0 {
		t.Errorf("fetch defaults = %d/%d/%d", cfg.FetchBatchSize, cfg.FetchWait, cfg.FetchLimit)
	}
	if cfg.FetchWaitDuration() != 5*time.Second {
		t.Errorf("FetchWaitDuration() = %v", cfg.FetchWaitDuration())
	}
	if !cfg.DownloadMedia || !cfg.DownloadAvatars {
		t.Error("downloads should be enabled by default")
	}
	if cfg.MediaDir != "media" || cfg.MediaTmpDir != "media/tmp" {
		t.Errorf("media dirs = %q, %q", cfg.MediaDir, cfg.MediaTmpDir)
	}
	if len(cfg.AvatarSize) != 2 || cfg.AvatarSize[0] != 64 {
		t.Errorf("AvatarSize = %v", cfg.AvatarSize)
	}
	if cfg.DBPath != "data.sqlite" || cfg.PerPage != 1000 {
		t.Errorf("DBPath/PerPage = %q/%d", cfg.DBPath, cfg.PerPage)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
}

func TestLoadEnvironment(t *testing.T) {
	path := writeConfig(t, "group: mygroup\nfetch_wait: 1\n")
	t.Setenv("TELEGRAM_API_ID", "42")
	t.Setenv("TELEGRAM_API_HASH", "hash")
	t.Setenv("TGARCHIVE_FETCH_LIMIT", "500")
	t.Setenv("TGARCHIVE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIID != 42 || cfg.APIHash != "hash" {
		t.Errorf("credentials = %d/%q", cfg.APIID, cfg.APIHash)
	}
	if cfg.FetchLimit != 500 || cfg.FetchWait != 1 {
		t.Errorf("FetchLimit/FetchWait = %d/%d", cfg.FetchLimit, cfg.FetchWait)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadEnvironmentOnlyKeys(t *testing.T) {
	t.Setenv("TELEGRAM_API_ID", "42")
	t.Setenv("TELEGRAM_API_HASH", "hash")
	t.Setenv("TGARCHIVE_GROUP", "envgroup")
	t.Setenv("TGARCHIVE_PROXY_USERNAME", "proxyuser")
	t.Setenv("TGARCHIVE_PROXY_PASSWORD", "proxypass")

	cfg, err := config.Load(writeConfig(t, "fetch_wait: 1\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Group != "envgroup" {
		t.Errorf("Group = %q, want envgroup", cfg.Group)
	}
	if cfg.Proxy.Username != "proxyuser" || cfg.Proxy.Password != "proxypass" {
		t.Errorf("Proxy = %+v", cfg.Proxy)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"missing credentials": "group: g\n",
		"batch too large":     "api_id: 1\napi_hash: h\ngroup: g\nfetch_batch_size: 500\n",
		"bad timezone":        "api_id: 1\napi_hash: h\ngroup: g\ntimezone: Mars/Olympus\n",
		"proxy without addr":  "api_id: 1\napi_hash: h\ngroup: g\nproxy:\n  enable: true\n  port: 1080\n",
		"proxy protocol":      "api_id: 1\napi_hash: h\ngroup: g\nproxy:\n  enable: true\n  protocol: http\n  addr: x\n  port: 1\n",
		"same media dirs":     "api_id: 1\napi_hash: h\ngroup: g\nmedia_dir: m\nmedia_tmp_dir: m\n",
		"notify without chat": "api_id: 1\napi_hash: h\ngroup: g\nnotify:\n  bot_token: t\n",
		"bad mime":            "api_id: 1\napi_hash: h\ngroup: g\nmedia_mime_types: [image]\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			if !errors.Is(err, config.ErrConfiguration) {
				t.Fatalf("Load() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_API_ID", "7")
	t.Setenv("TELEGRAM_API_HASH", "h")
	t.Setenv("TGARCHIVE_GROUP", "g")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Group != "g" {
		t.Errorf("Group = %q", cfg.Group)
	}
}

func TestSampleConfigParses(t *testing.T) {
	t.Setenv("TELEGRAM_API_ID", "7")
	t.Setenv("TELEGRAM_API_HASH", "h")
	t.Setenv("TGARCHIVE_GROUP", "g")

	cfg, err := config.Load(writeConfig(t, string(config.SampleConfig)))
	if err != nil {
		t.Fatalf("Load(sample) error = %v", err)
	}
	if cfg.Watch.Schedule == "" {
		t.Error("sample config lost the watch schedule")
	}
}
