package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantIDs []int64
		wantErr bool
	}{
		{name: "defaults", args: nil},
		{name: "repeated ids", args: []string{"-id", "3", "-id", "5,7"}, wantIDs: []int64{3, 5, 7}},
		{name: "bad id", args: []string{"-id", "x"}, wantErr: true},
		{name: "negative id", args: []string{"-id", "-4"}, wantErr: true},
		{name: "sync and watch", args: []string{"-sync", "-watch"}, wantErr: true},
		{name: "watch with ids", args: []string{"-watch", "-id", "1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := parseFlags(tt.args, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !slices.Equal([]int64(f.ids), tt.wantIDs) {
				t.Errorf("ids = %v, want %v", f.ids, tt.wantIDs)
			}
		})
	}

	f, err := parseFlags([]string{"-from-id", "42"}, &bytes.Buffer{})
	if err != nil || f.fromID == nil || *f.fromID != 42 {
		t.Errorf("from-id = %v, %v", f.fromID, err)
	}
}

func TestRunRejectsIDsWithFromID(t *testing.T) {
	t.Parallel()
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"-id", "1", "-from-id", "2", "-config", filepath.Join(t.TempDir(), "none.yaml")}, &bytes.Buffer{}, &stderr)
	if code != exitError || !strings.Contains(stderr.String(), "cannot be used together") {
		t.Errorf("run() = %d, stderr %q", code, stderr.String())
	}
}

func TestRunWritesSampleConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")

	if code := run(context.Background(), []string{"-new", "-config", path}, &bytes.Buffer{}, &bytes.Buffer{}); code != exitOK {
		t.Fatalf("run(-new) = %d", code)
	}
	data, err := os.ReadFile(path)
	if err != nil || !bytes.Contains(data, []byte("api_id")) {
		t.Fatalf("sample config = %q, %v", data, err)
	}
	if code := run(context.Background(), []string{"-new", "-config", path}, &bytes.Buffer{}, &bytes.Buffer{}); code != exitError {
		t.Errorf("run(-new) over an existing file = %d, want %d", code, exitError)
	}
}

func TestRunImportSession(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "old.json")
	dst := filepath.Join(dir, "session.json")
	if err := os.WriteFile(src, []byte(`{"Version":1,"Data":{"DC":2}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	code := run(context.Background(), []string{"-import-session", src, "-session", dst}, &stdout, &bytes.Buffer{})
	if code != exitOK {
		t.Fatalf("run(-import-session) = %d", code)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("session not written: %v", err)
	}
}
