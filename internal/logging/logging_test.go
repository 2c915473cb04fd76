package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(Config{Level: "debug", Format: "json"}, &buf)

	log.With(String("component", "phy")).Debug(context.Background(), "state change",
		Int("cell", 1), Float64("sinr_db", 12.5), Bool("ok", true), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "state change" {
		t.Fatalf("msg = %v, want %q", rec["msg"], "state change")
	}
	if rec["component"] != "phy" || rec["error"] != "boom" || rec["sinr_db"] != 12.5 {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(Config{Level: "warn"}, &buf)

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering failed: %q", out)
	}
}

func TestRotatingFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.log")
	log := New(Config{Level: "info", Format: "text", File: path})

	log.Info(context.Background(), "written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("log file content = %q", data)
	}
}

func TestEnsureRunIDIsStable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRunID returned empty id")
	}
	_, again := EnsureRunID(ctx)
	if again != id {
		t.Fatalf("run id changed: %q -> %q", id, again)
	}

	ctx = ContextWithLogger(ctx, Noop())
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("LoggerFromContext returned nil")
	}
}
