package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bitethatthing2/no-creyeron-sub000/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantDebug bool
		wantJSON  bool
	}{
		{name: "Defaults", cfg: config.LogConfig{Level: "info", Format: "text"}},
		{name: "Debug JSON", cfg: config.LogConfig{Level: "debug", Format: "JSON"}, wantDebug: true, wantJSON: true},
		{name: "Unknown level", cfg: config.LogConfig{Level: "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := newLogger(tt.cfg, buf)
			if got := logger.Enabled(context.Background(), -4); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			logger.Info("hello", "user_id", "alice")
			if got := json.Valid(bytes.TrimSpace(buf.Bytes())); got != tt.wantJSON {
				t.Errorf("JSON output = %v, want %v: %s", got, tt.wantJSON, buf)
			}
		})
	}
}

func TestRootCmd(t *testing.T) {
	cmd := rootCmd()
	if cmd.Use != appName {
		t.Errorf("Use = %q, want %q", cmd.Use, appName)
	}
	sub, _, err := cmd.Find([]string{"migrate"})
	if err != nil || sub.Use != "migrate" {
		t.Fatalf("Find(migrate) = %v, %v", sub, err)
	}
	if f := cmd.PersistentFlags().Lookup("config"); f == nil || f.Shorthand != "c" {
		t.Error("missing --config/-c flag")
	}
	if !strings.Contains(cmd.Long, "WOLFPACK_") {
		t.Error("help does not mention environment variables")
	}
}
