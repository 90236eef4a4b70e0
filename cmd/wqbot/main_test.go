package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigSchema(t *testing.T) {
	out, err := execute(t, "config", "schema")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
}

func TestConfigCheckAndStateShow(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	if err := os.WriteFile(statePath, []byte(`{"watching":[2,1],"last_seen":{"1":"x"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "telegram:\n  token: \"123:abc\"\n" +
		"schedule:\n  enabled: true\n  at: \"07:15\"\n  timezone: UTC\n" +
		"state:\n  driver: file\n  path: " + statePath + "\n" +
		"logging:\n  level: warn\n  console: true\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "-c", cfgPath, "config", "check")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "schedule=daily at 07:15 (UTC)") {
		t.Fatalf("check output = %q", out)
	}

	out, err = execute(t, "-c", cfgPath, "state", "show")
	if err != nil {
		t.Fatalf("state show: %v", err)
	}
	if !strings.Contains(out, `"watching": [`) || !strings.Contains(out, `"1": "x"`) {
		t.Fatalf("state output = %q", out)
	}
}

func TestConfigCheckRejectsMissingToken(t *testing.T) {
	t.Setenv("TG_BOT_TOKEN", "")
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"schedule":{"enabled":true}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "-c", cfgPath, "config", "check"); err == nil {
		t.Fatal("expected validation error")
	}
}
