package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"hybridsched/constants"
	"hybridsched/executor"
	"hybridsched/schedule"
)

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return loadWithFlagSet(fs, args)
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hybridsched.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.SmallCapacity != constants.DefaultSmallCapacity || cfg.InAdvanceUs != constants.DefaultInAdvanceUs {
		t.Errorf("defaults not taken from constants: %+v", cfg)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeYAML(t, `
hosts: 3
resize: true
big_capacity: 256
log_level: debug
schedule: "2 100 1/2/0 100 -1/-1/-1"
`)
	t.Setenv("HYBRIDSCHED_BIG_CAPACITY", "512")
	t.Setenv("HYBRIDSCHED_LOG_LEVEL", "warn")

	cfg, err := load(t, "-config", path, "-log-level", "error", "-executor-cpu=2")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Hosts != 3 || !cfg.Resize {
		t.Errorf("YAML layer not applied: %+v", cfg)
	}
	if cfg.BigCapacity != 512 {
		t.Errorf("env should override YAML, got big capacity %d", cfg.BigCapacity)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("flag should override env, got log level %q", cfg.LogLevel)
	}
	if cfg.ExecutorCPU != 2 {
		t.Errorf("expected executor cpu 2, got %d", cfg.ExecutorCPU)
	}
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	path := writeYAML(t, "hosts: 4\n")
	t.Setenv("HYBRIDSCHED_CONFIG", path)
	cfg, err := load(t)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Hosts != 4 {
		t.Fatalf("expected hosts from HYBRIDSCHED_CONFIG file, got %d", cfg.Hosts)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"hosts zero", nil, []string{"-hosts", "0"}},
		{"hosts too many", nil, []string{"-hosts", "10"}},
		{"small above big", nil, []string{"-small-capacity", "200", "-big-capacity", "100"}},
		{"non-positive threshold", nil, []string{"-small-threshold", "0"}},
		{"negative delay", nil, []string{"-extra-circuit-delay", "-1"}},
		{"bad schedule", nil, []string{"-schedule", "2 100 1/0"}},
		{"bad env int", map[string]string{"HYBRIDSCHED_HOSTS": "many"}, nil},
		{"bad env bool", map[string]string{"HYBRIDSCHED_RESIZE": "sometimes"}, nil},
		{"unknown flag", nil, []string{"-bogus"}},
		{"missing file", nil, []string{"-config", "/nonexistent/hybridsched.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := load(t, tt.args...); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestValidateWrapsSentinels(t *testing.T) {
	cfg := Default()
	cfg.Schedule = "2 100 1/0/1"
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) || !errors.Is(err, schedule.ErrMalformed) {
		t.Fatalf("schedule error = %v", err)
	}
	cfg = Default()
	cfg.BigThreshold = 0
	if err := cfg.Validate(); !errors.Is(err, executor.ErrInvalidParam) {
		t.Fatalf("threshold error = %v", err)
	}
}

func TestExecutorParams(t *testing.T) {
	cfg := Default()
	cfg.Schedule = "2 100 1/0 50 -1/-1"
	cfg.Resize = true
	cfg.ExtraCircuitDelay = 0.25
	p, err := cfg.ExecutorParams()
	if err != nil {
		t.Fatal(err)
	}
	if p.Schedule == nil || p.Schedule.Len() != 2 || !p.Resize || p.ExtraDelaySec != 0.25 {
		t.Fatalf("unexpected params %+v", p)
	}
	cfg.Schedule = "  "
	if p, _ := cfg.ExecutorParams(); p.Schedule != nil {
		t.Fatal("blank schedule produced a schedule")
	}
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"-config", "a.yaml"}, "a.yaml"},
		{[]string{"--config=b.yaml"}, "b.yaml"},
		{[]string{"-hosts", "2", "-config=c.yaml"}, "c.yaml"},
		{[]string{"-schedule", "config"}, ""},
		{[]string{"--", "-config", "d.yaml"}, ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := configPath(tt.args); got != tt.want {
			t.Errorf("configPath(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}
