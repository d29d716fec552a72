package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetDefaults(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	if c.Server.Port != 4023 {
		t.Fatalf("expected default port 4023, got %d", c.Server.Port)
	}
	if c.Server.Host != "127.0.0.1" {
		t.Fatalf("expected default host")
	}
	if c.Filter.CaptureGet {
		t.Fatalf("expected capture_get off by default")
	}
	if c.Filter.AllowUnknown == nil || !*c.Filter.AllowUnknown {
		t.Fatalf("expected allow_unknown on by default")
	}
	if c.Extract.MaxDepth != 8 {
		t.Fatalf("expected default depth bound 8, got %d", c.Extract.MaxDepth)
	}
	if c.Synth.ReplayCostMs != 50 {
		t.Fatalf("expected default replay cost, got %d", c.Synth.ReplayCostMs)
	}
	if c.Log.Level != "info" {
		t.Fatalf("expected info level")
	}
}

func TestLoadFromYAML(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	content := "filter:\n  capture_get: true\nserver:\n  port: 8080\nsynth:\n  output_dir: ./out\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Filter.CaptureGet {
		t.Fatalf("expected capture_get enabled")
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Synth.OutputDir != "./out" {
		t.Fatalf("unexpected output dir %s", cfg.Synth.OutputDir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRACEGEN_CAPTURE_GET", "true")
	t.Setenv("TRACEGEN_SERVER_PORT", "9001")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Filter.CaptureGet {
		t.Fatalf("expected env override for capture_get")
	}
	if cfg.Server.Port != 9001 {
		t.Fatalf("expected env override for port, got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	c := &Config{}
	c.SetDefaults()
	c.Synth.OutputDir = t.TempDir()
	if err := c.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	c.Synth.OutputDir = " "
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for empty output dir")
	}
	c.SetDefaults()
	c.Synth.OutputDir = t.TempDir()
	c.Extract.MaxDepth = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for zero depth bound")
	}
}
