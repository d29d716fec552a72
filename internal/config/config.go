package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultConfigRelPath = ".tracegen/config.yaml"

type FilterConfig struct {
	IgnoreExtensions []string `yaml:"ignore_extensions"`
	IgnorePaths      []string `yaml:"ignore_paths"`
	APIMarkers       []string `yaml:"api_markers"`
	DataExtensions   []string `yaml:"data_extensions"`
	CaptureGet       bool     `yaml:"capture_get"`
	AllowUnknown     *bool    `yaml:"allow_unknown"`
	ScrubHeaders     []string `yaml:"scrub_headers"`
}

type ExtractConfig struct {
	AuthHeaders []string `yaml:"auth_headers"`
	IDPatterns  []string `yaml:"id_patterns"`
	MaxDepth    int      `yaml:"max_depth"`
}

type SynthConfig struct {
	OutputDir    string `yaml:"output_dir"`
	AssertBodies bool   `yaml:"assert_bodies"`
	ReplayCostMs int64  `yaml:"replay_cost_ms"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Filter  FilterConfig  `yaml:"filter"`
	Extract ExtractConfig `yaml:"extract"`
	Synth   SynthConfig   `yaml:"synth"`
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// Load loads YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if len(c.Filter.IgnoreExtensions) == 0 {
		c.Filter.IgnoreExtensions = []string{
			".js", ".css", ".html", ".png", ".jpg", ".jpeg", ".gif", ".svg",
			".woff", ".woff2", ".ttf", ".ico", ".map",
		}
	}
	if len(c.Filter.IgnorePaths) == 0 {
		c.Filter.IgnorePaths = []string{
			"/static/", "/assets/", "/favicon",
			"analytics", "telemetry", "gtag", "google-analytics", "segment.io",
			"sentry", "hotjar", "beacon",
		}
	}
	if len(c.Filter.APIMarkers) == 0 {
		c.Filter.APIMarkers = []string{"/api/", "/v1/", "/v2/", "/v3/", "/graphql", "/rest/"}
	}
	if len(c.Filter.DataExtensions) == 0 {
		c.Filter.DataExtensions = []string{".json", ".xml"}
	}
	if c.Filter.AllowUnknown == nil {
		t := true
		c.Filter.AllowUnknown = &t
	}
	if len(c.Filter.ScrubHeaders) == 0 {
		c.Filter.ScrubHeaders = []string{
			"Authorization", "Cookie", "Set-Cookie", "X-Api-Key", "X-Auth-Token",
			"Host", "Content-Length", "Connection", "Accept-Encoding", "Origin", "Referer",
		}
	}
	if len(c.Extract.AuthHeaders) == 0 {
		c.Extract.AuthHeaders = []string{"Authorization", "X-Auth-Token", "X-Api-Key", "X-Session-Token"}
	}
	if len(c.Extract.IDPatterns) == 0 {
		c.Extract.IDPatterns = []string{"id", "token", "session", "uuid", "key"}
	}
	if c.Extract.MaxDepth == 0 {
		c.Extract.MaxDepth = 8
	}
	if c.Synth.OutputDir == "" {
		c.Synth.OutputDir = "./generated"
	}
	if c.Synth.ReplayCostMs == 0 {
		c.Synth.ReplayCostMs = 50
	}
	if c.Store.Path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Store.Path = filepath.Join(home, ".tracegen", "tracegen.db")
		} else {
			c.Store.Path = "tracegen.db"
		}
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 4023
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Synth.OutputDir) == "" {
		return errors.New("synth.output_dir cannot be empty")
	}
	if err := ensureWritableDir(c.Synth.OutputDir); err != nil {
		return fmt.Errorf("synth.output_dir not writable: %w", err)
	}
	if c.Extract.MaxDepth < 1 {
		return errors.New("extract.max_depth must be at least 1")
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func applyEnvOverrides(c *Config) {
	setBool(&c.Filter.CaptureGet, "TRACEGEN_CAPTURE_GET")
	setString(&c.Synth.OutputDir, "TRACEGEN_OUTPUT_DIR")
	setBool(&c.Synth.AssertBodies, "TRACEGEN_ASSERT_BODIES")
	setString(&c.Store.Path, "TRACEGEN_STORE_PATH")
	setString(&c.Server.Host, "TRACEGEN_SERVER_HOST")
	setInt(&c.Server.Port, "TRACEGEN_SERVER_PORT")
	setString(&c.Server.CORSOrigin, "TRACEGEN_CORS_ORIGIN")
	setString(&c.Log.Level, "TRACEGEN_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
