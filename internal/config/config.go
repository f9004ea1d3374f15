// Package config loads the pool's runtime configuration from
// environment variables, with an optional on-disk YAML override for
// the settings the operator is most likely to tune per deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oddstack/browserpool/internal/lifecycle"
	"github.com/oddstack/browserpool/internal/slot"
)

// Config is the fully-resolved configuration handed to the daemon:
// lifecycle settings plus the pieces the Supervisor doesn't own
// (whether to pull the image on start, the HTTP listen address).
type Config struct {
	Lifecycle lifecycle.Config
	PullOnStart bool
	ListenAddr  string
}

// Default mirrors the source's built-in defaults, applied before any
// environment variable or override file is consulted.
func Default() Config {
	return Config{
		Lifecycle: lifecycle.Config{
			Image:           "browserless/chrome:latest",
			Prefix:          "bx",
			N:               5,
			BaseBrowserPort: 10222,
			BaseAppPort:     7070,
			BaseVNCPort:     15900,
			Resolution:      slot.Viewport{Width: 1920, Height: 1080},
			MaxRetries:      3,
			KillWaitTime:    500,
			Mode:            lifecycle.ModeFull,
		},
		PullOnStart: true,
		ListenAddr:  ":8070",
	}
}

// overrideFile is the optional on-disk YAML layer. An absent key leaves
// the environment/default value alone: integer fields are pointers, and
// string, map, and list fields are applied only when non-empty/non-nil.
type overrideFile struct {
	Image                string   `yaml:"browserImageName"`
	Prefix               string   `yaml:"browserPrefix"`
	N                    *int     `yaml:"numBrowsers"`
	BaseBrowserPort      *int     `yaml:"baseBrowserPort"`
	BaseAppPort          *int     `yaml:"baseAppPort"`
	BaseVNCPort          *int     `yaml:"baseVncPort"`
	Resolution           string   `yaml:"resolution"`
	LaunchArgs           map[string]string `yaml:"launchArgs"`
	AdditionalDockerArgs []string `yaml:"additionalDockerArgs"`
	MaxRetries           *int     `yaml:"maxRetries"`
	KillWaitTime         *int     `yaml:"killWaitTime"`
}

// Load resolves configuration in three layers, later layers winning:
// built-in defaults, a .env file (if present, via godotenv) feeding
// process environment variables, then an optional YAML override file
// at overridePath.
func Load(overridePath string) (Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := Default()
	applyEnv(&cfg)

	if overridePath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading override file: %w", err)
	}
	var ov overrideFile
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return cfg, fmt.Errorf("config: parsing override file: %w", err)
	}
	applyOverride(&cfg, ov)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BROWSER_IMAGE_NAME"); v != "" {
		cfg.Lifecycle.Image = v
	}
	if v := os.Getenv("BROWSER_PREFIX"); v != "" {
		cfg.Lifecycle.Prefix = v
	}
	if v := envInt("NUM_BROWSERS"); v != nil {
		cfg.Lifecycle.N = *v
	}
	if v := envInt("BASE_BROWSER_PORT"); v != nil {
		cfg.Lifecycle.BaseBrowserPort = *v
	}
	if v := envInt("BASE_APP_PORT"); v != nil {
		cfg.Lifecycle.BaseAppPort = *v
	}
	if v := envInt("BASE_VNC_PORT"); v != nil {
		cfg.Lifecycle.BaseVNCPort = *v
	}
	if v := os.Getenv("BROWSER_CONNECTION_HOST"); v != "" {
		cfg.Lifecycle.ConnectionHost = v
	}
	if v := envInt("MAX_RETRIES"); v != nil {
		cfg.Lifecycle.MaxRetries = *v
	}
	if v := envInt("KILL_WAIT_TIME"); v != nil {
		cfg.Lifecycle.KillWaitTime = *v
	}
	if truthy(os.Getenv("MANAGE_ONLY")) {
		cfg.Lifecycle.Mode = lifecycle.ModeManageOnly
	}
	if vp, ok := parseResolution(os.Getenv("BROWSER_RESOLUTION")); ok {
		cfg.Lifecycle.Resolution = vp
	}
}

func applyOverride(cfg *Config, ov overrideFile) {
	if ov.Image != "" {
		cfg.Lifecycle.Image = ov.Image
	}
	if ov.Prefix != "" {
		cfg.Lifecycle.Prefix = ov.Prefix
	}
	if ov.N != nil {
		cfg.Lifecycle.N = *ov.N
	}
	if ov.BaseBrowserPort != nil {
		cfg.Lifecycle.BaseBrowserPort = *ov.BaseBrowserPort
	}
	if ov.BaseAppPort != nil {
		cfg.Lifecycle.BaseAppPort = *ov.BaseAppPort
	}
	if ov.BaseVNCPort != nil {
		cfg.Lifecycle.BaseVNCPort = *ov.BaseVNCPort
	}
	if vp, ok := parseResolution(ov.Resolution); ok {
		cfg.Lifecycle.Resolution = vp
	}
	if ov.LaunchArgs != nil {
		cfg.Lifecycle.LaunchArgs = ov.LaunchArgs
	}
	if ov.AdditionalDockerArgs != nil {
		cfg.Lifecycle.AdditionalDockerArgs = ov.AdditionalDockerArgs
	}
	if ov.MaxRetries != nil {
		cfg.Lifecycle.MaxRetries = *ov.MaxRetries
	}
	if ov.KillWaitTime != nil {
		cfg.Lifecycle.KillWaitTime = *ov.KillWaitTime
	}
}

func envInt(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

// truthy matches the source's MANAGE_ONLY convention: "true" or "1".
func truthy(v string) bool {
	return v == "true" || v == "1"
}

func parseResolution(v string) (slot.Viewport, bool) {
	if vp, ok := lifecycle.WhitelistedResolutions[v]; ok {
		return vp, true
	}
	w, h, ok := strings.Cut(v, "x")
	if !ok {
		return slot.Viewport{}, false
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return slot.Viewport{}, false
	}
	return slot.Viewport{Width: width, Height: height}, true
}
