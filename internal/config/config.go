// Package config loads rtcbuild settings from an optional YAML file and the
// process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ringrtc/rtcbuild/internal/subprocess"
)

// DefaultFileName is looked up in the project directory when no file is given.
const DefaultFileName = "rtcbuild.yaml"

// Tools overrides the command line of external tools. Values are split with
// shell quoting rules, so "python3 -u" is a valid entry.
type Tools struct {
	GN                string `yaml:"gn,omitempty"`
	Ninja             string `yaml:"ninja,omitempty"`
	Python            string `yaml:"python,omitempty"`
	DownloadResources string `yaml:"download_resources,omitempty"`
	Rustup            string `yaml:"rustup,omitempty"`
	Cargo             string `yaml:"cargo,omitempty"`
	Dsymutil          string `yaml:"dsymutil,omitempty"`
	Strip             string `yaml:"strip,omitempty"`
	DumpSyms          string `yaml:"dump_syms,omitempty"`
}

// Fetch configures prebuild downloads.
type Fetch struct {
	BaseURL string `yaml:"base_url,omitempty"`
	// Checksums add to or replace the published prebuild checksums.
	Checksums map[string]string `yaml:"checksums,omitempty"`
}

// Config is the merged configuration of a run.
type Config struct {
	ProjectDir      string `yaml:"project_dir,omitempty"`
	OutputDir       string `yaml:"output_dir,omitempty"`
	WebRTCSourceDir string `yaml:"webrtc_source_dir,omitempty"`
	NodeDir         string `yaml:"node_dir,omitempty"`

	TargetArch     string `yaml:"target_arch,omitempty"`
	ProjectVersion string `yaml:"project_version,omitempty"`
	WebRTCVersion  string `yaml:"webrtc_version,omitempty"`
	HostPlatform   string `yaml:"host_platform,omitempty"`
	RustFlags      string `yaml:"rustflags,omitempty"`

	Tools Tools `yaml:"tools,omitempty"`
	Fetch Fetch `yaml:"fetch,omitempty"`
}

// envOverrides lists the variables that win over the file.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"TARGET_ARCH", func(c *Config) *string { return &c.TargetArch }},
	{"OUTPUT_DIR", func(c *Config) *string { return &c.OutputDir }},
	{"PROJECT_VERSION", func(c *Config) *string { return &c.ProjectVersion }},
	{"WEBRTC_VERSION", func(c *Config) *string { return &c.WebRTCVersion }},
	{"RUSTFLAGS", func(c *Config) *string { return &c.RustFlags }},
	{"HOST_PLATFORM", func(c *Config) *string { return &c.HostPlatform }},
}

// Load reads path, or DefaultFileName in projectDir when path is empty and
// that file exists, applies the environment overrides from env and fills in
// defaults.
func Load(path, projectDir string, env subprocess.Environment) (Config, error) {
	var cfg Config

	explicit := path != ""
	if !explicit {
		path = filepath.Join(projectDir, DefaultFileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if cfg.ProjectDir == "" {
		cfg.ProjectDir = projectDir
	}
	for _, o := range envOverrides {
		if value, ok := env.Lookup(o.name); ok && strings.TrimSpace(value) != "" {
			*o.field(&cfg) = value
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ProjectDir == "" {
		c.ProjectDir = "."
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(c.ProjectDir, "out")
	} else {
		c.OutputDir = c.resolve(c.OutputDir)
	}
	if c.WebRTCSourceDir != "" {
		c.WebRTCSourceDir = c.resolve(c.WebRTCSourceDir)
	}
	if c.NodeDir != "" {
		c.NodeDir = c.resolve(c.NodeDir)
	}
	if c.HostPlatform == "" {
		c.HostPlatform = HostPlatform(runtime.GOOS)
	}
	c.TargetArch = strings.TrimSpace(c.TargetArch)
}

// resolve anchors relative paths at the project directory.
func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ProjectDir, path)
}

// HostPlatform maps a GOOS value onto the host name used in archive names.
func HostPlatform(goos string) string {
	switch goos {
	case "darwin":
		return "mac"
	case "windows":
		return "windows"
	default:
		return goos
	}
}
