package model

import (
	"io"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int          `json:"version" yaml:"version"` // fixed 0 for now
	Scan    ScanConfig   `json:"scan" yaml:"scan"`
	Probes  ProbesConfig `json:"probes" yaml:"probes"`
	Tools   ToolsConfig  `json:"tools" yaml:"tools"`
	Report  ReportConfig `json:"report" yaml:"report"`
	Verbose bool         `json:"verbose" yaml:"verbose"`
}

// ScanConfig drives the two-phase port discovery stage.
type ScanConfig struct {
	Binary         string `json:"binary,omitempty" yaml:"binary,omitempty"`
	Ports          string `json:"ports,omitempty" yaml:"ports,omitempty"`
	TopPorts       int    `json:"top_ports" yaml:"top_ports"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

func (s ScanConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// ProbesConfig holds the concurrency bound and the per-family timeouts
// of the probe layer. It is passed into every stage explicitly, there
// is no ambient global configuration.
type ProbesConfig struct {
	Concurrency            int `json:"concurrency" yaml:"concurrency"`
	WebTimeoutSeconds      int `json:"web_timeout_seconds" yaml:"web_timeout_seconds"`
	FTPTimeoutSeconds      int `json:"ftp_timeout_seconds" yaml:"ftp_timeout_seconds"`
	SSHTimeoutSeconds      int `json:"ssh_timeout_seconds" yaml:"ssh_timeout_seconds"`
	SMBTimeoutSeconds      int `json:"smb_timeout_seconds" yaml:"smb_timeout_seconds"`
	DNSTimeoutSeconds      int `json:"dns_timeout_seconds" yaml:"dns_timeout_seconds"`
	DatabaseTimeoutSeconds int `json:"database_timeout_seconds" yaml:"database_timeout_seconds"`
}

// Timeout returns the bound of the given probe family, 10s for an
// unknown family name.
func (p ProbesConfig) Timeout(family string) time.Duration {
	seconds := map[string]int{
		"web":      p.WebTimeoutSeconds,
		"ftp":      p.FTPTimeoutSeconds,
		"ssh":      p.SSHTimeoutSeconds,
		"smb":      p.SMBTimeoutSeconds,
		"dns":      p.DNSTimeoutSeconds,
		"database": p.DatabaseTimeoutSeconds,
	}[family]
	if seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

// ToolsConfig enables or disables probes backed by optional external
// tools (feroxbuster, sublist3r, smbclient).
type ToolsConfig struct {
	Enabled                   bool   `json:"enabled" yaml:"enabled"`
	Wordlist                  string `json:"wordlist,omitempty" yaml:"wordlist,omitempty"`
	FeroxbusterTimeoutSeconds int    `json:"feroxbuster_timeout_seconds" yaml:"feroxbuster_timeout_seconds"`
	Sublist3rTimeoutSeconds   int    `json:"sublist3r_timeout_seconds" yaml:"sublist3r_timeout_seconds"`
}

func (t ToolsConfig) FeroxbusterTimeout() time.Duration {
	return time.Duration(t.FeroxbusterTimeoutSeconds) * time.Second
}

func (t ToolsConfig) Sublist3rTimeout() time.Duration {
	return time.Duration(t.Sublist3rTimeoutSeconds) * time.Second
}

type ReportConfig struct {
	Dir     string   `json:"dir" yaml:"dir"`
	Formats []string `json:"formats" yaml:"formats"`
}

// LoadConfig validates YAML from r against the CUE schema and decodes
// it into Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}

// DefaultConfig is the schema with every default applied.
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0"))
	if err != nil {
		panic(err) // schema is embedded, defaults must decode
	}
	return cfg
}
