package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a btcheck configuration file.
// Supports environment variable expansion in string values via ${VAR} syntax.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: a vstart-style
// cluster reachable through the ceph tools on $PATH.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Ceph.CommandTimeout == 0 {
		c.Ceph.CommandTimeout = 2 * time.Minute
	}
	if c.MDS.Name == "" {
		c.MDS.Name = "a"
	}
	if c.MDS.TellStyle == "" {
		c.MDS.TellStyle = "legacy"
	}
	if c.MDS.PollInterval == 0 {
		c.MDS.PollInterval = time.Second
	}
	if c.MDS.ActiveTimeout == 0 {
		c.MDS.ActiveTimeout = 5 * time.Minute
	}
	if c.MDS.Restart.Method == "" {
		c.MDS.Restart.Method = "none"
	}
	if c.Filesystem.Client == "" {
		c.Filesystem.Client = "cephfs"
	}
	if c.Filesystem.ConfFile == "" {
		c.Filesystem.ConfFile = c.Ceph.ConfFile
	}
	if c.Store.Type == "" {
		c.Store.Type = "rados"
	}
	if c.Store.Pool == "" {
		c.Store.Pool = "data"
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "user."
	}
	if c.Decoder.Tool == "" {
		c.Decoder.Tool = c.Tool("ceph-dencoder")
	}
	if c.Decoder.Type == "" {
		c.Decoder.Type = "inode_backtrace_t"
	}
	if c.Flush.MaxSegments == 0 {
		c.Flush.MaxSegments = 2
	}
	if c.Flush.Churn == 0 {
		c.Flush.Churn = 2000
	}
	if c.Naming.Prefix == "" {
		c.Naming.Prefix = "testbt"
	}
	if c.Run.Repeat == 0 {
		c.Run.Repeat = 1
	}
	if c.Report.Sink == "" {
		c.Report.Sink = "nop"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Artifacts.Backend.Name == "" {
		c.Artifacts.Backend.Name = "artifacts"
	}
	if c.Store.Archive.Name == "" {
		c.Store.Archive.Name = "archive"
	}
}

// Tool returns the path of a ceph command-line tool, resolved against
// ceph.bin_dir when one is configured.
func (c *Config) Tool(name string) string {
	if c.Ceph.BinDir == "" {
		return name
	}
	return filepath.Join(c.Ceph.BinDir, name)
}
