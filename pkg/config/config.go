package config

import (
	"fmt"
	"time"
)

// Config is the top-level btcheck configuration.
type Config struct {
	Ceph       CephConfig       `yaml:"ceph"`
	MDS        MDSConfig        `yaml:"mds"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Store      StoreConfig      `yaml:"store"`
	Decoder    DecoderConfig    `yaml:"decoder"`
	Flush      FlushConfig      `yaml:"flush"`
	Naming     NamingConfig     `yaml:"naming"`
	Run        RunConfig        `yaml:"run"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	History    HistoryConfig    `yaml:"history"`
	Report     ReportConfig     `yaml:"report"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Server     ServerConfig     `yaml:"server"`
}

// CephConfig locates the cluster tooling.
type CephConfig struct {
	BinDir         string        `yaml:"bin_dir"`   // directory holding ceph, ceph-dencoder, rados; empty = $PATH
	ConfFile       string        `yaml:"conf_file"` // passed as -c to the CLI tools and to librados
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// MDSConfig addresses the metadata server under test.
type MDSConfig struct {
	Name          string        `yaml:"name"`       // daemon name used with "mds tell", e.g. "a"
	TellStyle     string        `yaml:"tell_style"` // "legacy" (mds tell a) or "modern" (tell mds.a)
	PollInterval  time.Duration `yaml:"poll_interval"`
	ActiveTimeout time.Duration `yaml:"active_timeout"`
	Restart       RestartConfig `yaml:"restart"`
}

// RestartConfig selects how a killed MDS is brought back.
type RestartConfig struct {
	Method     string   `yaml:"method"` // none, docker, command
	Container  string   `yaml:"container"`
	DockerHost string   `yaml:"docker_host,omitempty"`
	Command    []string `yaml:"command,omitempty"`
}

// FilesystemConfig selects the filesystem client.
type FilesystemConfig struct {
	Client     string `yaml:"client"` // cephfs, posix
	MountPoint string `yaml:"mount_point"`
	ConfFile   string `yaml:"conf_file"` // libcephfs config; defaults to ceph.conf_file
}

// StoreConfig selects where backtrace attributes are read from.
type StoreConfig struct {
	Type    string        `yaml:"type"` // rados, rados-cli, xattr-dir, archive
	Pool    string        `yaml:"pool"`
	Dir     string        `yaml:"dir"`          // xattr-dir: directory of object files
	Prefix  string        `yaml:"xattr_prefix"` // xattr-dir: namespace prepended to attribute names
	Archive BackendConfig `yaml:"archive"`
}

// DecoderConfig configures the ceph-dencoder invocation.
type DecoderConfig struct {
	Tool    string `yaml:"tool"`
	Type    string `yaml:"type"`
	TempDir string `yaml:"temp_dir"`
}

// FlushConfig controls the journal flush churn.
type FlushConfig struct {
	MaxSegments int `yaml:"max_segments"`
	Churn       int `yaml:"churn"`
}

// NamingConfig controls generated path names.
type NamingConfig struct {
	Prefix string `yaml:"prefix"`
}

// RunConfig controls scenario sequencing.
type RunConfig struct {
	ExpectedPool    int64 `yaml:"expected_pool"`
	KeepGoing       bool  `yaml:"keep_going"`
	ContinueOnError bool  `yaml:"continue_on_error"`
	Repeat          int   `yaml:"repeat"`
}

// MetricsConfig configures Prometheus output.
type MetricsConfig struct {
	Addr     string `yaml:"addr"`     // serve /metrics during the run; empty = disabled
	Textfile string `yaml:"textfile"` // write a node-exporter textfile at the end of a run
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Path string `yaml:"path"` // empty = history disabled
}

// ReportConfig configures scenario event output.
type ReportConfig struct {
	Sink        string `yaml:"sink"` // stdout, file, http, nop
	FilePath    string `yaml:"file_path"`
	HTTPAddr    string `yaml:"http_addr"`
	SummaryPath string `yaml:"summary_path"`
}

// ServerConfig configures the results collector started by "btcheck serve".
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	MaxRuns int    `yaml:"max_runs"` // live runs kept in memory
}

// ArtifactsConfig configures capture of failing backtraces.
type ArtifactsConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig describes an rclone remote.
type BackendConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"` // rclone backend type: local, s3, azureblob, ...
	Root   string            `yaml:"root"`
	Config map[string]string `yaml:"config"`
}

// Validate checks the configuration for logical errors.
func (c *Config) Validate() error {
	if c.MDS.Name == "" {
		return fmt.Errorf("config: mds.name cannot be empty")
	}
	switch c.MDS.TellStyle {
	case "legacy", "modern":
	default:
		return fmt.Errorf("config: unknown mds.tell_style %q", c.MDS.TellStyle)
	}
	if c.MDS.PollInterval <= 0 {
		return fmt.Errorf("config: mds.poll_interval must be positive, got %s", c.MDS.PollInterval)
	}
	if c.MDS.ActiveTimeout < c.MDS.PollInterval {
		return fmt.Errorf("config: mds.active_timeout (%s) must not be shorter than poll_interval (%s)",
			c.MDS.ActiveTimeout, c.MDS.PollInterval)
	}
	if err := validateRestart(c.MDS.Restart); err != nil {
		return err
	}

	switch c.Filesystem.Client {
	case "cephfs":
	case "posix":
		if c.Filesystem.MountPoint == "" {
			return fmt.Errorf("config: filesystem.client posix requires mount_point")
		}
	default:
		return fmt.Errorf("config: unknown filesystem.client %q", c.Filesystem.Client)
	}

	switch c.Store.Type {
	case "rados", "rados-cli":
		if c.Store.Pool == "" {
			return fmt.Errorf("config: store.type %s requires pool", c.Store.Type)
		}
	case "xattr-dir":
		if c.Store.Dir == "" {
			return fmt.Errorf("config: store.type xattr-dir requires dir")
		}
	case "archive":
		if c.Store.Archive.Type == "" {
			return fmt.Errorf("config: store.type archive requires archive.type")
		}
	default:
		return fmt.Errorf("config: unknown store.type %q", c.Store.Type)
	}

	if c.Flush.MaxSegments <= 0 {
		return fmt.Errorf("config: flush.max_segments must be positive, got %d", c.Flush.MaxSegments)
	}
	if c.Flush.Churn < 0 {
		return fmt.Errorf("config: flush.churn must not be negative, got %d", c.Flush.Churn)
	}
	if c.Run.Repeat < 1 {
		return fmt.Errorf("config: run.repeat must be at least 1, got %d", c.Run.Repeat)
	}
	if c.Server.MaxRuns < 0 {
		return fmt.Errorf("config: server.max_runs must not be negative, got %d", c.Server.MaxRuns)
	}
	if c.Artifacts.Enabled && c.Artifacts.Backend.Type == "" {
		return fmt.Errorf("config: artifacts.enabled requires backend.type")
	}
	switch c.Report.Sink {
	case "", "nop", "stdout", "file", "http":
	default:
		return fmt.Errorf("config: unknown report.sink %q", c.Report.Sink)
	}
	return nil
}

func validateRestart(r RestartConfig) error {
	switch r.Method {
	case "", "none":
	case "docker":
		if r.Container == "" {
			return fmt.Errorf("config: mds.restart docker requires container")
		}
	case "command":
		if len(r.Command) == 0 {
			return fmt.Errorf("config: mds.restart command requires command")
		}
	default:
		return fmt.Errorf("config: unknown mds.restart.method %q", r.Method)
	}
	return nil
}
