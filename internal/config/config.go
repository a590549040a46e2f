// Package config defines the gateway's startup configuration, grounded on
// the nested-struct-plus-*Str-duration-fields convention of the teacher's
// cmn.Config (each section validates its own *Str fields into a
// time.Duration via a Validate() method).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

type ThrottleConf struct {
	Enabled         bool   `json:"enabled"`
	Concurrency     int    `json:"concurrency"`
	QueueTolerance  int    `json:"queue_tolerance"`
	ReapIntervalMS  int    `json:"reap_interval_ms"`
	ReapInterval    time.Duration `json:"-"`
}

func (c *ThrottleConf) Validate() error {
	if c.ReapIntervalMS <= 0 {
		c.ReapIntervalMS = 5000
	}
	c.ReapInterval = time.Duration(c.ReapIntervalMS) * time.Millisecond
	if c.Enabled && c.Concurrency <= 0 {
		return fmt.Errorf("throttle.concurrency must be > 0 when throttle.enabled")
	}
	if c.QueueTolerance < 0 {
		return fmt.Errorf("throttle.queue_tolerance must be >= 0")
	}
	return nil
}

type StorageConf struct {
	DefaultMaxStreamingSizeMB int64 `json:"default_max_streaming_size_mb"`
}

func (c *StorageConf) Validate() error {
	if c.DefaultMaxStreamingSizeMB <= 0 {
		c.DefaultMaxStreamingSizeMB = 5120
	}
	return nil
}

func (c *StorageConf) DefaultMaxStreamingSizeBytes() int64 {
	return c.DefaultMaxStreamingSizeMB * 1024 * 1024
}

type PlacementConf struct {
	RefreshIntervalMS   int           `json:"refresh_interval_ms"`
	RefreshInterval     time.Duration `json:"-"`
	LagMS               int           `json:"lag_ms"`
	UtilizationPct      int           `json:"utilization_pct"`
	OperatorUtilizationPct int        `json:"operator_utilization_pct"`
	MultiDC             bool          `json:"multi_dc"`
	StalenessWindowMS   int           `json:"staleness_window_ms"`
	StalenessWindow     time.Duration `json:"-"`
}

func (c *PlacementConf) Validate() error {
	if c.RefreshIntervalMS <= 0 {
		c.RefreshIntervalMS = 30000
	}
	c.RefreshInterval = time.Duration(c.RefreshIntervalMS) * time.Millisecond
	if c.StalenessWindowMS <= 0 {
		c.StalenessWindowMS = int((1 * time.Hour).Milliseconds())
	}
	c.StalenessWindow = time.Duration(c.StalenessWindowMS) * time.Millisecond
	if c.UtilizationPct <= 0 {
		c.UtilizationPct = 90
	}
	if c.OperatorUtilizationPct <= 0 {
		c.OperatorUtilizationPct = 97
	}
	if c.OperatorUtilizationPct < c.UtilizationPct {
		return fmt.Errorf("placement.operator_utilization_pct must be >= placement.utilization_pct")
	}
	return nil
}

type SharkConf struct {
	ConnectTimeoutMS int           `json:"connect_timeout_ms"`
	ConnectTimeout   time.Duration `json:"-"`
	Retry            RetryConf     `json:"retry"`
}

type RetryConf struct {
	InitialMS  int `json:"initial_ms"`
	MaxMS      int `json:"max_ms"`
	Factor     float64 `json:"factor"`
	MaxAttempts int `json:"max_attempts"`
}

func (c *SharkConf) Validate() error {
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = 2000
	}
	c.ConnectTimeout = time.Duration(c.ConnectTimeoutMS) * time.Millisecond
	if c.Retry.InitialMS <= 0 {
		c.Retry.InitialMS = 100
	}
	if c.Retry.MaxMS <= 0 {
		c.Retry.MaxMS = 10000
	}
	if c.Retry.Factor <= 1 {
		c.Retry.Factor = 2
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 2
	}
	return nil
}

type MultipartUploadConf struct {
	PrefixDirLen int `json:"prefix_dir_len"`
}

// NodeConf is one statically configured storage node (spec §3 "Storage node
// record"). The node directory service itself is out of scope (spec
// Non-goals); this list is how a standalone deployment seeds the picker
// without one.
type NodeConf struct {
	StorageID      string `json:"storage_id"`
	Datacenter     string `json:"datacenter"`
	Host           string `json:"host"`
	AvailableBytes int64  `json:"available_bytes"`
	PercentUsed    int    `json:"percent_used"`
}

// Config is the top-level configuration structure passed at startup, per
// spec §6's enumerated configuration.
type Config struct {
	Port                      int                 `json:"port"`
	MaxRequestAgeS            int                 `json:"max_request_age_s"`
	SocketTimeout             time.Duration       `json:"-"`
	DataTimeout               time.Duration       `json:"-"`
	Throttle                  ThrottleConf        `json:"throttle"`
	Storage                   StorageConf         `json:"storage"`
	Placement                 PlacementConf       `json:"placement"`
	Shark                     SharkConf           `json:"shark"`
	MaxObjectCopies           int                 `json:"max_object_copies"`
	EnableMPU                 bool                `json:"enable_mpu"`
	SnaplinkCleanupRequired   bool                `json:"snaplink_cleanup_required"`
	SnaplinksEnabled          bool                `json:"snaplinks_enabled"`
	AccountsSnaplinksDisabled []string            `json:"accounts_snaplinks_disabled"`
	MultipartUpload           MultipartUploadConf `json:"multipart_upload"`
	Nodes                     []NodeConf          `json:"nodes"`
}

// Default returns the zero-value configuration with every section's
// defaults applied, as if loaded from an empty JSON document.
func Default() *Config {
	c := &Config{}
	_ = c.applyDefaultsAndValidate()
	return c
}

// Load reads a JSON configuration document and overlays the SOCKET_TIMEOUT,
// MUSKIE_DATA_TIMEOUT and LOG_LEVEL environment variables named in spec §6.
func Load(path string) (*Config, int, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, 0, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.applyDefaultsAndValidate(); err != nil {
		return nil, 0, err
	}

	logLevel := 0
	if v := os.Getenv("SOCKET_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid SOCKET_TIMEOUT: %w", err)
		}
		c.SocketTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("MUSKIE_DATA_TIMEOUT"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid MUSKIE_DATA_TIMEOUT: %w", err)
		}
		c.DataTimeout = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		switch v {
		case "trace", "debug":
			logLevel = 2
		case "info":
			logLevel = 0
		case "warn", "error", "fatal":
			logLevel = 0
		default:
			if n, err := strconv.Atoi(v); err == nil {
				logLevel = n
			}
		}
	}
	return c, logLevel, nil
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.SocketTimeout == 0 {
		c.SocketTimeout = 120 * time.Second
	}
	if c.DataTimeout == 0 {
		c.DataTimeout = 45 * time.Second
	}
	if c.MaxObjectCopies == 0 {
		c.MaxObjectCopies = 9
	}
	if err := c.Throttle.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Placement.Validate(); err != nil {
		return err
	}
	if err := c.Shark.Validate(); err != nil {
		return err
	}
	if c.MultipartUpload.PrefixDirLen == 0 {
		c.MultipartUpload.PrefixDirLen = 2
	}
	return nil
}
