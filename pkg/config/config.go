// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < api
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
)

// Config holds all PulseKit configuration.
type Config struct {
	Version int `yaml:"version"`

	App       AppConfig       `yaml:"app"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Session   SessionConfig   `yaml:"session"`
	Batching  BatchingConfig  `yaml:"batching"`
	Export    ExportConfig    `yaml:"export"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig identifies the instrumented application.
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Build   string `yaml:"build"`
}

// IngestConfig controls signal capture and validation.
type IngestConfig struct {
	MaxUserDefinedAttrsPerEvent int      `yaml:"max_user_defined_attrs_per_event"`
	MaxUserDefinedAttrKeyLen    int      `yaml:"max_user_defined_attr_key_len"`
	MaxUserDefinedAttrValueLen  int      `yaml:"max_user_defined_attr_value_len"`
	MaxInlinePayloadBytes       int      `yaml:"max_inline_payload_bytes"`
	TraceSamplingRate           float64  `yaml:"trace_sampling_rate"`
	HTTPHeadersBlocklist        []string `yaml:"http_headers_blocklist"`
	HTTPUrlAllowlist            []string `yaml:"http_url_allowlist"`
	HTTPUrlBlocklist            []string `yaml:"http_url_blocklist"`
}

// SessionConfig controls session continuity across launches.
type SessionConfig struct {
	LastEventThresholdMs int64 `yaml:"last_event_threshold_ms"`
	MaxDurationMs        int64 `yaml:"max_duration_ms"`
}

// BatchingConfig controls how stored signals are grouped for export.
type BatchingConfig struct {
	MaxEventsInBatch       int   `yaml:"max_events_in_batch"`
	IntervalMs             int64 `yaml:"interval_ms"`
	MaxAttachmentSizeBytes int64 `yaml:"max_attachment_size_bytes"`
	InterBatchDelayMs      int64 `yaml:"inter_batch_delay_ms"`
	MinBatchCreationGapMs  int64 `yaml:"min_batch_creation_gap_ms"`
}

// ExportConfig controls the transport to the ingestion server.
type ExportConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	TimeoutMs    int64  `yaml:"timeout_ms"`
	MaxRedirects int    `yaml:"max_redirects"`
}

// StorageConfig for local persistence.
type StorageConfig struct {
	Database string `yaml:"database"`
	FilesDir string `yaml:"files_dir"`
	RootDir  string `yaml:"root_dir"`
}

// RedisConfig for the optional distributed batch-creation lock.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ArchiveConfig for optional post-export batch archival.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"` // local | s3
	LocalDir string `yaml:"local_dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	S3Region string `yaml:"s3_region"`
}

// TelemetryConfig for optional span mirroring over OTLP.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	pulseDir := filepath.Join(homeDir, ".pulsekit")

	return &Config{
		Version: 1,
		Ingest: IngestConfig{
			MaxUserDefinedAttrsPerEvent: 100,
			MaxUserDefinedAttrKeyLen:    256,
			MaxUserDefinedAttrValueLen:  256,
			MaxInlinePayloadBytes:       64 * 1024,
			TraceSamplingRate:           0.1,
			HTTPHeadersBlocklist: []string{
				"Authorization",
				"Cookie",
				"Set-Cookie",
				"Proxy-Authorization",
				"WWW-Authenticate",
			},
		},
		Session: SessionConfig{
			LastEventThresholdMs: 20 * 60 * 1000,
			MaxDurationMs:        6 * 60 * 60 * 1000,
		},
		Batching: BatchingConfig{
			MaxEventsInBatch:       500,
			IntervalMs:             30_000,
			MaxAttachmentSizeBytes: 3 * 1024 * 1024,
			InterBatchDelayMs:      100,
			MinBatchCreationGapMs:  30_000,
		},
		Export: ExportConfig{
			TimeoutMs:    30_000,
			MaxRedirects: 5,
		},
		Storage: StorageConfig{
			RootDir:  pulseDir,
			Database: filepath.Join(pulseDir, "pulsekit.db"),
			FilesDir: filepath.Join(pulseDir, "files"),
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Backend:  "local",
			LocalDir: filepath.Join(pulseDir, "archive"),
			S3Prefix: "pulsekit/batches",
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()
	m.paths = nil

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but surface errors for existing files
			if !os.IsNotExist(err) {
				return pkerrors.Wrap(err, pkerrors.CodeConfigLoad, "failed to load config file").
					WithContext("path", path)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	// Ensure directories exist
	m.ensureDirs()

	return m.validateLocked()
}

// LoadPath loads defaults, then a single explicit config file, then env.
func (m *Manager) LoadPath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	if err := m.loadFile(path); err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeConfigLoad, "failed to load config file").
			WithContext("path", path)
	}
	m.paths = append(m.paths, path)

	m.loadEnv()
	m.ensureDirs()

	return m.validateLocked()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/pulsekit/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".pulsekit", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".pulsekit.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// App
	if src.App.Name != "" {
		m.config.App.Name = src.App.Name
	}
	if src.App.Version != "" {
		m.config.App.Version = src.App.Version
	}
	if src.App.Build != "" {
		m.config.App.Build = src.App.Build
	}

	// Ingest
	if src.Ingest.MaxUserDefinedAttrsPerEvent != 0 {
		m.config.Ingest.MaxUserDefinedAttrsPerEvent = src.Ingest.MaxUserDefinedAttrsPerEvent
	}
	if src.Ingest.MaxUserDefinedAttrKeyLen != 0 {
		m.config.Ingest.MaxUserDefinedAttrKeyLen = src.Ingest.MaxUserDefinedAttrKeyLen
	}
	if src.Ingest.MaxUserDefinedAttrValueLen != 0 {
		m.config.Ingest.MaxUserDefinedAttrValueLen = src.Ingest.MaxUserDefinedAttrValueLen
	}
	if src.Ingest.MaxInlinePayloadBytes != 0 {
		m.config.Ingest.MaxInlinePayloadBytes = src.Ingest.MaxInlinePayloadBytes
	}
	if src.Ingest.TraceSamplingRate != 0 {
		m.config.Ingest.TraceSamplingRate = src.Ingest.TraceSamplingRate
	}
	if len(src.Ingest.HTTPHeadersBlocklist) > 0 {
		m.config.Ingest.HTTPHeadersBlocklist = src.Ingest.HTTPHeadersBlocklist
	}
	if len(src.Ingest.HTTPUrlAllowlist) > 0 {
		m.config.Ingest.HTTPUrlAllowlist = src.Ingest.HTTPUrlAllowlist
	}
	if len(src.Ingest.HTTPUrlBlocklist) > 0 {
		m.config.Ingest.HTTPUrlBlocklist = src.Ingest.HTTPUrlBlocklist
	}

	// Session
	if src.Session.LastEventThresholdMs != 0 {
		m.config.Session.LastEventThresholdMs = src.Session.LastEventThresholdMs
	}
	if src.Session.MaxDurationMs != 0 {
		m.config.Session.MaxDurationMs = src.Session.MaxDurationMs
	}

	// Batching
	if src.Batching.MaxEventsInBatch != 0 {
		m.config.Batching.MaxEventsInBatch = src.Batching.MaxEventsInBatch
	}
	if src.Batching.IntervalMs != 0 {
		m.config.Batching.IntervalMs = src.Batching.IntervalMs
	}
	if src.Batching.MaxAttachmentSizeBytes != 0 {
		m.config.Batching.MaxAttachmentSizeBytes = src.Batching.MaxAttachmentSizeBytes
	}
	if src.Batching.InterBatchDelayMs != 0 {
		m.config.Batching.InterBatchDelayMs = src.Batching.InterBatchDelayMs
	}
	if src.Batching.MinBatchCreationGapMs != 0 {
		m.config.Batching.MinBatchCreationGapMs = src.Batching.MinBatchCreationGapMs
	}

	// Export
	if src.Export.BaseURL != "" {
		m.config.Export.BaseURL = src.Export.BaseURL
	}
	if src.Export.APIKey != "" {
		m.config.Export.APIKey = src.Export.APIKey
	}
	if src.Export.TimeoutMs != 0 {
		m.config.Export.TimeoutMs = src.Export.TimeoutMs
	}
	if src.Export.MaxRedirects != 0 {
		m.config.Export.MaxRedirects = src.Export.MaxRedirects
	}

	// Storage
	if src.Storage.RootDir != "" {
		m.config.Storage.RootDir = src.Storage.RootDir
		m.config.Storage.Database = filepath.Join(src.Storage.RootDir, "pulsekit.db")
		m.config.Storage.FilesDir = filepath.Join(src.Storage.RootDir, "files")
	}
	if src.Storage.Database != "" {
		m.config.Storage.Database = src.Storage.Database
	}
	if src.Storage.FilesDir != "" {
		m.config.Storage.FilesDir = src.Storage.FilesDir
	}

	// Redis
	if src.Redis.Enabled {
		m.config.Redis.Enabled = true
	}
	if src.Redis.Addr != "" {
		m.config.Redis.Addr = src.Redis.Addr
	}
	if src.Redis.Password != "" {
		m.config.Redis.Password = src.Redis.Password
	}
	if src.Redis.DB != 0 {
		m.config.Redis.DB = src.Redis.DB
	}

	// Archive
	if src.Archive.Enabled {
		m.config.Archive.Enabled = true
	}
	if src.Archive.Backend != "" {
		m.config.Archive.Backend = src.Archive.Backend
	}
	if src.Archive.LocalDir != "" {
		m.config.Archive.LocalDir = src.Archive.LocalDir
	}
	if src.Archive.S3Bucket != "" {
		m.config.Archive.S3Bucket = src.Archive.S3Bucket
	}
	if src.Archive.S3Prefix != "" {
		m.config.Archive.S3Prefix = src.Archive.S3Prefix
	}
	if src.Archive.S3Region != "" {
		m.config.Archive.S3Region = src.Archive.S3Region
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("PULSEKIT_BASE_URL"); v != "" {
		m.config.Export.BaseURL = v
	}
	if v := os.Getenv("PULSEKIT_API_KEY"); v != "" {
		m.config.Export.APIKey = v
	}
	if v := os.Getenv("PULSEKIT_DATABASE"); v != "" {
		m.config.Storage.Database = v
	}
	if v := os.Getenv("PULSEKIT_REDIS_ADDR"); v != "" {
		m.config.Redis.Addr = v
		m.config.Redis.Enabled = true
	}
	if v := os.Getenv("PULSEKIT_MAX_EVENTS_IN_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			m.config.Batching.MaxEventsInBatch = n
		}
	}
	if v := os.Getenv("PULSEKIT_BATCHING_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			m.config.Batching.IntervalMs = n
		}
	}
	if v := os.Getenv("PULSEKIT_TRACE_SAMPLING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			m.config.Ingest.TraceSamplingRate = f
		}
	}
}

// ensureDirs creates necessary directories.
func (m *Manager) ensureDirs() {
	dirs := []string{
		filepath.Dir(m.config.Storage.Database),
		m.config.Storage.FilesDir,
	}
	if m.config.Archive.Enabled && m.config.Archive.Backend == "local" {
		dirs = append(dirs, m.config.Archive.LocalDir)
	}

	for _, dir := range dirs {
		os.MkdirAll(dir, 0755)
	}
}

func (m *Manager) validateLocked() error {
	c := m.config
	if c.Ingest.TraceSamplingRate < 0 || c.Ingest.TraceSamplingRate > 1 {
		return pkerrors.New(pkerrors.CodeConfigInvalid, "trace sampling rate out of range").
			WithContext("rate", fmt.Sprintf("%g", c.Ingest.TraceSamplingRate))
	}
	if c.Batching.MaxEventsInBatch <= 0 {
		return pkerrors.New(pkerrors.CodeConfigInvalid, "max events in batch must be positive")
	}
	if c.Archive.Enabled && c.Archive.Backend == "s3" && c.Archive.S3Bucket == "" {
		return pkerrors.New(pkerrors.CodeConfigInvalid, "s3 archive requires a bucket")
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// ApplyDynamic swaps in the reloadable subset of configuration. Endpoint,
// credentials, and storage locations are fixed for the process lifetime.
func (m *Manager) ApplyDynamic(src *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if src.Batching.MaxEventsInBatch > 0 {
		m.config.Batching.MaxEventsInBatch = src.Batching.MaxEventsInBatch
	}
	if src.Batching.IntervalMs > 0 {
		m.config.Batching.IntervalMs = src.Batching.IntervalMs
	}
	if src.Batching.MaxAttachmentSizeBytes > 0 {
		m.config.Batching.MaxAttachmentSizeBytes = src.Batching.MaxAttachmentSizeBytes
	}
	if src.Ingest.TraceSamplingRate > 0 && src.Ingest.TraceSamplingRate <= 1 {
		m.config.Ingest.TraceSamplingRate = src.Ingest.TraceSamplingRate
	}
	if len(src.Ingest.HTTPHeadersBlocklist) > 0 {
		m.config.Ingest.HTTPHeadersBlocklist = src.Ingest.HTTPHeadersBlocklist
	}
	if len(src.Ingest.HTTPUrlAllowlist) > 0 {
		m.config.Ingest.HTTPUrlAllowlist = src.Ingest.HTTPUrlAllowlist
	}
	if len(src.Ingest.HTTPUrlBlocklist) > 0 {
		m.config.Ingest.HTTPUrlBlocklist = src.Ingest.HTTPUrlBlocklist
	}
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".pulsekit")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
