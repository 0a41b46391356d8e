// Package config implements the Configuration Contract of spec §6: the
// enumerated options an implementer must recognize when building a
// Repository, loaded from a TOML file (github.com/BurntSushi/toml) with
// environment-variable and flag overrides layered on top via
// github.com/spf13/viper, mirroring the teacher's own layered
// configuration (a base file plus env/flag overrides resolved through one
// viper instance).
package config

import (
	"fmt"
	"time"
)

// Options is the full Configuration Contract: every option spec §6's table
// enumerates, with the defaults it specifies.
type Options struct {
	// Product selects the engine flavor ("memkv", "dolt", "mysql").
	Product string `toml:"product" mapstructure:"product"`

	// EnvHome is the environment directory. Required for on-disk
	// products; ignored by memkv.
	EnvHome string `toml:"env_home" mapstructure:"env_home"`
	// DataHome is a separate directory for data files; defaults to
	// EnvHome when empty.
	DataHome string `toml:"data_home" mapstructure:"data_home"`

	// SingleFileName, if set, groups every type's database into one
	// physical file. FileNameMap overrides it per type; a "" key names
	// the default file for types not otherwise listed.
	SingleFileName string            `toml:"single_file_name" mapstructure:"single_file_name"`
	FileNameMap    map[string]string `toml:"file_name_map" mapstructure:"file_name_map"`

	// ReadOnly keeps the background checkpointer from starting and is
	// copied into kvengine.Options.ReadOnly. Writes, index writes
	// included, are not rejected.
	ReadOnly bool `toml:"read_only" mapstructure:"read_only"`

	// CacheSize is the engine cache in bytes; CachePercent is an
	// alternative expressed as a fraction of physical memory (0 means
	// unset, use CacheSize instead).
	CacheSize    int64   `toml:"cache_size" mapstructure:"cache_size"`
	CachePercent float64 `toml:"cache_percent" mapstructure:"cache_percent"`

	// LockTimeout and TransactionTimeout are seconds in the contract
	// table; internal/repository converts them into the millisecond
	// values kvengine.Options carries (LockTimeoutMillis/TxnTimeoutMillis)
	// (spec §6: "passed in microseconds" — this module uses
	// milliseconds, still sub-second precision, documented here rather
	// than carrying a true microsecond field nothing reads at that
	// resolution).
	LockTimeout        time.Duration `toml:"-" mapstructure:"-"`
	TransactionTimeout time.Duration `toml:"-" mapstructure:"-"`

	TransactionNoSync      bool `toml:"transaction_no_sync" mapstructure:"transaction_no_sync"`
	TransactionWriteNoSync bool `toml:"transaction_write_no_sync" mapstructure:"transaction_write_no_sync"`

	DatabasesTransactional bool           `toml:"databases_transactional" mapstructure:"databases_transactional"`
	DatabasePageSize       map[string]int `toml:"database_page_size" mapstructure:"database_page_size"`

	// Private disables cross-process sharing of EnvHome: opening it
	// takes an exclusive internal/lockfile lock instead of a shared one.
	Private bool `toml:"private" mapstructure:"private"`

	// Multiversion enables snapshot isolation where the engine product
	// supports it; on a product that doesn't, txscope.SelectIsolation
	// downgrades a Serializable request to RepeatableRead and reports
	// the downgrade.
	Multiversion bool `toml:"multiversion" mapstructure:"multiversion"`

	LogInMemory    bool  `toml:"log_in_memory" mapstructure:"log_in_memory"`
	LogFileMaxSize int64 `toml:"log_file_max_size" mapstructure:"log_file_max_size"`
	KeepOldLogFiles int  `toml:"keep_old_log_files" mapstructure:"keep_old_log_files"`

	RunFullRecovery bool `toml:"run_full_recovery" mapstructure:"run_full_recovery"`

	RunCheckpointer          bool          `toml:"run_checkpointer" mapstructure:"run_checkpointer"`
	CheckpointInterval       time.Duration `toml:"-" mapstructure:"-"`
	CheckpointThresholdKB    int64         `toml:"checkpoint_threshold_kb" mapstructure:"checkpoint_threshold_kb"`
	CheckpointThresholdMinutes time.Duration `toml:"-" mapstructure:"-"`

	RunDeadlockDetector bool `toml:"run_deadlock_detector" mapstructure:"run_deadlock_detector"`

	ChecksumEnabled bool `toml:"checksum_enabled" mapstructure:"checksum_enabled"`

	IndexSupport       bool    `toml:"index_support" mapstructure:"index_support"`
	IndexRepairEnabled bool    `toml:"index_repair_enabled" mapstructure:"index_repair_enabled"`
	IndexRepairThrottle float64 `toml:"index_repair_throttle" mapstructure:"index_repair_throttle"`

	CompressionMap map[string]string `toml:"compression_map" mapstructure:"compression_map"`

	// PreShutdownHook and PostShutdownHook name a callback internal/hooks
	// runs during Repository.Shutdown; Options itself carries only the
	// name a caller registered it under (internal/repository resolves
	// the name to the func(context.Context) error it was registered
	// with — Options is serializable config, not a place to stash
	// closures).
	PreShutdownHook  string `toml:"pre_shutdown_hook" mapstructure:"pre_shutdown_hook"`
	PostShutdownHook string `toml:"post_shutdown_hook" mapstructure:"post_shutdown_hook"`

	// raw holds the millisecond/second fields read from the file before
	// Load converts them into the time.Duration fields above; see
	// applyDurations in load.go.
	raw durationFields
}

// durationFields are the on-the-wire forms of Options' time.Duration
// fields: lock/transaction timeouts in seconds (matching spec §6's
// documented unit) and checkpoint cadence in milliseconds/minutes.
type durationFields struct {
	LockTimeoutSeconds          float64 `toml:"lock_timeout" mapstructure:"lock_timeout"`
	TransactionTimeoutSeconds   float64 `toml:"transaction_timeout" mapstructure:"transaction_timeout"`
	CheckpointIntervalMillis    int64   `toml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
	CheckpointThresholdMinutes  float64 `toml:"checkpoint_threshold_minutes" mapstructure:"checkpoint_threshold_minutes"`
}

// Default returns the Configuration Contract's documented defaults: a
// 0.5s lock timeout, a 300s transaction timeout, checkpointing every 10s
// or 1024KB/5min, index support on, and everything else left at its Go
// zero value (other features off, no product selected).
func Default() Options {
	return Options{
		IndexSupport:               true,
		LockTimeout:                500 * time.Millisecond,
		TransactionTimeout:         300 * time.Second,
		CheckpointInterval:         10 * time.Second,
		CheckpointThresholdKB:      1024,
		CheckpointThresholdMinutes: 5 * time.Minute,
	}
}

// Validate checks the contract's required fields and numeric ranges,
// wrapping failures in storeerr.ErrConfiguration at the call site
// (internal/repository.Build), not here, to avoid this package depending
// on storeerr for a single error type.
func (o Options) Validate() error {
	if o.Product == "" {
		return fmt.Errorf("config: product is required")
	}
	if o.Product != "memkv" && o.EnvHome == "" {
		return fmt.Errorf("config: env_home is required for product %q", o.Product)
	}
	if o.CacheSize < 0 {
		return fmt.Errorf("config: cache_size must not be negative")
	}
	if o.IndexRepairThrottle < 0 || o.IndexRepairThrottle > 1 {
		return fmt.Errorf("config: index_repair_throttle must be in [0.0, 1.0], got %v", o.IndexRepairThrottle)
	}
	return nil
}
