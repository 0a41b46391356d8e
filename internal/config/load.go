package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load reads Options from path (a TOML file), then layers environment
// variables prefixed TYPEDKV_ on top (TYPEDKV_ENV_HOME overrides
// env_home, matching viper's automatic env-key translation of dots and
// underscores), exactly the base-file-plus-env-override shape the
// teacher's own config loader uses.
func Load(path string) (Options, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("typedkv")
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("index_support", def.IndexSupport)
	v.SetDefault("lock_timeout", def.LockTimeout.Seconds())
	v.SetDefault("transaction_timeout", def.TransactionTimeout.Seconds())
	v.SetDefault("checkpoint_interval", def.CheckpointInterval.Milliseconds())
	v.SetDefault("checkpoint_threshold_kb", def.CheckpointThresholdKB)
	v.SetDefault("checkpoint_threshold_minutes", def.CheckpointThresholdMinutes.Minutes())

	if err := v.ReadInConfig(); err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	var raw durationFields
	if err := v.Unmarshal(&raw); err != nil {
		return Options{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	applyDurations(&opts, raw)

	if opts.DataHome == "" {
		opts.DataHome = opts.EnvHome
	}
	return opts, nil
}

// applyDurations converts the file's seconds/milliseconds/minutes fields
// into Options' time.Duration fields. Kept separate from Load so tests can
// exercise the conversion without a file on disk.
func applyDurations(opts *Options, raw durationFields) {
	opts.LockTimeout = durationFromSeconds(raw.LockTimeoutSeconds)
	opts.TransactionTimeout = durationFromSeconds(raw.TransactionTimeoutSeconds)
	opts.CheckpointInterval = time.Duration(raw.CheckpointIntervalMillis) * time.Millisecond
	opts.CheckpointThresholdMinutes = durationFromSeconds(raw.CheckpointThresholdMinutes * 60)
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
