package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix  = "SENTIENCEX_"
	HomeEnv    = "SENTIENCEX_HOME"
	ConfigFile = "config.yaml"

	DefaultDataDir              = "./data"
	DefaultLocale               = "en"
	DefaultSTMTurns             = 18
	DefaultMaxReplyChars        = 800
	DefaultDistressThreshold    = 0.62
	DefaultThreatThreshold      = 0.70
	DefaultAdviceCooldownTurns  = 2
	DefaultTonePreferenceWeight = 0.35
	DefaultProactiveMinTurns    = 8
	DefaultProactiveMinTurnGap  = 6
	DefaultProactiveMinHoursGap = 12
	DefaultRetrievalTurns       = 10
	DefaultScanTailLines        = 8000
	DefaultLoadTailLines        = 2000
	DefaultEpisodeGap           = 2 * time.Hour
	DefaultEpisodeIdle          = 30 * time.Minute
	DefaultCPUBudget            = 50
	DefaultMemBudget            = 50
	DefaultHardCPU              = 70
	DefaultHardMem              = 70
	DefaultCritical             = 85
	DefaultTrainingIdleAfter    = 5 * time.Minute
	DefaultTrainingMinGap       = 20 * time.Minute
	DefaultEventQueueSize       = 2000
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "console"
	DefaultLogMaxSizeMB         = 20
	DefaultLogMaxBackups        = 3
	DefaultLogMaxAgeDays        = 14
)

// DotEnvFile is loaded from the working directory before the environment
// is read. Variables already set win.
var DotEnvFile = ".env"

type Config struct {
	DataDir              string  `yaml:"data_dir" env:"DATA_DIR"`
	Locale               string  `yaml:"locale" env:"LOCALE"`
	LocaleDir            string  `yaml:"locale_dir,omitempty" env:"LOCALE_DIR"`
	ArtifactsDir         string  `yaml:"artifacts_dir,omitempty" env:"ARTIFACTS_DIR"`
	STMTurns             int     `yaml:"stm_turns" env:"STM_TURNS"`
	MaxReplyChars        int     `yaml:"max_reply_chars" env:"MAX_REPLY_CHARS"`
	DistressThreshold    float64 `yaml:"distress_hidden_threshold" env:"DISTRESS_HIDDEN_THRESHOLD"`
	ThreatThreshold      float64 `yaml:"threat_threshold" env:"THREAT_THRESHOLD"`
	AdviceCooldownTurns  int     `yaml:"advice_cooldown_turns" env:"ADVICE_COOLDOWN_TURNS"`
	TonePreferenceWeight float64 `yaml:"tone_preference_weight" env:"TONE_PREFERENCE_WEIGHT"`

	Proactive ProactiveConfig `yaml:"proactive" envPrefix:"PROACTIVE_"`
	Memory    MemoryConfig    `yaml:"memory" envPrefix:"MEMORY_"`
	Governor  GovernorConfig  `yaml:"governor" envPrefix:"GOVERNOR_"`
	Jobs      JobsConfig      `yaml:"jobs" envPrefix:"JOBS_"`
	Training  TrainingConfig  `yaml:"training" envPrefix:"TRAINING_"`
	Events    EventsConfig    `yaml:"events" envPrefix:"EVENTS_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

type ProactiveConfig struct {
	MinTurns    int     `yaml:"min_turns" env:"MIN_TURNS"`
	MinTurnGap  int     `yaml:"min_turn_gap" env:"MIN_TURN_GAP"`
	MinHoursGap float64 `yaml:"min_hours_gap" env:"MIN_HOURS_GAP"`
}

type MemoryConfig struct {
	RetrievalTurns int           `yaml:"retrieval_turns" env:"RETRIEVAL_TURNS"`
	ScanTailLines  int           `yaml:"scan_tail_lines" env:"SCAN_TAIL_LINES"`
	LoadTailLines  int           `yaml:"load_tail_lines" env:"LOAD_TAIL_LINES"`
	EpisodeGap     time.Duration `yaml:"episode_gap" env:"EPISODE_GAP"`
	EpisodeIdle    time.Duration `yaml:"episode_idle" env:"EPISODE_IDLE"`
}

type GovernorConfig struct {
	CPUBudget float64 `yaml:"cpu_budget" env:"CPU_BUDGET"`
	MemBudget float64 `yaml:"mem_budget" env:"MEM_BUDGET"`
	HardCPU   float64 `yaml:"hard_cpu" env:"HARD_CPU"`
	HardMem   float64 `yaml:"hard_mem" env:"HARD_MEM"`
	Critical  float64 `yaml:"critical" env:"CRITICAL"`
}

// JobsConfig holds the maintenance job intervals.
type JobsConfig struct {
	Resources time.Duration `yaml:"resources" env:"RESOURCES"`
	Artifacts time.Duration `yaml:"artifacts" env:"ARTIFACTS"`
	Learning  time.Duration `yaml:"learning" env:"LEARNING"`
	Compact   time.Duration `yaml:"compact" env:"COMPACT"`
	Episodes  time.Duration `yaml:"episodes" env:"EPISODES"`
	IdleTrain time.Duration `yaml:"idle_train" env:"IDLE_TRAIN"`
}

type TrainingConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Command   []string      `yaml:"command" env:"COMMAND" envSeparator:" "`
	IdleAfter time.Duration `yaml:"idle_after" env:"IDLE_AFTER"`
	MinGap    time.Duration `yaml:"min_gap" env:"MIN_GAP"`
}

type EventsConfig struct {
	QueueSize int  `yaml:"queue_size" env:"QUEUE_SIZE"`
	Journal   bool `yaml:"journal" env:"JOURNAL"`
}

type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	Format     string `yaml:"format" env:"FORMAT"`
	File       string `yaml:"file,omitempty" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

func DefaultJobs() JobsConfig {
	return JobsConfig{
		Resources: 10 * time.Second,
		Artifacts: 20 * time.Second,
		Learning:  60 * time.Second,
		Compact:   5 * time.Minute,
		Episodes:  60 * time.Second,
		IdleTrain: 30 * time.Second,
	}
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:              DefaultDataDir,
		Locale:               DefaultLocale,
		STMTurns:             DefaultSTMTurns,
		MaxReplyChars:        DefaultMaxReplyChars,
		DistressThreshold:    DefaultDistressThreshold,
		ThreatThreshold:      DefaultThreatThreshold,
		AdviceCooldownTurns:  DefaultAdviceCooldownTurns,
		TonePreferenceWeight: DefaultTonePreferenceWeight,
		Proactive: ProactiveConfig{
			MinTurns:    DefaultProactiveMinTurns,
			MinTurnGap:  DefaultProactiveMinTurnGap,
			MinHoursGap: DefaultProactiveMinHoursGap,
		},
		Memory: MemoryConfig{
			RetrievalTurns: DefaultRetrievalTurns,
			ScanTailLines:  DefaultScanTailLines,
			LoadTailLines:  DefaultLoadTailLines,
			EpisodeGap:     DefaultEpisodeGap,
			EpisodeIdle:    DefaultEpisodeIdle,
		},
		Governor: GovernorConfig{
			CPUBudget: DefaultCPUBudget,
			MemBudget: DefaultMemBudget,
			HardCPU:   DefaultHardCPU,
			HardMem:   DefaultHardMem,
			Critical:  DefaultCritical,
		},
		Jobs: DefaultJobs(),
		Training: TrainingConfig{
			IdleAfter: DefaultTrainingIdleAfter,
			MinGap:    DefaultTrainingMinGap,
		},
		Events: EventsConfig{
			QueueSize: DefaultEventQueueSize,
			Journal:   true,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}
}

// ConfigDir is $SENTIENCEX_HOME, else ~/.sentiencex.
func ConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv(HomeEnv)); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".sentiencex")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), ConfigFile)
}

// LoadConfig layers the YAML file, .env and SENTIENCEX_* variables over
// the defaults, then restores defaults for anything left invalid.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = d.DataDir
	}
	if strings.TrimSpace(c.Locale) == "" {
		c.Locale = d.Locale
	}
	if strings.TrimSpace(c.ArtifactsDir) == "" {
		c.ArtifactsDir = filepath.Join(c.DataDir, "artifacts")
	}
	positiveInt(&c.STMTurns, d.STMTurns)
	positiveInt(&c.MaxReplyChars, d.MaxReplyChars)
	unitFloat(&c.DistressThreshold, d.DistressThreshold)
	unitFloat(&c.ThreatThreshold, d.ThreatThreshold)
	positiveInt(&c.AdviceCooldownTurns, d.AdviceCooldownTurns)
	if c.TonePreferenceWeight < 0 {
		c.TonePreferenceWeight = d.TonePreferenceWeight
	}

	positiveInt(&c.Proactive.MinTurns, d.Proactive.MinTurns)
	positiveInt(&c.Proactive.MinTurnGap, d.Proactive.MinTurnGap)
	positiveFloat(&c.Proactive.MinHoursGap, d.Proactive.MinHoursGap)

	positiveInt(&c.Memory.RetrievalTurns, d.Memory.RetrievalTurns)
	positiveInt(&c.Memory.ScanTailLines, d.Memory.ScanTailLines)
	positiveInt(&c.Memory.LoadTailLines, d.Memory.LoadTailLines)
	positiveDur(&c.Memory.EpisodeGap, d.Memory.EpisodeGap)
	positiveDur(&c.Memory.EpisodeIdle, d.Memory.EpisodeIdle)

	positiveFloat(&c.Governor.CPUBudget, d.Governor.CPUBudget)
	positiveFloat(&c.Governor.MemBudget, d.Governor.MemBudget)
	positiveFloat(&c.Governor.HardCPU, d.Governor.HardCPU)
	positiveFloat(&c.Governor.HardMem, d.Governor.HardMem)
	positiveFloat(&c.Governor.Critical, d.Governor.Critical)

	positiveDur(&c.Jobs.Resources, d.Jobs.Resources)
	positiveDur(&c.Jobs.Artifacts, d.Jobs.Artifacts)
	positiveDur(&c.Jobs.Learning, d.Jobs.Learning)
	positiveDur(&c.Jobs.Compact, d.Jobs.Compact)
	positiveDur(&c.Jobs.Episodes, d.Jobs.Episodes)
	positiveDur(&c.Jobs.IdleTrain, d.Jobs.IdleTrain)

	positiveDur(&c.Training.IdleAfter, d.Training.IdleAfter)
	positiveDur(&c.Training.MinGap, d.Training.MinGap)

	positiveInt(&c.Events.QueueSize, d.Events.QueueSize)

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format != "console" && c.Log.Format != "json" {
		c.Log.Format = d.Log.Format
	}
	positiveInt(&c.Log.MaxSizeMB, d.Log.MaxSizeMB)
}

func positiveInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func positiveFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func unitFloat(v *float64, def float64) {
	if *v <= 0 || *v > 1 {
		*v = def
	}
}

func positiveDur(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
