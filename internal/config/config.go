package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	InheritedValue       = "inherited"
	ProfileSpecificValue = "profile-specific"
)

type DefinitionsConfig struct {
	Presets []PresetDefinition `mapstructure:"presets" yaml:"presets"`
}

// PresetDefinition is a named capture setting that profiles can reference.
type PresetDefinition struct {
	ID        string `mapstructure:"id" yaml:"id"`
	FrameRate int    `mapstructure:"frame_rate" yaml:"frame_rate"`
	Quality   string `mapstructure:"quality" yaml:"quality"`
}

type CaptureReference struct {
	Ref       string  `mapstructure:"ref" yaml:"ref,omitempty"`
	FrameRate *int    `mapstructure:"frame_rate,omitempty" yaml:"frame_rate,omitempty"`
	Quality   *string `mapstructure:"quality,omitempty" yaml:"quality,omitempty"`
	Extension string  `mapstructure:"extension" yaml:"extension,omitempty"`
}

type GlobalsConfig struct {
	SessionsDirectory string `mapstructure:"sessions_directory" yaml:"sessions_directory"`
	FFmpegPath        string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath       string `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type ConfigProfile struct {
	Capture  CaptureReference `mapstructure:"capture" yaml:"capture"`
	Output   OutputConfig     `mapstructure:"output" yaml:"output"`
	Timeouts TimeoutsConfig   `mapstructure:"timeouts" yaml:"timeouts"`
	Assembly AssemblyConfig   `mapstructure:"assembly" yaml:"assembly"`
	Estimate EstimateConfig   `mapstructure:"estimate" yaml:"estimate"`
	Server   ServerConfig     `mapstructure:"server" yaml:"server"`
	Archive  ArchiveConfig    `mapstructure:"archive" yaml:"archive"`
	Events   EventsConfig     `mapstructure:"events" yaml:"events"`
}

type Config struct {
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
	Assembly AssemblyConfig `mapstructure:"assembly" yaml:"assembly"`
	Estimate EstimateConfig `mapstructure:"estimate" yaml:"estimate"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Archive  ArchiveConfig  `mapstructure:"archive" yaml:"archive"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`

	// Internal field to track inheritance information for the info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Capture struct {
		FrameRate string
		Quality   string
		Extension string
	}
	Output struct {
		Directory string
	}
	Timeouts struct {
		PauseGrace string
		StopGrace  string
	}
}

type CaptureConfig struct {
	FrameRate   int    `mapstructure:"frame_rate" yaml:"frame_rate"`
	Quality     string `mapstructure:"quality" yaml:"quality"` // "480p", "720p", "1080p"
	Extension   string `mapstructure:"extension" yaml:"extension"`
	FFmpegPath  string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type TimeoutsConfig struct {
	PauseGrace time.Duration `mapstructure:"pause_grace" yaml:"pause_grace"`
	StopGrace  time.Duration `mapstructure:"stop_grace" yaml:"stop_grace"`
}

type AssemblyConfig struct {
	MaterializeAttempts int           `mapstructure:"materialize_attempts" yaml:"materialize_attempts"`
	MaterializeDelay    time.Duration `mapstructure:"materialize_delay" yaml:"materialize_delay"`

	// Timeout bounds a whole stop-time assembly, concat process included.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type EstimateConfig struct {
	BytesPerMinute int64 `mapstructure:"bytes_per_minute" yaml:"bytes_per_minute"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Secure    bool   `mapstructure:"secure" yaml:"secure"`
}

type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

var validQualities = map[string]bool{"480p": true, "720p": true, "1080p": true}

var defaultConfig = Config{
	Capture: CaptureConfig{
		FrameRate:   15,
		Quality:     "720p",
		Extension:   "mp4",
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "laboras-sessions"),
	},
	Timeouts: TimeoutsConfig{
		PauseGrace: 5 * time.Second,
		StopGrace:  10 * time.Second,
	},
	Assembly: AssemblyConfig{
		MaterializeAttempts: 5,
		MaterializeDelay:    200 * time.Millisecond,
		Timeout:             10 * time.Minute,
	},
	Estimate: EstimateConfig{
		// ~3.5 MB per minute of 720p/15fps x264
		BytesPerMinute: 3_670_016,
	},
	Server: ServerConfig{
		Port: 8727,
	},
	Events: EventsConfig{
		Topic: "laboras.sessions",
	},
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	cfg := defaultConfig
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	return &cfg
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			selectedConfig = mergeConfigs(base, selectedConfig)
		}
	}

	// Built-in defaults sit below every profile
	selectedConfig = mergeConfigs(&defaultConfig, selectedConfig)

	// Globals win over anything a profile says
	if rootConfig.Globals != nil {
		if rootConfig.Globals.SessionsDirectory != "" {
			selectedConfig.Output.Directory = rootConfig.Globals.SessionsDirectory
		}
		if rootConfig.Globals.FFmpegPath != "" {
			selectedConfig.Capture.FFmpegPath = rootConfig.Globals.FFmpegPath
		}
		if rootConfig.Globals.FFprobePath != "" {
			selectedConfig.Capture.FFprobePath = rootConfig.Globals.FFprobePath
		}
	}

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)

	if err := validateConfig(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Separate viper instance so the loaded configuration is left alone
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving the capture preset reference
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Output:   profile.Output,
		Timeouts: profile.Timeouts,
		Assembly: profile.Assembly,
		Estimate: profile.Estimate,
		Server:   profile.Server,
		Archive:  profile.Archive,
		Events:   profile.Events,
	}
	config.Capture.Extension = profile.Capture.Extension

	if ref := profile.Capture.Ref; ref != "" {
		preset := findPreset(definitions, ref)
		if preset == nil {
			return nil, fmt.Errorf("capture: reference '%s' not found in definitions", ref)
		}
		config.Capture.FrameRate = preset.FrameRate
		config.Capture.Quality = preset.Quality
	}

	// Overrides
	if profile.Capture.FrameRate != nil {
		config.Capture.FrameRate = *profile.Capture.FrameRate
	}
	if profile.Capture.Quality != nil {
		config.Capture.Quality = *profile.Capture.Quality
	}

	return config, nil
}

func findPreset(definitions *DefinitionsConfig, id string) *PresetDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Presets {
		if definitions.Presets[i].ID == id {
			return &definitions.Presets[i]
		}
	}
	return nil
}

// mergeConfigs fills every unset field of profile from base and records where each
// tracked value came from.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	if base != nil {
		*result = *base
		result.Inheritance = &InheritanceInfo{}
		result.Inheritance.Capture.FrameRate = InheritedValue
		result.Inheritance.Capture.Quality = InheritedValue
		result.Inheritance.Capture.Extension = InheritedValue
		result.Inheritance.Output.Directory = InheritedValue
		result.Inheritance.Timeouts.PauseGrace = InheritedValue
		result.Inheritance.Timeouts.StopGrace = InheritedValue
	}

	if profile == nil {
		return result
	}

	// A profile that was itself merged keeps its recorded origins
	prev := profile.Inheritance
	mark := func(field *string, prevField string) {
		if prev != nil && prevField == InheritedValue {
			*field = InheritedValue
			return
		}
		*field = ProfileSpecificValue
	}

	if profile.Capture.FrameRate != 0 {
		result.Capture.FrameRate = profile.Capture.FrameRate
		mark(&result.Inheritance.Capture.FrameRate, prevOf(prev).Capture.FrameRate)
	}
	if profile.Capture.Quality != "" {
		result.Capture.Quality = profile.Capture.Quality
		mark(&result.Inheritance.Capture.Quality, prevOf(prev).Capture.Quality)
	}
	if profile.Capture.Extension != "" {
		result.Capture.Extension = profile.Capture.Extension
		mark(&result.Inheritance.Capture.Extension, prevOf(prev).Capture.Extension)
	}
	if profile.Capture.FFmpegPath != "" {
		result.Capture.FFmpegPath = profile.Capture.FFmpegPath
	}
	if profile.Capture.FFprobePath != "" {
		result.Capture.FFprobePath = profile.Capture.FFprobePath
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		mark(&result.Inheritance.Output.Directory, prevOf(prev).Output.Directory)
	}

	if profile.Timeouts.PauseGrace != 0 {
		result.Timeouts.PauseGrace = profile.Timeouts.PauseGrace
		mark(&result.Inheritance.Timeouts.PauseGrace, prevOf(prev).Timeouts.PauseGrace)
	}
	if profile.Timeouts.StopGrace != 0 {
		result.Timeouts.StopGrace = profile.Timeouts.StopGrace
		mark(&result.Inheritance.Timeouts.StopGrace, prevOf(prev).Timeouts.StopGrace)
	}

	if profile.Assembly.MaterializeAttempts != 0 {
		result.Assembly.MaterializeAttempts = profile.Assembly.MaterializeAttempts
	}
	if profile.Assembly.MaterializeDelay != 0 {
		result.Assembly.MaterializeDelay = profile.Assembly.MaterializeDelay
	}
	if profile.Assembly.Timeout != 0 {
		result.Assembly.Timeout = profile.Assembly.Timeout
	}
	if profile.Estimate.BytesPerMinute != 0 {
		result.Estimate.BytesPerMinute = profile.Estimate.BytesPerMinute
	}
	if profile.Server.Port != 0 {
		result.Server.Port = profile.Server.Port
	}

	// Archive and events are all-or-nothing blocks
	if profile.Archive.Enabled || profile.Archive.Endpoint != "" {
		result.Archive = profile.Archive
	}
	if profile.Events.Enabled || len(profile.Events.Brokers) > 0 {
		topic := result.Events.Topic
		result.Events = profile.Events
		if result.Events.Topic == "" {
			result.Events.Topic = topic
		}
	}

	return result
}

func prevOf(info *InheritanceInfo) *InheritanceInfo {
	if info == nil {
		return &InheritanceInfo{}
	}
	return info
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func validateConfig(config *Config) error {
	if config.Capture.FrameRate < 1 || config.Capture.FrameRate > 240 {
		return fmt.Errorf("capture.frame_rate must be between 1 and 240, got: %d", config.Capture.FrameRate)
	}
	if !validQualities[config.Capture.Quality] {
		return fmt.Errorf("capture.quality must be one of 480p, 720p, 1080p, got: %s", config.Capture.Quality)
	}
	if strings.Contains(config.Capture.Extension, ".") || config.Capture.Extension == "" {
		return fmt.Errorf("capture.extension must be a bare extension like 'mp4', got: %q", config.Capture.Extension)
	}
	if config.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if config.Timeouts.PauseGrace <= 0 {
		return fmt.Errorf("timeouts.pause_grace must be > 0, got: %s", config.Timeouts.PauseGrace)
	}
	if config.Timeouts.StopGrace <= 0 {
		return fmt.Errorf("timeouts.stop_grace must be > 0, got: %s", config.Timeouts.StopGrace)
	}
	if config.Assembly.MaterializeAttempts < 1 {
		return fmt.Errorf("assembly.materialize_attempts must be >= 1, got: %d", config.Assembly.MaterializeAttempts)
	}
	if config.Assembly.MaterializeDelay < 0 {
		return fmt.Errorf("assembly.materialize_delay must be >= 0, got: %s", config.Assembly.MaterializeDelay)
	}
	if config.Assembly.Timeout <= 0 {
		return fmt.Errorf("assembly.timeout must be > 0, got: %s", config.Assembly.Timeout)
	}
	if config.Archive.Enabled {
		if config.Archive.Endpoint == "" || config.Archive.Bucket == "" {
			return fmt.Errorf("archive: 'endpoint' and 'bucket' are required when enabled")
		}
	}
	if config.Events.Enabled {
		if len(config.Events.Brokers) == 0 {
			return fmt.Errorf("events: at least one broker is required when enabled")
		}
		if config.Events.Topic == "" {
			return fmt.Errorf("events: 'topic' is required when enabled")
		}
	}
	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("LABORAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			return nil, fmt.Errorf("invalid config '%s': empty profile", configName)
		}
		if err := validateCaptureReference(configProfile.Capture, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return nil
	}

	seenIDs := make(map[string]bool)
	for i, def := range definitions.Presets {
		prefix := fmt.Sprintf("definitions.presets[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if def.FrameRate < 1 || def.FrameRate > 240 {
			return fmt.Errorf("%s: 'frame_rate' must be between 1 and 240, got: %d", prefix, def.FrameRate)
		}
		if !validQualities[def.Quality] {
			return fmt.Errorf("%s: 'quality' must be 480p, 720p or 1080p, got: %s", prefix, def.Quality)
		}
	}
	return nil
}

func validateCaptureReference(ref CaptureReference, definitions *DefinitionsConfig) error {
	if ref.Ref != "" && findPreset(definitions, ref.Ref) == nil {
		return fmt.Errorf("capture: references undefined preset '%s'", ref.Ref)
	}
	if ref.FrameRate != nil && (*ref.FrameRate < 1 || *ref.FrameRate > 240) {
		return fmt.Errorf("capture: frame_rate override must be between 1 and 240, got %d", *ref.FrameRate)
	}
	if ref.Quality != nil && !validQualities[*ref.Quality] {
		return fmt.Errorf("capture: quality override must be 480p, 720p or 1080p, got %s", *ref.Quality)
	}
	return nil
}
