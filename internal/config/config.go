package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
)

// Device backends.
const (
	BackendAuto     = "auto"
	BackendTone     = "tone"
	BackendFile     = "file"
	BackendPipeWire = "pipewire"
)

// Inheritance markers shown by `config show` and `info`.
const (
	Inherited       = "inherited"
	ProfileSpecific = "profile-specific"
)

const defaultProfile = "default"

// ErrProfileNotFound is returned when the requested profile is not in the file.
var ErrProfileNotFound = errors.New("configuration profile not found")

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

// Config is one resolved profile.
type Config struct {
	Session audio.StartOptions `mapstructure:"session" yaml:"session"`
	Device  DeviceConfig       `mapstructure:"device" yaml:"device"`
	Output  OutputConfig       `mapstructure:"output" yaml:"output"`

	// Name of the profile this config was loaded from
	Profile string `mapstructure:"-" yaml:"-"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type DeviceConfig struct {
	Backend       string  `mapstructure:"backend" yaml:"backend"`               // "auto", "tone", "file", "pipewire"
	Path          string  `mapstructure:"path" yaml:"path,omitempty"`           // WAV file replayed by the file backend
	ToneFrequency float64 `mapstructure:"tone_frequency" yaml:"tone_frequency"` // Hz, tone backend only
	DeviceRate    int     `mapstructure:"device_rate" yaml:"device_rate"`       // 0 means the requested rate
	Realtime      *bool   `mapstructure:"realtime" yaml:"realtime,omitempty"`
}

// IsRealtime reports whether ticks are paced at the device rate. Defaults to true.
func (d DeviceConfig) IsRealtime() bool {
	return d.Realtime == nil || *d.Realtime
}

type OutputConfig struct {
	Directory  string `mapstructure:"directory" yaml:"directory"`
	SaveFrames *bool  `mapstructure:"save_frames" yaml:"save_frames,omitempty"`
}

// SavesFrames reports whether frame notifications are written next to the recording.
func (o OutputConfig) SavesFrames() bool {
	return o.SaveFrames != nil && *o.SaveFrames
}

type InheritanceInfo struct {
	Session struct {
		Duration         string // "inherited" or "profile-specific"
		SampleRate       string
		NumberOfChannels string
		FrameSize        string
		Format           string
		SampleFormat     string
		AudioSource      string
	}
	Device struct {
		Backend       string
		Path          string
		ToneFrequency string
		DeviceRate    string
		Realtime      string
	}
	Output struct {
		Directory  string
		SaveFrames string
	}
}

var defaultConfig = Config{
	Device: DeviceConfig{
		Backend:       BackendAuto,
		ToneFrequency: 440,
	},
	Output: OutputConfig{
		Directory: filepath.Join("~", "Audio", "pcmcapture"),
	},
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := defaultConfig
	cfg.Profile = defaultProfile
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	return &cfg
}

// DefaultPath returns $HOME/.config/pcmcapture.yaml.
func DefaultPath() string {
	return expandPath(filepath.Join("~", ".config", "pcmcapture.yaml"))
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = defaultProfile
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("%w: '%s'", ErrProfileNotFound, configName)
	}

	base := &defaultConfig
	if configName != defaultProfile {
		if def, exists := rootConfig.Configs[defaultProfile]; exists {
			base = mergeConfigs(&defaultConfig, def)
		}
	}
	result := mergeConfigs(base, selected)
	result.Profile = configName

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordingsDirectory != "" {
		result.Output.Directory = rootConfig.Globals.Output.RecordingsDirectory
		result.Inheritance.Output.Directory = Inherited
	}

	result.Output.Directory = expandPath(result.Output.Directory)
	result.Device.Path = expandPath(result.Device.Path)

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, exists := rootConfig.Configs[newActiveConfig]; !exists {
		return fmt.Errorf("%w: '%s'", ErrProfileNotFound, newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("PCMCAPTURE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
		if err := validateBackend(profile.Device.Backend); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	if rootConfig.ActiveConfig != "" {
		if _, exists := rootConfig.Configs[rootConfig.ActiveConfig]; !exists {
			return nil, fmt.Errorf("active_config '%s' does not name a profile", rootConfig.ActiveConfig)
		}
	}

	return &rootConfig, nil
}

// Validate checks that the profile can start a session.
func (c *Config) Validate() error {
	if _, err := c.Session.Resolve(); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if err := validateBackend(c.Device.Backend); err != nil {
		return err
	}
	if c.Device.Backend == BackendFile && c.Device.Path == "" {
		return fmt.Errorf("device: backend 'file' requires a path")
	}
	if c.Device.ToneFrequency < 0 {
		return fmt.Errorf("device: tone_frequency must not be negative, got %g", c.Device.ToneFrequency)
	}
	if c.Device.DeviceRate < 0 {
		return fmt.Errorf("device: device_rate must not be negative, got %d", c.Device.DeviceRate)
	}

	if c.Device.Backend == BackendPipeWire && c.Session.AudioSource != nil {
		if source := *c.Session.AudioSource; source != audio.DefaultAudioSource && !isValidAudioSource(source) {
			return fmt.Errorf("session: audio_source must be a valid PipeWire target, got: %s", source)
		}
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output: directory is required")
	}

	return nil
}

// SessionConfig resolves the session options over the package defaults.
func (c *Config) SessionConfig() (audio.SessionConfig, error) {
	return c.Session.Resolve()
}

func validateBackend(backend string) error {
	switch strings.ToLower(backend) {
	case "", BackendAuto, BackendTone, BackendFile, BackendPipeWire:
		return nil
	}
	return fmt.Errorf("device: backend must be one of auto, tone, file, pipewire, got: %s", backend)
}

// mergeConfigs overlays profile on base. Every field the profile leaves unset
// falls back to base and is marked as inherited.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	if base == nil {
		base = &Config{}
	}
	if profile == nil {
		profile = &Config{}
	}

	s, inh := &result.Session, &result.Inheritance.Session
	s.Duration = pick(base.Session.Duration, profile.Session.Duration, &inh.Duration)
	s.SampleRate = pick(base.Session.SampleRate, profile.Session.SampleRate, &inh.SampleRate)
	s.NumberOfChannels = pick(base.Session.NumberOfChannels, profile.Session.NumberOfChannels, &inh.NumberOfChannels)
	s.FrameSize = pick(base.Session.FrameSize, profile.Session.FrameSize, &inh.FrameSize)
	s.Format = pick(base.Session.Format, profile.Session.Format, &inh.Format)
	s.SampleFormat = pick(base.Session.SampleFormat, profile.Session.SampleFormat, &inh.SampleFormat)
	s.AudioSource = pick(base.Session.AudioSource, profile.Session.AudioSource, &inh.AudioSource)

	result.Device = base.Device
	result.Output = base.Output
	result.Inheritance.Device.Backend = Inherited
	result.Inheritance.Device.Path = Inherited
	result.Inheritance.Device.ToneFrequency = Inherited
	result.Inheritance.Device.DeviceRate = Inherited
	result.Inheritance.Output.Directory = Inherited

	if profile.Device.Backend != "" {
		result.Device.Backend = strings.ToLower(profile.Device.Backend)
		result.Inheritance.Device.Backend = ProfileSpecific
	}
	if profile.Device.Path != "" {
		result.Device.Path = profile.Device.Path
		result.Inheritance.Device.Path = ProfileSpecific
	}
	if profile.Device.ToneFrequency != 0 {
		result.Device.ToneFrequency = profile.Device.ToneFrequency
		result.Inheritance.Device.ToneFrequency = ProfileSpecific
	}
	if profile.Device.DeviceRate != 0 {
		result.Device.DeviceRate = profile.Device.DeviceRate
		result.Inheritance.Device.DeviceRate = ProfileSpecific
	}
	result.Device.Realtime = pick(base.Device.Realtime, profile.Device.Realtime, &result.Inheritance.Device.Realtime)

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		result.Inheritance.Output.Directory = ProfileSpecific
	}
	result.Output.SaveFrames = pick(base.Output.SaveFrames, profile.Output.SaveFrames, &result.Inheritance.Output.SaveFrames)

	return result
}

// pick returns the profile value when it is set, else the base value.
func pick[T any](base, profile *T, status *string) *T {
	if profile != nil {
		*status = ProfileSpecific
		return profile
	}
	*status = Inherited
	return base
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// isValidAudioSource checks if a source name is a valid PipeWire target:
// a node name, a numeric object id, or a "device:port" pair.
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}

	if strings.Contains(source, ":") {
		// Device names may themselves contain colons, split from the right
		lastColonIndex := strings.LastIndex(source, ":")
		deviceName := strings.TrimSpace(source[:lastColonIndex])
		port := strings.TrimSpace(source[lastColonIndex+1:])
		return len(deviceName) > 0 && len(port) > 0
	}

	return true
}
