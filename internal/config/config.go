// Package config provides the configuration structure for the emotion
// router. Values arrive as TOML through the configurator and are normalized
// with defaults before the rest of the service sees them.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"

	"github.com/book-expert/tts-emotion-router/internal/core"
)

// Defaults applied by ApplyDefaults when the TOML leaves a field unset.
const (
	DefaultModel              = "gpt-tts-pro"
	DefaultFormat             = "mp3"
	DefaultSpeed              = 1.0
	DefaultGain               = 5.0
	DefaultSampleRateMP3WAV   = 44100
	DefaultSampleRateOther    = 48000
	DefaultProbability        = 0.8
	DefaultTextLimit          = 80
	DefaultCooldownSeconds    = 5
	DefaultMarkerTag          = "EMO"
	DefaultTimeoutSeconds     = 30
	DefaultMaxRetries         = 2
	DefaultAudioTTLSeconds    = 2 * 3600
	DefaultSessionIdleSeconds = 86400
	DefaultSweepSeconds       = 3600
	DefaultMaxSessions        = 10000
)

// Validation errors.
var (
	ErrProviderURLMissing = errors.New("provider url is required")
	ErrProviderKeyMissing = errors.New("provider api key is required")
	ErrProbabilityRange   = errors.New("routing probability must be within [0, 1]")
	ErrSpeedRange         = errors.New("provider speed must be positive")
)

// ProviderConfig holds the synthesis backend settings.
type ProviderConfig struct {
	URL            string  `toml:"url"`
	Key            string  `toml:"key"`
	Model          string  `toml:"model"`
	Format         string  `toml:"format"`
	Speed          float64 `toml:"speed"`
	Gain           float64 `toml:"gain"`
	SampleRate     int     `toml:"sample_rate"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
}

// RoutingConfig holds the gate thresholds and session enablement lists.
// GlobalEnable and ShowReferences default to true, so they are pointers to
// tell "unset" apart from an explicit false in the TOML.
type RoutingConfig struct {
	Probability      float64  `toml:"probability"`
	TextLimit        int      `toml:"text_limit"`
	CooldownSeconds  int      `toml:"cooldown_seconds"`
	AllowMixed       bool     `toml:"allow_mixed"`
	ShowReferences   *bool    `toml:"show_references"`
	GlobalEnable     *bool    `toml:"global_enable"`
	TextWithVoice    bool     `toml:"text_with_voice"`
	EnabledSessions  []string `toml:"enabled_sessions"`
	DisabledSessions []string `toml:"disabled_sessions"`
}

// MarkerConfig holds the emotion-tag protocol settings. Enable defaults to
// true when unset.
type MarkerConfig struct {
	Enable *bool  `toml:"enable"`
	Tag    string `toml:"tag"`
}

// KeywordsConfig holds custom classifier keywords per emotion. A non-empty
// list replaces the built-in list for that emotion wholesale; emotions left
// empty keep the built-in keywords.
type KeywordsConfig struct {
	Happy []string `toml:"happy"`
	Sad   []string `toml:"sad"`
	Angry []string `toml:"angry"`
}

// CacheConfig holds the audio cache location and expiry.
type CacheConfig struct {
	Dir        string `toml:"dir"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// SessionsConfig bounds the session store.
type SessionsConfig struct {
	IdleTTLSeconds       int `toml:"idle_ttl_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	MaxSessions          int `toml:"max_sessions"`
}

// NATSConfig holds the host-bridge transport settings. AudioBucket is
// optional; when set, synthesized clips are mirrored into that JetStream
// object store bucket.
type NATSConfig struct {
	URL             string `toml:"url"`
	DecorateSubject string `toml:"decorate_subject"`
	AudioBucket     string `toml:"audio_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Provider ProviderConfig     `toml:"provider"`
	Routing  RoutingConfig      `toml:"routing"`
	Marker   MarkerConfig       `toml:"marker"`
	Keywords KeywordsConfig     `toml:"keywords"`
	VoiceMap map[string]string  `toml:"voice_map"`
	SpeedMap map[string]float64 `toml:"speed_map"`
	Cache    CacheConfig        `toml:"cache"`
	Sessions SessionsConfig     `toml:"sessions"`
	NATS     NATSConfig         `toml:"nats"`
	Paths    PathsConfig        `toml:"paths"`
}

// Load loads the configuration for the emotion router and normalizes it.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Provider.Model == "" {
		c.Provider.Model = DefaultModel
	}

	if c.Provider.Format == "" {
		c.Provider.Format = DefaultFormat
	}

	if c.Provider.Speed == 0 {
		c.Provider.Speed = DefaultSpeed
	}

	if c.Provider.Gain == 0 {
		c.Provider.Gain = DefaultGain
	}

	if c.Provider.SampleRate == 0 {
		if c.Provider.Format == "mp3" || c.Provider.Format == "wav" {
			c.Provider.SampleRate = DefaultSampleRateMP3WAV
		} else {
			c.Provider.SampleRate = DefaultSampleRateOther
		}
	}

	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = DefaultMaxRetries
	}

	if c.Routing.Probability == 0 {
		c.Routing.Probability = DefaultProbability
	}

	if c.Routing.TextLimit == 0 {
		c.Routing.TextLimit = DefaultTextLimit
	}

	if c.Routing.CooldownSeconds == 0 {
		c.Routing.CooldownSeconds = DefaultCooldownSeconds
	}

	if c.Marker.Tag == "" {
		c.Marker.Tag = DefaultMarkerTag
	}

	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = DefaultAudioTTLSeconds
	}

	if c.Sessions.IdleTTLSeconds == 0 {
		c.Sessions.IdleTTLSeconds = DefaultSessionIdleSeconds
	}

	if c.Sessions.SweepIntervalSeconds == 0 {
		c.Sessions.SweepIntervalSeconds = DefaultSweepSeconds
	}

	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = DefaultMaxSessions
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Provider.URL == "" {
		return ErrProviderURLMissing
	}

	if c.Provider.Key == "" {
		return ErrProviderKeyMissing
	}

	if c.Routing.Probability < 0 || c.Routing.Probability > 1 {
		return fmt.Errorf("%w: got %v", ErrProbabilityRange, c.Routing.Probability)
	}

	if c.Provider.Speed <= 0 {
		return fmt.Errorf("%w: got %v", ErrSpeedRange, c.Provider.Speed)
	}

	return nil
}

// MarkerEnabled reports whether tag injection is on; unset means enabled.
func (c *Config) MarkerEnabled() bool {
	return c.Marker.Enable == nil || *c.Marker.Enable
}

// GlobalEnabled reports the global synthesis switch; unset means enabled.
func (c *Config) GlobalEnabled() bool {
	return c.Routing.GlobalEnable == nil || *c.Routing.GlobalEnable
}

// ReferencesEnabled reports whether extracted links are appended to the
// outgoing text; unset means enabled.
func (c *Config) ReferencesEnabled() bool {
	return c.Routing.ShowReferences == nil || *c.Routing.ShowReferences
}

// Cooldown returns the gate cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Routing.CooldownSeconds) * time.Second
}

// ProviderTimeout returns the HTTP timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// AudioTTL returns the cache expiry as a duration.
func (c *Config) AudioTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// SessionIdleTTL returns the session idle expiry as a duration.
func (c *Config) SessionIdleTTL() time.Duration {
	return time.Duration(c.Sessions.IdleTTLSeconds) * time.Second
}

// SessionSweepInterval returns the sweep cadence as a duration.
func (c *Config) SessionSweepInterval() time.Duration {
	return time.Duration(c.Sessions.SweepIntervalSeconds) * time.Second
}

// Voices converts the string-keyed TOML voice map into an emotion-keyed map,
// dropping entries whose key is not one of the four emotions.
func (c *Config) Voices() map[core.Emotion]string {
	voices := make(map[core.Emotion]string, len(c.VoiceMap))

	for raw, id := range c.VoiceMap {
		emotion, err := core.ParseEmotion(raw)
		if err != nil {
			continue
		}

		voices[emotion] = id
	}

	return voices
}

// Speeds converts the string-keyed TOML speed map into an emotion-keyed map.
func (c *Config) Speeds() map[core.Emotion]float64 {
	speeds := make(map[core.Emotion]float64, len(c.SpeedMap))

	for raw, speed := range c.SpeedMap {
		emotion, err := core.ParseEmotion(raw)
		if err != nil {
			continue
		}

		speeds[emotion] = speed
	}

	return speeds
}

// ExtraKeywords returns the configured per-emotion keyword additions keyed
// by emotion.
func (c *Config) ExtraKeywords() map[core.Emotion][]string {
	return map[core.Emotion][]string{
		core.EmotionHappy: c.Keywords.Happy,
		core.EmotionSad:   c.Keywords.Sad,
		core.EmotionAngry: c.Keywords.Angry,
	}
}

// IsSessionEnabled decides whether the session takes part in synthesis.
// With the global switch on, the disabled list is a blacklist; with it off,
// the enabled list is a whitelist.
func (c *Config) IsSessionEnabled(key core.ConversationKey) bool {
	id := key.String()

	if c.GlobalEnabled() {
		for _, disabled := range c.Routing.DisabledSessions {
			if disabled == id {
				return false
			}
		}

		return true
	}

	for _, enabled := range c.Routing.EnabledSessions {
		if enabled == id {
			return true
		}
	}

	return false
}
