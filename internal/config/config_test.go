// Package config_test tests configuration decoding, defaults and validation.
package config_test

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-emotion-router/internal/config"
	"github.com/book-expert/tts-emotion-router/internal/core"
)

const sampleTOML = `
[provider]
url = "https://tts.example.com/v1"
key = "secret"
format = "mp3"

[routing]
probability = 0.5
text_limit = 120
cooldown_seconds = 8
allow_mixed = true
global_enable = false
enabled_sessions = ["group_1"]

[marker]
tag = "MOOD"

[keywords]
happy = ["yay"]

[voice_map]
happy = "voice-happy"
neutral = "voice-neutral"
bogus = "ignored"

[speed_map]
happy = 1.2

[cache]
dir = "/tmp/audio"
ttl_seconds = 600

[sessions]
idle_ttl_seconds = 300
sweep_interval_seconds = 60
max_sessions = 50

[nats]
url = "nats://127.0.0.1:4222"
decorate_subject = "tts.decorate"
audio_bucket = "ROUTER_AUDIO"

[paths]
base_logs_dir = "/tmp/logs"
`

func decodeSample(t *testing.T) *config.Config {
	t.Helper()

	var cfg config.Config

	require.NoError(t, toml.Unmarshal([]byte(sampleTOML), &cfg))
	cfg.ApplyDefaults()

	return &cfg
}

func TestDecodeTOML(t *testing.T) {
	t.Parallel()

	cfg := decodeSample(t)

	assert.Equal(t, "https://tts.example.com/v1", cfg.Provider.URL)
	assert.Equal(t, "MOOD", cfg.Marker.Tag)
	assert.InEpsilon(t, 0.5, cfg.Routing.Probability, 1e-9)
	assert.Equal(t, 120, cfg.Routing.TextLimit)
	assert.True(t, cfg.Routing.AllowMixed)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "tts.decorate", cfg.NATS.DecorateSubject)
	assert.Equal(t, "ROUTER_AUDIO", cfg.NATS.AudioBucket)
	assert.Equal(t, "/tmp/logs", cfg.Paths.BaseLogsDir)

	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.Provider.URL = "http://x"
	cfg.Provider.Key = "k"
	cfg.ApplyDefaults()

	assert.Equal(t, config.DefaultModel, cfg.Provider.Model)
	assert.Equal(t, config.DefaultFormat, cfg.Provider.Format)
	assert.Equal(t, config.DefaultSampleRateMP3WAV, cfg.Provider.SampleRate)
	assert.InEpsilon(t, config.DefaultSpeed, cfg.Provider.Speed, 1e-9)
	assert.InEpsilon(t, config.DefaultGain, cfg.Provider.Gain, 1e-9)
	assert.InEpsilon(t, config.DefaultProbability, cfg.Routing.Probability, 1e-9)
	assert.Equal(t, config.DefaultTextLimit, cfg.Routing.TextLimit)
	assert.Equal(t, config.DefaultCooldownSeconds, cfg.Routing.CooldownSeconds)
	assert.Equal(t, config.DefaultMarkerTag, cfg.Marker.Tag)
	assert.Equal(t, config.DefaultMaxSessions, cfg.Sessions.MaxSessions)

	// Unset tri-state booleans default to on.
	assert.True(t, cfg.MarkerEnabled())
	assert.True(t, cfg.GlobalEnabled())
	assert.True(t, cfg.ReferencesEnabled())
}

func TestApplyDefaultsSampleRateByFormat(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.Provider.Format = "opus"
	cfg.ApplyDefaults()

	assert.Equal(t, config.DefaultSampleRateOther, cfg.Provider.SampleRate)
}

func TestExplicitFalseOverridesDefaults(t *testing.T) {
	t.Parallel()

	cfg := decodeSample(t)

	assert.False(t, cfg.GlobalEnabled())
	assert.True(t, cfg.MarkerEnabled(), "unset marker.enable stays on")
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()
	require.ErrorIs(t, cfg.Validate(), config.ErrProviderURLMissing)

	cfg.Provider.URL = "http://x"
	require.ErrorIs(t, cfg.Validate(), config.ErrProviderKeyMissing)

	cfg.Provider.Key = "k"
	cfg.Routing.Probability = 1.5
	require.ErrorIs(t, cfg.Validate(), config.ErrProbabilityRange)

	cfg.Routing.Probability = 0.5
	cfg.Provider.Speed = -1
	require.ErrorIs(t, cfg.Validate(), config.ErrSpeedRange)
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()

	cfg := decodeSample(t)

	assert.Equal(t, "8s", cfg.Cooldown().String())
	assert.Equal(t, "10m0s", cfg.AudioTTL().String())
	assert.Equal(t, "5m0s", cfg.SessionIdleTTL().String())
	assert.Equal(t, "1m0s", cfg.SessionSweepInterval().String())
	assert.Equal(t, "30s", cfg.ProviderTimeout().String())
}

func TestVoiceAndSpeedMapsDropUnknownKeys(t *testing.T) {
	t.Parallel()

	cfg := decodeSample(t)

	voices := cfg.Voices()
	assert.Len(t, voices, 2, "non-emotion keys are dropped")
	assert.Equal(t, "voice-happy", voices[core.EmotionHappy])
	assert.Equal(t, "voice-neutral", voices[core.EmotionNeutral])

	speeds := cfg.Speeds()
	assert.Len(t, speeds, 1)
	assert.InEpsilon(t, 1.2, speeds[core.EmotionHappy], 1e-9)
}

func TestExtraKeywords(t *testing.T) {
	t.Parallel()

	keywords := decodeSample(t).ExtraKeywords()

	assert.Equal(t, []string{"yay"}, keywords[core.EmotionHappy])
	assert.Empty(t, keywords[core.EmotionSad])
}

func TestIsSessionEnabledWhitelistMode(t *testing.T) {
	t.Parallel()

	// global_enable = false in the sample: only listed sessions are on.
	cfg := decodeSample(t)

	assert.True(t, cfg.IsSessionEnabled(core.GroupKey("1")))
	assert.False(t, cfg.IsSessionEnabled(core.GroupKey("2")))
	assert.False(t, cfg.IsSessionEnabled(core.UserKey("1")), "kinds do not cross over")
}

func TestIsSessionEnabledBlacklistMode(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.Routing.DisabledSessions = []string{"user_bad"}

	assert.False(t, cfg.IsSessionEnabled(core.UserKey("bad")))
	assert.True(t, cfg.IsSessionEnabled(core.UserKey("good")))
}
