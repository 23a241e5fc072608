package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sjawhar/ghost-scribe/internal/audio"
	"github.com/sjawhar/ghost-scribe/internal/llm"
	"github.com/sjawhar/ghost-scribe/internal/summary"
)

// EnvPrefix is the namespace prefix for all Ghost Scribe environment variables.
const EnvPrefix = "GHOST_SCRIBE_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	RecordingsDir  string `yaml:"recordings_dir"`
	TranscriptsDir string `yaml:"transcripts_dir"`
	DBPath         string `yaml:"db_path"`
	HTTPAddr       string `yaml:"http_addr"`
	LogLevel       string `yaml:"log_level"`
	Timezone       string `yaml:"timezone"`

	Session       SessionConfig       `yaml:"session"`
	Audio         AudioConfig         `yaml:"audio"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Aggregation   AggregationConfig   `yaml:"aggregation"`
	Summarization SummarizationConfig `yaml:"summarization"`
	GDrive        GDriveConfig        `yaml:"gdrive"`

	// Secrets, env vars only.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
}

type SessionConfig struct {
	NameMaxLength     int    `yaml:"name_max_length"`
	InactivityTimeout string `yaml:"inactivity_timeout"`
	StopTimeout       string `yaml:"stop_timeout"`
}

type AudioConfig struct {
	Quality string `yaml:"quality"`
	// SampleRate and Channels override the quality preset when set.
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	// LocalMic captures the host microphone as a speaker.
	LocalMic      bool   `yaml:"local_mic"`
	LocalMicLabel string `yaml:"local_mic_label"`
}

type CaptureConfig struct {
	SampleInterval string `yaml:"sample_interval"`
	DriftTolerance string `yaml:"drift_tolerance"`
	FlushInterval  string `yaml:"flush_interval"`
	FlushBatchSize int    `yaml:"flush_batch_size"`
	BufferBytes    int    `yaml:"buffer_bytes"`
	WriteTimeout   string `yaml:"write_timeout"`
}

type TranscriptionConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	MaxInFlight int    `yaml:"max_in_flight"`
}

type AggregationConfig struct {
	CoalesceGap string `yaml:"coalesce_gap"`
}

type SummarizationConfig struct {
	Model             string  `yaml:"model"`
	Unit              string  `yaml:"unit"`
	MaxUnitsPerChunk  int     `yaml:"max_units_per_chunk"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	MaxRetries        int     `yaml:"max_retries"`
	BaseDelay         string  `yaml:"base_delay"`
	MaxDelay          string  `yaml:"max_delay"`
	MaxReduceRounds   int     `yaml:"max_reduce_rounds"`
	MapPrompt         string  `yaml:"map_prompt"`
	ReducePrompt      string  `yaml:"reduce_prompt"`
	// MaxOutputTokens caps each completion. Zero keeps the provider default.
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	RequestTimeout  string `yaml:"request_timeout"`
}

type GDriveConfig struct {
	FolderID        string `yaml:"folder_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

func defaults() Config {
	return Config{
		RecordingsDir:  "data/recordings",
		TranscriptsDir: "data/transcripts",
		DBPath:         "data/ghost-scribe.db",
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		Session: SessionConfig{
			NameMaxLength:     50,
			InactivityTimeout: "60m",
			StopTimeout:       "5s",
		},
		Audio: AudioConfig{
			Quality:       audio.QualityMedium,
			FFmpegPath:    "ffmpeg",
			LocalMicLabel: "host",
		},
		Capture: CaptureConfig{
			SampleInterval: "1s",
			DriftTolerance: "100ms",
			FlushInterval:  "5m",
			FlushBatchSize: 1000,
			BufferBytes:    4 << 20,
			WriteTimeout:   "250ms",
		},
		Transcription: TranscriptionConfig{
			Provider:    "openai",
			Model:       "whisper-1",
			MaxInFlight: 2,
		},
		Aggregation: AggregationConfig{
			CoalesceGap: "500ms",
		},
		Summarization: SummarizationConfig{
			Model:             "openai/gpt-4o-mini",
			Unit:              "words",
			MaxUnitsPerChunk:  summary.DefaultMaxUnitsPerChunk,
			RequestsPerSecond: summary.DefaultRequestsPerSecond,
			MaxConcurrent:     summary.DefaultMaxConcurrent,
			MaxRetries:        3,
			BaseDelay:         "1s",
			MaxDelay:          "30s",
			MaxReduceRounds:   summary.DefaultMaxReduceRounds,
			RequestTimeout:    "2m",
		},
		GDrive: GDriveConfig{
			CredentialsFile: "./service-account.json",
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) ParsedInactivityTimeout() time.Duration {
	return parseDuration(c.Session.InactivityTimeout, 60*time.Minute)
}

func (c *Config) ParsedStopTimeout() time.Duration {
	return parseDuration(c.Session.StopTimeout, 5*time.Second)
}

func (c *Config) ParsedSampleInterval() time.Duration {
	return parseDuration(c.Capture.SampleInterval, time.Second)
}

func (c *Config) ParsedDriftTolerance() time.Duration {
	return parseDuration(c.Capture.DriftTolerance, 100*time.Millisecond)
}

func (c *Config) ParsedFlushInterval() time.Duration {
	return parseDuration(c.Capture.FlushInterval, 5*time.Minute)
}

func (c *Config) ParsedWriteTimeout() time.Duration {
	return parseDuration(c.Capture.WriteTimeout, 250*time.Millisecond)
}

func (c *Config) ParsedCoalesceGap() time.Duration {
	return parseDuration(c.Aggregation.CoalesceGap, 500*time.Millisecond)
}

func (c *Config) ParsedBaseDelay() time.Duration {
	return parseDuration(c.Summarization.BaseDelay, time.Second)
}

func (c *Config) ParsedMaxDelay() time.Duration {
	return parseDuration(c.Summarization.MaxDelay, 30*time.Second)
}

func (c *Config) ParsedRequestTimeout() time.Duration {
	return parseDuration(c.Summarization.RequestTimeout, 2*time.Minute)
}

// AudioFormat resolves the capture format: the quality preset, with
// sample_rate and channels taking precedence.
func (c *Config) AudioFormat() audio.Format {
	f, err := audio.QualityFormat(c.Audio.Quality)
	if err != nil {
		f, _ = audio.QualityFormat(audio.QualityMedium)
	}
	if c.Audio.SampleRate > 0 {
		f.SampleRate = c.Audio.SampleRate
	}
	if c.Audio.Channels > 0 {
		f.Channels = c.Audio.Channels
	}
	return f
}

// SummaryUnit falls back to words for unknown values.
func (c *Config) SummaryUnit() summary.Unit {
	u, err := summary.ParseUnit(c.Summarization.Unit)
	if err != nil {
		return summary.UnitWords
	}
	return u
}

// Location is the zone transcripts are rendered in. Empty or unknown
// timezones mean local time.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c *Config) LLMKeys() llm.Keys {
	return llm.Keys{
		OpenAI:    c.OpenAIAPIKey,
		Anthropic: c.AnthropicAPIKey,
		Gemini:    c.GeminiAPIKey,
	}
}

// TranscriptionAPIKey is the key for the configured transcription provider.
func (c *Config) TranscriptionAPIKey() string {
	if strings.EqualFold(c.Transcription.Provider, "deepgram") {
		return c.DeepgramAPIKey
	}
	return c.OpenAIAPIKey
}

func setString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			*dst = n
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	setString("RECORDINGS_DIR", &cfg.RecordingsDir)
	setString("TRANSCRIPTS_DIR", &cfg.TranscriptsDir)
	setString("DB_PATH", &cfg.DBPath)
	setString("HTTP_ADDR", &cfg.HTTPAddr)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("TIMEZONE", &cfg.Timezone)

	setInt("SESSION_NAME_MAX_LENGTH", &cfg.Session.NameMaxLength)
	setString("SESSION_INACTIVITY_TIMEOUT", &cfg.Session.InactivityTimeout)
	setString("SESSION_STOP_TIMEOUT", &cfg.Session.StopTimeout)

	setString("AUDIO_QUALITY", &cfg.Audio.Quality)
	setInt("AUDIO_SAMPLE_RATE", &cfg.Audio.SampleRate)
	setInt("AUDIO_CHANNELS", &cfg.Audio.Channels)
	setString("FFMPEG_PATH", &cfg.Audio.FFmpegPath)
	if v := os.Getenv(EnvPrefix + "LOCAL_MIC"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Audio.LocalMic = b
		}
	}

	setString("TRANSCRIPTION_PROVIDER", &cfg.Transcription.Provider)
	setString("TRANSCRIPTION_MODEL", &cfg.Transcription.Model)
	setString("TRANSCRIPTION_LANGUAGE", &cfg.Transcription.Language)
	setInt("TRANSCRIPTION_MAX_IN_FLIGHT", &cfg.Transcription.MaxInFlight)

	setString("COALESCE_GAP", &cfg.Aggregation.CoalesceGap)

	setString("SUMMARIZATION_MODEL", &cfg.Summarization.Model)
	setString("SUMMARIZATION_UNIT", &cfg.Summarization.Unit)
	setInt("SUMMARIZATION_MAX_UNITS_PER_CHUNK", &cfg.Summarization.MaxUnitsPerChunk)

	setString("GDRIVE_FOLDER_ID", &cfg.GDrive.FolderID)
	setString("GOOGLE_CREDENTIALS_FILE", &cfg.GDrive.CredentialsFile)
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	durations := []struct {
		name, value, fallback string
	}{
		{"session.inactivity_timeout", cfg.Session.InactivityTimeout, "60m"},
		{"session.stop_timeout", cfg.Session.StopTimeout, "5s"},
		{"capture.sample_interval", cfg.Capture.SampleInterval, "1s"},
		{"capture.drift_tolerance", cfg.Capture.DriftTolerance, "100ms"},
		{"capture.flush_interval", cfg.Capture.FlushInterval, "5m"},
		{"capture.write_timeout", cfg.Capture.WriteTimeout, "250ms"},
		{"aggregation.coalesce_gap", cfg.Aggregation.CoalesceGap, "500ms"},
		{"summarization.base_delay", cfg.Summarization.BaseDelay, "1s"},
		{"summarization.max_delay", cfg.Summarization.MaxDelay, "30s"},
		{"summarization.request_timeout", cfg.Summarization.RequestTimeout, "2m"},
	}
	for _, d := range durations {
		if v, err := time.ParseDuration(strings.TrimSpace(d.value)); err != nil || v <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q: using default %s.", d.name, d.value, d.fallback))
		}
	}

	if _, err := audio.QualityFormat(cfg.Audio.Quality); err != nil {
		warnings = append(warnings, fmt.Sprintf("Unknown audio.quality %q: using medium.", cfg.Audio.Quality))
	}
	if _, err := summary.ParseUnit(cfg.Summarization.Unit); err != nil {
		warnings = append(warnings, fmt.Sprintf("Unknown summarization.unit %q: using words.", cfg.Summarization.Unit))
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			warnings = append(warnings, fmt.Sprintf("Unknown timezone %q: using local time.", cfg.Timezone))
		}
	}

	switch strings.ToLower(cfg.Transcription.Provider) {
	case "openai", "deepgram":
		if cfg.TranscriptionAPIKey() == "" {
			warnings = append(warnings, fmt.Sprintf(
				"%s API key not configured: every speaker will be excluded from transcripts. Set %s%s_API_KEY.",
				cfg.Transcription.Provider, EnvPrefix, strings.ToUpper(cfg.Transcription.Provider)))
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown transcription.provider %q: expected openai or deepgram.", cfg.Transcription.Provider))
	}

	if provider, _, err := llm.ParseModel(cfg.Summarization.Model); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid summarization.model %q: session summaries are disabled.", cfg.Summarization.Model))
	} else if cfg.LLMKeys().For(provider) == "" {
		warnings = append(warnings, fmt.Sprintf(
			"%s API key not configured: session summaries are disabled. Set %s%s_API_KEY.",
			provider, EnvPrefix, strings.ToUpper(provider)))
	}

	if cfg.Summarization.MaxOutputTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid summarization.max_output_tokens %d: using the provider default.", cfg.Summarization.MaxOutputTokens))
		cfg.Summarization.MaxOutputTokens = 0
	}

	if cfg.GDrive.FolderID != "" && cfg.GDrive.CredentialsFile == "" {
		warnings = append(warnings, "gdrive.folder_id is set without gdrive.credentials_file: Drive sync is disabled.")
	}

	return warnings
}
