package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind         string        `yaml:"bind"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxUploadMB  int           `yaml:"max_upload_mb"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Model       ModelConfig     `yaml:"model"`
	Audio       AudioConfig     `yaml:"audio"`
	STT         STTConfig       `yaml:"stt"`
	Bus         BusConfig       `yaml:"bus"`
}

type ModelConfig struct {
	Path string `yaml:"path"`
}

type AudioConfig struct {
	TempDir           string   `yaml:"temp_dir"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// STTConfig lists transcription backends in priority order.
type STTConfig struct {
	Backends      []string            `yaml:"backends"`
	FasterWhisper FasterWhisperConfig `yaml:"faster_whisper"`
	Sphinx        SphinxConfig        `yaml:"sphinx"`
	Remote        RemoteConfig        `yaml:"remote"`
	Mock          MockConfig          `yaml:"mock"`
}

type FasterWhisperConfig struct {
	Command  string `yaml:"command"`
	Model    string `yaml:"model"`
	Device   string `yaml:"device"`
	BeamSize int    `yaml:"beam_size"`
}

type SphinxConfig struct {
	Command string `yaml:"command"`
}

type RemoteConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

type MockConfig struct {
	Text string `yaml:"text"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Subject        string   `yaml:"subject"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// Backend names accepted in stt.backends.
const (
	BackendFasterWhisper = "faster-whisper"
	BackendSphinx        = "sphinx"
	BackendRemote        = "remote"
	BackendMock          = "mock"
)

func Default() Config {
	return Config{
		ServiceName: "spamguard",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Minute,
			MaxUploadMB:  25,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Model: ModelConfig{
			Path: "./model/spam_model.bin",
		},
		Audio: AudioConfig{
			TempDir:           "",
			AllowedExtensions: []string{".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"},
		},
		STT: STTConfig{
			Backends: []string{BackendFasterWhisper, BackendSphinx},
			FasterWhisper: FasterWhisperConfig{
				Command:  "python3",
				Model:    "base",
				Device:   "cpu",
				BeamSize: 5,
			},
			Sphinx: SphinxConfig{
				Command: "pocketsphinx",
			},
			Remote: RemoteConfig{
				Model:      "whisper-1",
				Timeout:    2 * time.Minute,
				MaxElapsed: 30 * time.Second,
			},
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			Subject:        "spamguard.classified",
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// MaxUploadBytes is the request body ceiling for uploads.
func (c HTTPConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "SPAMGUARD_SERVICE_NAME")
	overrideString(&cfg.Environment, "SPAMGUARD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SPAMGUARD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideInt(&cfg.HTTP.Port, "SPAMGUARD_HTTP_PORT")
	overrideDuration(&cfg.HTTP.ReadTimeout, "SPAMGUARD_HTTP_READ_TIMEOUT")
	overrideDuration(&cfg.HTTP.WriteTimeout, "SPAMGUARD_HTTP_WRITE_TIMEOUT")
	overrideInt(&cfg.HTTP.MaxUploadMB, "SPAMGUARD_HTTP_MAX_UPLOAD_MB")
	overrideString(&cfg.Telemetry.LogLevel, "SPAMGUARD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SPAMGUARD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SPAMGUARD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Model.Path, "SPAMGUARD_MODEL_PATH")
	overrideString(&cfg.Audio.TempDir, "SPAMGUARD_AUDIO_TEMP_DIR")
	overrideStringSlice(&cfg.Audio.AllowedExtensions, "SPAMGUARD_AUDIO_ALLOWED_EXTENSIONS")
	overrideStringSlice(&cfg.STT.Backends, "SPAMGUARD_STT_BACKENDS")
	overrideString(&cfg.STT.FasterWhisper.Command, "SPAMGUARD_STT_FASTER_WHISPER_COMMAND")
	overrideString(&cfg.STT.FasterWhisper.Model, "SPAMGUARD_STT_FASTER_WHISPER_MODEL")
	overrideString(&cfg.STT.FasterWhisper.Device, "SPAMGUARD_STT_FASTER_WHISPER_DEVICE")
	overrideInt(&cfg.STT.FasterWhisper.BeamSize, "SPAMGUARD_STT_FASTER_WHISPER_BEAM_SIZE")
	overrideString(&cfg.STT.Sphinx.Command, "SPAMGUARD_STT_SPHINX_COMMAND")
	overrideString(&cfg.STT.Remote.Endpoint, "SPAMGUARD_STT_REMOTE_ENDPOINT")
	overrideString(&cfg.STT.Remote.APIKey, "SPAMGUARD_STT_REMOTE_API_KEY")
	overrideString(&cfg.STT.Remote.Model, "SPAMGUARD_STT_REMOTE_MODEL")
	overrideDuration(&cfg.STT.Remote.Timeout, "SPAMGUARD_STT_REMOTE_TIMEOUT")
	overrideDuration(&cfg.STT.Remote.MaxElapsed, "SPAMGUARD_STT_REMOTE_MAX_ELAPSED")
	overrideString(&cfg.STT.Mock.Text, "SPAMGUARD_STT_MOCK_TEXT")
	overrideBool(&cfg.Bus.Enabled, "SPAMGUARD_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SPAMGUARD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SPAMGUARD_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SPAMGUARD_BUS_SERVERS")
	overrideString(&cfg.Bus.Subject, "SPAMGUARD_BUS_SUBJECT")
	overrideString(&cfg.Bus.Username, "SPAMGUARD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SPAMGUARD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SPAMGUARD_BUS_TOKEN")
	overrideInt(&cfg.Bus.ConnectTimeout, "SPAMGUARD_BUS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// normalize lowercases extensions and makes sure each carries a leading dot.
func normalize(cfg *Config) {
	exts := make([]string, 0, len(cfg.Audio.AllowedExtensions))
	for _, ext := range cfg.Audio.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	cfg.Audio.AllowedExtensions = exts

	for i, name := range cfg.STT.Backends {
		cfg.STT.Backends[i] = strings.ToLower(strings.TrimSpace(name))
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		return errors.New("http.max_upload_mb must be positive")
	}
	if cfg.Model.Path == "" {
		return errors.New("model.path must not be empty")
	}
	if len(cfg.Audio.AllowedExtensions) == 0 {
		return errors.New("audio.allowed_extensions must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.STT.Backends))
	for _, name := range cfg.STT.Backends {
		switch name {
		case BackendFasterWhisper:
			if cfg.STT.FasterWhisper.Command == "" {
				return errors.New("stt.faster_whisper.command must be set when faster-whisper is enabled")
			}
			if cfg.STT.FasterWhisper.BeamSize <= 0 {
				return errors.New("stt.faster_whisper.beam_size must be positive")
			}
		case BackendSphinx:
			if cfg.STT.Sphinx.Command == "" {
				return errors.New("stt.sphinx.command must be set when sphinx is enabled")
			}
		case BackendRemote:
			if cfg.STT.Remote.Endpoint == "" {
				return errors.New("stt.remote.endpoint must be set when remote is enabled")
			}
			if cfg.STT.Remote.Timeout <= 0 {
				return errors.New("stt.remote.timeout must be positive")
			}
			if cfg.STT.Remote.MaxElapsed <= 0 {
				return errors.New("stt.remote.max_elapsed must be positive")
			}
		case BackendMock:
		default:
			return fmt.Errorf("stt.backends: unknown backend %q (supported: faster-whisper|sphinx|remote|mock)", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("stt.backends: backend %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Subject == "" {
			return errors.New("bus.subject must not be empty when the bus is enabled")
		}
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
