// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	apperrors "github.com/kimhsiao/capturegallery/internal/errors"
)

// EnvPrefix is the prefix of every variable read by Load.
const EnvPrefix = "CAPTURE"

// Config holds every tunable of the ingestion core and its hosts.
type Config struct {
	App     AppConfig
	Source  SourceConfig
	Capture CaptureConfig
	Fetch   FetchConfig
	Desktop DesktopConfig
}

// AppConfig covers process-wide settings.
type AppConfig struct {
	LogLevel       string `envconfig:"CAPTURE_LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	MetricsEnabled bool   `envconfig:"CAPTURE_METRICS_ENABLED" default:"true"`
}

// SourceConfig drives source classification and embedded-data synthesis.
type SourceConfig struct {
	PhotoMIMEType string `envconfig:"CAPTURE_PHOTO_MIME_TYPE" default:"image/jpeg" validate:"required,startswith=image/"`
	VideoMIMEType string `envconfig:"CAPTURE_VIDEO_MIME_TYPE" default:"video/mp4" validate:"required,startswith=video/"`
	// Absolute path prefixes treated as device storage. "/" alone is
	// rejected because raw JPEG base64 begins with "/9j/".
	PathPrefixes []string `envconfig:"CAPTURE_PATH_PREFIXES" default:"/data/,/storage/,/var/mobile/,/private/var/mobile/" validate:"min=1,dive,startswith=/,min=2"`
}

// CaptureConfig locates captured files.
type CaptureConfig struct {
	Dir           string `envconfig:"CAPTURE_DIR" default:"./data/captures" validate:"required"`
	StreamBaseURL string `envconfig:"CAPTURE_STREAM_BASE_URL" default:"http://localhost:8090/captures" validate:"omitempty,url"`
	Watch         bool   `envconfig:"CAPTURE_WATCH" default:"false"`
	// Extra absolute directories file references may point into. Dir is
	// always allowed; everything else on disk is refused.
	AllowedRoots []string `envconfig:"CAPTURE_ALLOWED_ROOTS" validate:"dive,startswith=/,min=2"`
}

// FetchConfig bounds metadata buffer acquisition.
type FetchConfig struct {
	Timeout      time.Duration `envconfig:"CAPTURE_FETCH_TIMEOUT" default:"30s" validate:"gt=0"`
	MaxBytes     int64         `envconfig:"CAPTURE_MAX_FETCH_BYTES" default:"67108864" validate:"gt=0"`
	DecodePixels bool          `envconfig:"CAPTURE_DECODE_PIXELS" default:"false"`
	// Largest declared width*height decoded to pixels (thumbnails, DecodePixels)
	MaxPixels int64 `envconfig:"CAPTURE_MAX_PIXELS" default:"64000000" validate:"gt=0"`
}

// DesktopConfig configures the desktop shell.
type DesktopConfig struct {
	Addr string `envconfig:"CAPTURE_DESKTOP_ADDR" default:"localhost:8090" validate:"required,hostname_port"`
}

// Load reads an optional .env file, then the environment, then validates.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "loading env file", err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "parsing config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied, ignoring the environment.
func Default() *Config {
	return &Config{
		App: AppConfig{LogLevel: "info", MetricsEnabled: true},
		Source: SourceConfig{
			PhotoMIMEType: "image/jpeg",
			VideoMIMEType: "video/mp4",
			PathPrefixes:  []string{"/data/", "/storage/", "/var/mobile/", "/private/var/mobile/"},
		},
		Capture: CaptureConfig{
			Dir:           "./data/captures",
			StreamBaseURL: "http://localhost:8090/captures",
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			MaxBytes:  64 << 20,
			MaxPixels: 64000000,
		},
		Desktop: DesktopConfig{Addr: "localhost:8090"},
	}
}

var validate = validator.New()

// Validate checks the struct tags and returns a CONFIG_INVALID error listing every failure.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "validating config", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return apperrors.New(apperrors.ErrConfigInvalid, strings.Join(msgs, "; "))
}
