// Package config loads process-wide settings from defaults, a .env file and
// the environment. Command-line flags are layered on top by cmd.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/normalize"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/transport"
)

// Config holds every tunable of the process.
type Config struct {
	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`

	ReferenceShoulderWidth float64 `validate:"gt=0"`
	ReferenceBodyHeight    float64 `validate:"gt=0"`
	// CanvasWidth and CanvasHeight pin the frame size; 0 takes it from the first frame.
	CanvasWidth   int  `validate:"gte=0"`
	CanvasHeight  int  `validate:"gte=0"`
	RawVisibility bool

	WorkerCommand string        `validate:"required"`
	WorkerTimeout time.Duration `validate:"gte=0"`

	ListenPort int `validate:"min=1,max=65535"`

	LogLevel    string `validate:"oneof=trace debug info warn warning error"`
	LogFile     string
	MetricsAddr string `validate:"omitempty,hostname_port"`
	DatabaseURL string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Host:                   transport.DefaultHost,
		Port:                   transport.DefaultPort,
		ReferenceShoulderWidth: normalize.DefaultReferenceShoulderWidth,
		ReferenceBodyHeight:    normalize.DefaultReferenceBodyHeight,
		WorkerCommand:          "python3 -u python/pose_worker.py",
		WorkerTimeout:          5 * time.Second,
		ListenPort:             transport.DefaultPort,
		LogLevel:               "info",
	}
}

// Load reads envFile (if it exists) into the environment and builds the
// config from defaults overridden by environment variables.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("BODYTRACK_HOST", &cfg.Host)
	num("BODYTRACK_PORT", &cfg.Port)
	float("BODYTRACK_SHOULDER_WIDTH", &cfg.ReferenceShoulderWidth)
	float("BODYTRACK_BODY_HEIGHT", &cfg.ReferenceBodyHeight)
	num("BODYTRACK_WIDTH", &cfg.CanvasWidth)
	num("BODYTRACK_HEIGHT", &cfg.CanvasHeight)
	str("BODYTRACK_WORKER_CMD", &cfg.WorkerCommand)
	num("BODYTRACK_LISTEN_PORT", &cfg.ListenPort)
	str("BODYTRACK_LOG_LEVEL", &cfg.LogLevel)
	str("BODYTRACK_LOG_FILE", &cfg.LogFile)
	str("BODYTRACK_METRICS_ADDR", &cfg.MetricsAddr)

	if v, ok := os.LookupEnv("BODYTRACK_RAW_VISIBILITY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BODYTRACK_RAW_VISIBILITY: %w", err))
		}
		cfg.RawVisibility = b
	}
	if v, ok := os.LookupEnv("BODYTRACK_WORKER_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BODYTRACK_WORKER_TIMEOUT: %w", err))
		}
		cfg.WorkerTimeout = d
	}

	cfg.DatabaseURL = databaseURLFromEnv()

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// databaseURLFromEnv prefers DATABASE_URL and otherwise builds a connection
// string from the POSTGRES_* variables. Empty when neither is set.
func databaseURLFromEnv() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", first.Field(), first.Tag(), first.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
