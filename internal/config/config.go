package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/facematch"
	"github.com/kozaktomas/attendance-kiosk/internal/liveness"
)

//go:embed liveness.yaml
var livenessYAML []byte

type Config struct {
	Kiosk     KioskConfig
	Detector  DetectorConfig
	Embedding EmbeddingConfig
	Database  DatabaseConfig
	Web       WebConfig
	Log       LogConfig
	Liveness  liveness.Params
}

type KioskConfig struct {
	DeviceID        string
	OrgID           string
	BranchID        string
	MatchThreshold  float64       // accepted range [0.30, 0.80], default 0.55
	DuplicateWindow time.Duration // default 120s
	LivenessTimeout time.Duration // bound on one liveness attempt
	FrameInterval   time.Duration // target cadence of the capture loop
	CaptureThrottle time.Duration // minimum gap between two capture starts
	Cooldown        time.Duration // time before the kiosk returns to ready
	MinFaceSize     float64       // minimum face side in pixels
	MaxFrameSize    int           // frames are downscaled to this longest side before detection
	Timezone        string        // IANA name for the attendance calendar day (default Local)
	APIToken        string        // optional bearer token for the HTTP API
}

// Location resolves Timezone, falling back to time.Local when empty.
func (c *KioskConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid KIOSK_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Scope returns the identity scope served by this device.
func (c *KioskConfig) Scope() database.Scope {
	return database.Scope{OrgID: c.OrgID, BranchID: c.BranchID}
}

type DetectorConfig struct {
	URL string // defaults to http://localhost:8000
}

type EmbeddingConfig struct {
	URL   string // defaults to http://localhost:8000
	Dim   int    // defaults to 128
	Model string // model name stored with enrolled embeddings
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 10)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist reference HNSW index (optional, if empty index is rebuilt on startup)
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type LogConfig struct {
	Level string // logrus level name, default info
	File  string // optional log file, written in addition to stdout
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float64.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envMillis reads a positive millisecond count as a duration.
func envMillis(key string, defaultVal time.Duration) time.Duration {
	return time.Duration(envInt(key, int(defaultVal/time.Millisecond))) * time.Millisecond
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadLivenessParams decodes the embedded defaults and applies the optional override file.
func LoadLivenessParams(overridePath string) (liveness.Params, error) {
	var params liveness.Params
	if err := yaml.Unmarshal(livenessYAML, &params); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded liveness.yaml: " + err.Error())
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath) //nolint:gosec // path is from trusted config
		if err != nil {
			return params, fmt.Errorf("reading liveness config: %w", err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return params, fmt.Errorf("parsing liveness config %s: %w", overridePath, err)
		}
	}

	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("invalid liveness config: %w", err)
	}
	return params, nil
}

func Load() (*Config, error) {
	params, err := LoadLivenessParams(os.Getenv("LIVENESS_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Kiosk: KioskConfig{
			DeviceID:        envString("KIOSK_DEVICE_ID", hostname()),
			OrgID:           os.Getenv("KIOSK_ORG_ID"),
			BranchID:        os.Getenv("KIOSK_BRANCH_ID"),
			MatchThreshold:  envFloat("KIOSK_MATCH_THRESHOLD", facematch.DefaultThreshold),
			DuplicateWindow: time.Duration(envInt("KIOSK_DUPLICATE_WINDOW_SECONDS", 120)) * time.Second,
			LivenessTimeout: envMillis("KIOSK_LIVENESS_TIMEOUT_MS", 8*time.Second),
			FrameInterval:   envMillis("KIOSK_FRAME_INTERVAL_MS", 110*time.Millisecond),
			CaptureThrottle: envMillis("KIOSK_CAPTURE_THROTTLE_MS", 1500*time.Millisecond),
			Cooldown:        envMillis("KIOSK_COOLDOWN_MS", 3*time.Second),
			MinFaceSize:     envFloat("KIOSK_MIN_FACE_SIZE", 80),
			MaxFrameSize:    envInt("KIOSK_MAX_FRAME_SIZE", 1280),
			Timezone:        os.Getenv("KIOSK_TIMEZONE"),
			APIToken:        os.Getenv("KIOSK_API_TOKEN"),
		},
		Detector: DetectorConfig{
			URL: envString("DETECTOR_URL", "http://localhost:8000"),
		},
		Embedding: EmbeddingConfig{
			URL:   envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:   envInt("EMBEDDING_DIM", 128),
			Model: envString("EMBEDDING_MODEL", "facenet-128"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		Liveness: params,
	}

	if err := facematch.ValidateThreshold(cfg.Kiosk.MatchThreshold); err != nil {
		return nil, fmt.Errorf("KIOSK_MATCH_THRESHOLD: %w", err)
	}
	if _, err := cfg.Kiosk.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "kiosk"
	}
	return name
}
