// Package config loads the trackscan service configuration: a JSON-with-
// comments file, then an optional .env file and process environment on top.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/banshee-data/trackscan/internal/speed"
)

// DefaultConfigPath is the canonical defaults file, relative to the repo
// root.
const DefaultConfigPath = "config/trackscan.defaults.jsonc"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ServiceConfig holds every tunable. Unset fields fall back to the defaults
// returned by the Get* methods, so partial files are fine.
type ServiceConfig struct {
	Listen             *string `json:"listen,omitempty"`
	DBPath             *string `json:"db_path,omitempty"`
	DecisionServiceURL *string `json:"decision_service_url,omitempty"`
	DecisionTimeout    *string `json:"decision_timeout,omitempty"` // duration string; empty means none

	MinSpeedKmh         *float64 `json:"min_speed_kmh,omitempty"`
	MaxSpeedKmh         *float64 `json:"max_speed_kmh,omitempty"`
	AnalysisSpeedKmh    *float64 `json:"analysis_speed_kmh,omitempty"`
	TampingSpeedKmh     *float64 `json:"tamping_speed_kmh,omitempty"`
	PointDistanceMeters *float64 `json:"point_distance_meters,omitempty"`

	SweepEnabled *bool    `json:"sweep_enabled,omitempty"`
	SweepStart   *float64 `json:"sweep_start,omitempty"`
	SweepStep    *float64 `json:"sweep_step,omitempty"`
	SweepLimit   *int     `json:"sweep_limit,omitempty"` // positions per run; 0 means until stopped
}

// Load reads a .json or .jsonc config file. Comments and trailing commas are
// stripped before decoding.
func Load(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" && ext != ".jsonc" {
		return nil, fmt.Errorf("config file must have .json or .jsonc extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ServiceConfig{}
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv. Empty values are ignored.
func (c *ServiceConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	for key, dst := range map[string]**string{
		"LISTEN":           &c.Listen,
		"DB_PATH":          &c.DBPath,
		"HALT_SERVICE_URL": &c.DecisionServiceURL,
		"DECISION_TIMEOUT": &c.DecisionTimeout,
	} {
		if v, ok := get(key); ok {
			*dst = &v
		}
	}

	for key, dst := range map[string]**float64{
		"MIN_SPEED_KMH":         &c.MinSpeedKmh,
		"MAX_SPEED_KMH":         &c.MaxSpeedKmh,
		"ANALYSIS_SPEED_KMH":    &c.AnalysisSpeedKmh,
		"TAMPING_SPEED_KMH":     &c.TampingSpeedKmh,
		"POINT_DISTANCE_METERS": &c.PointDistanceMeters,
	} {
		v, ok := get(key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", key, v)
		}
		*dst = &f
	}

	if v, ok := get("SWEEP_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SWEEP_ENABLED: %q is not a boolean", v)
		}
		c.SweepEnabled = &b
	}
	return nil
}

// Validate checks the fields that are set.
func (c *ServiceConfig) Validate() error {
	for name, v := range map[string]*float64{
		"min_speed_kmh":         c.MinSpeedKmh,
		"max_speed_kmh":         c.MaxSpeedKmh,
		"analysis_speed_kmh":    c.AnalysisSpeedKmh,
		"tamping_speed_kmh":     c.TampingSpeedKmh,
		"point_distance_meters": c.PointDistanceMeters,
		"sweep_start":           c.SweepStart,
		"sweep_step":            c.SweepStep,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be finite, got %v", name, *v)
		}
	}

	if c.GetMinSpeedKmh() <= 0 {
		return fmt.Errorf("min_speed_kmh must be positive, got %v", c.GetMinSpeedKmh())
	}
	if c.GetMaxSpeedKmh() < c.GetMinSpeedKmh() {
		return fmt.Errorf("max_speed_kmh %v is below min_speed_kmh %v", c.GetMaxSpeedKmh(), c.GetMinSpeedKmh())
	}
	if c.GetPointDistanceMeters() <= 0 {
		return fmt.Errorf("point_distance_meters must be positive, got %v", c.GetPointDistanceMeters())
	}
	if c.SweepStep != nil && *c.SweepStep <= 0 {
		return fmt.Errorf("sweep_step must be positive, got %v", *c.SweepStep)
	}
	if c.SweepLimit != nil && *c.SweepLimit < 0 {
		return fmt.Errorf("sweep_limit must be non-negative, got %d", *c.SweepLimit)
	}

	if c.DecisionTimeout != nil && *c.DecisionTimeout != "" {
		if _, err := time.ParseDuration(*c.DecisionTimeout); err != nil {
			return fmt.Errorf("invalid decision_timeout '%s': %w", *c.DecisionTimeout, err)
		}
	}

	u, err := url.Parse(c.GetDecisionServiceURL())
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("decision_service_url must be an absolute http(s) URL, got %q", c.GetDecisionServiceURL())
	}
	return nil
}

func (c *ServiceConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":4000"
	}
	return *c.Listen
}

func (c *ServiceConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "trackscan.db"
	}
	return *c.DBPath
}

func (c *ServiceConfig) GetDecisionServiceURL() string {
	if c.DecisionServiceURL == nil || strings.TrimSpace(*c.DecisionServiceURL) == "" {
		return "http://localhost:8000"
	}
	return strings.TrimSpace(*c.DecisionServiceURL)
}

// GetDecisionTimeout returns zero, meaning no client timeout, unless set.
func (c *ServiceConfig) GetDecisionTimeout() time.Duration {
	if c.DecisionTimeout == nil || *c.DecisionTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.DecisionTimeout)
	if err != nil {
		return 0
	}
	return d
}

func (c *ServiceConfig) GetMinSpeedKmh() float64 {
	if c.MinSpeedKmh == nil {
		return 0.5
	}
	return *c.MinSpeedKmh
}

func (c *ServiceConfig) GetMaxSpeedKmh() float64 {
	if c.MaxSpeedKmh == nil {
		return 6
	}
	return *c.MaxSpeedKmh
}

func (c *ServiceConfig) GetAnalysisSpeedKmh() float64 {
	if c.AnalysisSpeedKmh == nil {
		return 2
	}
	return *c.AnalysisSpeedKmh
}

// GetTampingSpeedKmh defaults to the analysis speed times speed.TampingRatio.
func (c *ServiceConfig) GetTampingSpeedKmh() float64 {
	if c.TampingSpeedKmh == nil {
		return c.GetAnalysisSpeedKmh() * speed.TampingRatio
	}
	return *c.TampingSpeedKmh
}

func (c *ServiceConfig) GetPointDistanceMeters() float64 {
	if c.PointDistanceMeters == nil {
		return 0.6
	}
	return *c.PointDistanceMeters
}

func (c *ServiceConfig) GetSweepEnabled() bool {
	return c.SweepEnabled != nil && *c.SweepEnabled
}

func (c *ServiceConfig) GetSweepStart() float64 {
	if c.SweepStart == nil {
		return 0.1
	}
	return *c.SweepStart
}

func (c *ServiceConfig) GetSweepStep() float64 {
	if c.SweepStep == nil {
		return 0.1
	}
	return *c.SweepStep
}

func (c *ServiceConfig) GetSweepLimit() int {
	if c.SweepLimit == nil {
		return 0
	}
	return *c.SweepLimit
}

// SpeedLimits builds the speed controller bounds.
func (c *ServiceConfig) SpeedLimits() speed.Limits {
	return speed.Limits{
		MinKmh:        c.GetMinSpeedKmh(),
		MaxKmh:        c.GetMaxSpeedKmh(),
		SegmentMeters: c.GetPointDistanceMeters(),
	}
}
