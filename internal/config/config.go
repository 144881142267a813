package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names a config file when --config is not given.
const EnvConfigPath = "BOARDCAM_CONFIG"

// xdgConfigName is looked up under the XDG config directories last.
const xdgConfigName = "boardcam/config.yaml"

type AppConfig struct {
	Camera  Camera  `yaml:"camera"`
	Vision  Vision  `yaml:"vision"`
	Game    Game    `yaml:"game"`
	Engine  Engine  `yaml:"engine"`
	Serial  Serial  `yaml:"serial"`
	Storage Storage `yaml:"storage"`

	// Source is the file the config was read from, empty for defaults only.
	Source string `yaml:"-"`
}

type Camera struct {
	URL           string `yaml:"url"`
	DisplayWidth  int    `yaml:"display_width"`
	DisplayHeight int    `yaml:"display_height"`
}

// Vision holds the calibration and classification parameters. HSV values
// use OpenCV's 8-bit scale.
type Vision struct {
	BoardPx      int        `yaml:"board_px"`
	StableFrames int        `yaml:"stable_frames"`
	DarkRatio    float64    `yaml:"dark_ratio"`
	LightRatio   float64    `yaml:"light_ratio"`
	DarkLower    [3]float64 `yaml:"dark_lower"`
	DarkUpper    [3]float64 `yaml:"dark_upper"`
	LightLower   [3]float64 `yaml:"light_lower"`
	LightUpper   [3]float64 `yaml:"light_upper"`
	Corners      [][2]int   `yaml:"corners,omitempty"`
	Headless     bool       `yaml:"headless"`
}

type Game struct {
	// Difficulty 0 means ask on stdin at startup.
	Difficulty      int   `yaml:"difficulty"`
	RandomThreshold int   `yaml:"random_threshold"`
	Seed            int64 `yaml:"seed"`
}

type Engine struct {
	Path    string `yaml:"path"`
	Threads int    `yaml:"threads"`
	HashMB  int    `yaml:"hash_mb"`
}

type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type Storage struct {
	RedisURL    string        `yaml:"redis_url"`
	DatabaseURL string        `yaml:"database_url"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	SnapshotDir string        `yaml:"snapshot_dir"`
}

func Default() *AppConfig {
	return &AppConfig{
		Camera: Camera{
			URL:           "http://192.168.250.111:8080/video",
			DisplayWidth:  720,
			DisplayHeight: 480,
		},
		Vision: Vision{
			BoardPx:      480,
			StableFrames: 10,
			DarkRatio:    0.10,
			LightRatio:   0.15,
			DarkLower:    [3]float64{0, 0, 0},
			DarkUpper:    [3]float64{180, 255, 60},
			LightLower:   [3]float64{0, 0, 180},
			LightUpper:   [3]float64{180, 50, 255},
		},
		Game: Game{
			RandomThreshold: 10,
		},
		Engine: Engine{
			Path:    "stockfish",
			Threads: 1,
			HashMB:  16,
		},
		Serial: Serial{
			Baud: 9600,
		},
		Storage: Storage{
			SnapshotTTL: 24 * time.Hour,
		},
	}
}

// Load applies, in order: defaults, the YAML file, environment overrides.
// An explicit path must exist; the env and XDG locations are optional.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	file, required := resolvePath(path)
	if file != "" {
		raw, err := os.ReadFile(file)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", file, err)
			}
			cfg.Source = file
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolvePath(path string) (string, bool) {
	if p := strings.TrimSpace(path); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, true
	}
	if p, err := xdg.SearchConfigFile(xdgConfigName); err == nil {
		return p, false
	}
	return "", false
}

func applyEnv(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("CAMERA_URL")); v != "" {
		cfg.Camera.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("STOCKFISH_PATH")); v != "" {
		cfg.Engine.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("SERIAL_PORT")); v != "" {
		cfg.Serial.Port = v
	}
	if v := strings.TrimSpace(os.Getenv("SERIAL_BAUD")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Serial.Baud = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DIFFICULTY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Game.Difficulty = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_DIR")); v != "" {
		cfg.Storage.SnapshotDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Storage.SnapshotTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("HEADLESS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Vision.Headless = b
		}
	}
}

func (c *AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Camera.URL) == "" {
		errs = append(errs, errors.New("camera.url is required"))
	}
	if c.Camera.DisplayWidth <= 0 || c.Camera.DisplayHeight <= 0 {
		errs = append(errs, fmt.Errorf("camera display size must be positive: %dx%d", c.Camera.DisplayWidth, c.Camera.DisplayHeight))
	}
	if c.Vision.BoardPx < 8 {
		errs = append(errs, fmt.Errorf("vision.board_px must be at least 8: %d", c.Vision.BoardPx))
	}
	if c.Vision.StableFrames <= 0 {
		errs = append(errs, fmt.Errorf("vision.stable_frames must be > 0: %d", c.Vision.StableFrames))
	}
	if c.Vision.DarkRatio < 0 || c.Vision.DarkRatio >= 1 || c.Vision.LightRatio < 0 || c.Vision.LightRatio >= 1 {
		errs = append(errs, fmt.Errorf("vision ratios must be in [0,1): dark=%v light=%v", c.Vision.DarkRatio, c.Vision.LightRatio))
	}
	if n := len(c.Vision.Corners); n != 0 && n != 4 {
		errs = append(errs, fmt.Errorf("vision.corners needs 4 points, got %d", n))
	}
	if c.Game.Difficulty != 0 && (c.Game.Difficulty < 1 || c.Game.Difficulty > 100) {
		errs = append(errs, fmt.Errorf("game.difficulty must be 1-100: %d", c.Game.Difficulty))
	}
	if c.Game.RandomThreshold < 0 {
		errs = append(errs, fmt.Errorf("game.random_threshold must be >= 0: %d", c.Game.RandomThreshold))
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be > 0: %d", c.Serial.Baud))
	}
	return errors.Join(errs...)
}

// CornerPoints returns the configured calibration corners, nil if unset.
func (v Vision) CornerPoints() []image.Point {
	if len(v.Corners) == 0 {
		return nil
	}
	out := make([]image.Point, len(v.Corners))
	for i, c := range v.Corners {
		out[i] = image.Pt(c[0], c[1])
	}
	return out
}

// CornersSnippet renders points as a config fragment for vision.corners.
func CornersSnippet(points []image.Point) ([]byte, error) {
	corners := make([][2]int, len(points))
	for i, p := range points {
		corners[i] = [2]int{p.X, p.Y}
	}
	type visionCorners struct {
		Corners [][2]int `yaml:"corners,flow"`
	}
	return yaml.Marshal(map[string]visionCorners{"vision": {Corners: corners}})
}
