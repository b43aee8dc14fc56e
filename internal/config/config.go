package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appdefaults "github.com/saker-ai/screen-watcher/config"
	"github.com/saker-ai/screen-watcher/internal/logger"
)

// CaptureConfig represents a captureConfig.
type CaptureConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	Display    string `mapstructure:"display" yaml:"display"`
	Width      uint32 `mapstructure:"width" yaml:"width"`
	Height     uint32 `mapstructure:"height" yaml:"height"`
	FrameRate  int    `mapstructure:"frame_rate" yaml:"frame_rate"`
}

// Config represents a config.
type Config struct {
	RootDir                 string        `mapstructure:"-" yaml:"-"`
	Endpoint                string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey                  string        `mapstructure:"api_key" yaml:"api_key"`
	AccessToken             string        `mapstructure:"access_token" yaml:"access_token"`
	Model                   string        `mapstructure:"model" yaml:"model"`
	Prompt                  string        `mapstructure:"prompt" yaml:"prompt"`
	SystemInstruction       string        `mapstructure:"system_instruction" yaml:"system_instruction"`
	MaxFrames               int           `mapstructure:"max_frames" yaml:"max_frames"`
	JPEGQuality             int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	SkipMalformedFrames     bool          `mapstructure:"skip_malformed_frames" yaml:"skip_malformed_frames"`
	HandshakeTimeoutSeconds int           `mapstructure:"handshake_timeout_seconds" yaml:"handshake_timeout_seconds"`
	DebugAddr               string        `mapstructure:"debug_addr" yaml:"debug_addr"`
	Capture                 CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Log                     logger.Config `mapstructure:"log" yaml:"log"`
}

// HandshakeTimeout returns the configured handshake timeout as a duration.
func (c Config) HandshakeTimeout() time.Duration {
	if c.HandshakeTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

// Validate checks that the config is sufficient to open a session.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model is required")
	}
	if strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.AccessToken) == "" {
		return errors.New("api_key or access_token is required (or set GOOGLE_API_KEY)")
	}
	return nil
}

// Dump renders the config as YAML with credentials redacted, for startup
// logging.
func (c Config) Dump() string {
	redacted := c
	if redacted.APIKey != "" {
		redacted.APIKey = "<redacted>"
	}
	if redacted.AccessToken != "" {
		redacted.AccessToken = "<redacted>"
	}
	out, err := yaml.Marshal(redacted)
	if err != nil {
		return fmt.Sprintf("<unprintable config: %v>", err)
	}
	return string(out)
}

// Load executes the load function.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finish(v, rootDir)
}

// LoadConfig executes the loadConfig function.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	v := newViper()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return Config{}, fmt.Errorf("load embedded config: %w", err)
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finish(v, filepath.Dir(absPath))
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("endpoint", "")
	v.SetDefault("model", "")
	v.SetDefault("prompt", "")
	v.SetDefault("max_frames", 0)
	v.SetDefault("jpeg_quality", 90)
	v.SetDefault("skip_malformed_frames", false)
	v.SetDefault("handshake_timeout_seconds", 30)
	v.SetDefault("debug_addr", "")
	v.SetDefault("capture.ffmpeg_path", "ffmpeg")
	v.SetDefault("capture.width", 1280)
	v.SetDefault("capture.height", 720)
	v.SetDefault("capture.frame_rate", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "screen-watcher.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetEnvPrefix("watcher")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir

	// The Google SDKs all honor GOOGLE_API_KEY; so do we.
	if cfg.APIKey == "" {
		cfg.APIKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	return cfg, nil
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("WATCHER_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
