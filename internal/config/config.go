// Package config loads mudra settings from defaults, an optional config
// file, MUDRA_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/live"
)

// EnvPrefix prefixes every environment override, e.g. MUDRA_SERVER_ADDR.
const EnvPrefix = "MUDRA"

// Config is the decoded application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Camera     CameraConfig     `mapstructure:"camera"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Perception PerceptionConfig `mapstructure:"perception"`
	Session    SessionConfig    `mapstructure:"session"`
	Live       LiveConfig       `mapstructure:"live"`
	Server     ServerConfig     `mapstructure:"server"`
	Tray       TrayConfig       `mapstructure:"tray"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CameraConfig selects the capture device and the requested stream.
type CameraConfig struct {
	Device int    `mapstructure:"device"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	Facing string `mapstructure:"facing"`
}

// DetectorConfig holds hand landmarker settings.
type DetectorConfig struct {
	Model           string  `mapstructure:"model"`
	Delegate        string  `mapstructure:"delegate"`
	NumHands        int     `mapstructure:"numHands"`
	MinConfidence   float64 `mapstructure:"minConfidence"`
	MinTrackingConf float64 `mapstructure:"minTrackingConf"`
	Script          string  `mapstructure:"script"`
}

// PerceptionConfig holds perception loop settings.
type PerceptionConfig struct {
	RefreshHz float64       `mapstructure:"refreshHz"`
	Smoothing time.Duration `mapstructure:"smoothing"`
}

// SessionConfig holds streaming session capture settings.
type SessionConfig struct {
	FrameRate   float64       `mapstructure:"frameRate"`
	Downscale   float64       `mapstructure:"downscale"`
	JPEGQuality int           `mapstructure:"jpegQuality"`
	SendTimeout time.Duration `mapstructure:"sendTimeout"`
}

// LiveConfig holds remote session settings.
type LiveConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"apiKey"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"staticDir"`
}

// TrayConfig holds system tray settings.
type TrayConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"camera":    "camera.device",
	"log-level": "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.facing", "user")

	v.SetDefault("detector.model", detector.DefaultModelAssetPath)
	v.SetDefault("detector.delegate", "GPU")
	v.SetDefault("detector.numHands", 2)
	v.SetDefault("detector.minConfidence", 0.5)
	v.SetDefault("detector.minTrackingConf", 0.5)
	v.SetDefault("detector.script", "")

	v.SetDefault("perception.refreshHz", 60)
	v.SetDefault("perception.smoothing", "0s")

	v.SetDefault("session.frameRate", 2)
	v.SetDefault("session.downscale", 0.5)
	v.SetDefault("session.jpegQuality", 50)
	v.SetDefault("session.sendTimeout", "5s")

	v.SetDefault("live.endpoint", live.DefaultEndpoint)
	v.SetDefault("live.model", live.DefaultModel)
	v.SetDefault("live.apiKey", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.staticDir", "")

	v.SetDefault("tray.enabled", true)
}

// Load builds the configuration. file may be empty; its format follows the
// extension. Flags that were set on the command line override every other
// source; flags may be nil.
func Load(file string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The remote key is commonly provided without the prefix
	if err := v.BindEnv("live.apiKey", EnvPrefix+"_LIVE_APIKEY", "GEMINI_API_KEY", "API_KEY"); err != nil {
		return Config{}, fmt.Errorf("binding api key: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
