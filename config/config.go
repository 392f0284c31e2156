// talkpip/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	FFBin            string        `mapstructure:"FF_BIN"`
	FFProbeBin       string        `mapstructure:"FFPROBE_BIN"`
	FFTimeout        time.Duration `mapstructure:"FF_TIMEOUT"`
	MaxConcurrency   int           `mapstructure:"MAX_CONCURRENCY"`
	MaxInputSize     int64         `mapstructure:"MAX_INPUT_SIZE"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	ThrottlePoll     time.Duration `mapstructure:"THROTTLE_POLL"`
	ThrottleMaxWait  time.Duration `mapstructure:"THROTTLE_MAX_WAIT"`
	OutputDir        string        `mapstructure:"OUTPUT_DIR"`

	DownloaderBin   string        `mapstructure:"DOWNLOADER_BIN"`
	DownloadRetries int           `mapstructure:"DOWNLOAD_RETRIES"`
	DownloadBackoff time.Duration `mapstructure:"DOWNLOAD_BACKOFF"`

	SlidesManifestURL     string  `mapstructure:"SLIDES_MANIFEST_URL"`
	SlidesImageURL        string  `mapstructure:"SLIDES_IMAGE_URL"`
	SlideFetchConcurrency int     `mapstructure:"SLIDE_FETCH_CONCURRENCY"`
	SlideInterval         float64 `mapstructure:"SLIDE_INTERVAL"`
	SlideWidth            int     `mapstructure:"SLIDE_WIDTH"`
	SlideHeight           int     `mapstructure:"SLIDE_HEIGHT"`
	RenderFPS             float64 `mapstructure:"RENDER_FPS"`
	TieBreak              string  `mapstructure:"TIE_BREAK"`

	DurationToleranceFrames float64 `mapstructure:"DURATION_TOLERANCE_FRAMES"`
	PipPrimary              string  `mapstructure:"PIP_PRIMARY"`
	PipScale                float64 `mapstructure:"PIP_SCALE"`
	PipMargin               int     `mapstructure:"PIP_MARGIN"`
	PipBorder               int     `mapstructure:"PIP_BORDER"`
	PipBorderColor          string  `mapstructure:"PIP_BORDER_COLOR"`
	PipCorner               string  `mapstructure:"PIP_CORNER"`
	AudioFrom               string  `mapstructure:"AUDIO_FROM"`
	AllowSilent             bool    `mapstructure:"ALLOW_SILENT"`
	EncodeArgs              string  `mapstructure:"ENCODE_ARGS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration with an explicit config file. An empty path
// falls back to talkpip_config.yaml in the working directory or /etc/talkpip/.
func LoadFile(path string) (*Config, error) {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_TIMEOUT", "2h")
	vp.SetDefault("MAX_CONCURRENCY", 3)
	vp.SetDefault("MAX_INPUT_SIZE", "8GB")
	vp.SetDefault("THROTTLE_CPU", 10.0)
	vp.SetDefault("THROTTLE_FREEMEM", "500MB")
	vp.SetDefault("THROTTLE_FREEDISK", "2GB")
	vp.SetDefault("THROTTLE_POLL", "15s")
	vp.SetDefault("THROTTLE_MAX_WAIT", "30m")
	vp.SetDefault("OUTPUT_DIR", "talks")

	vp.SetDefault("DOWNLOADER_BIN", "yt-dlp")
	vp.SetDefault("DOWNLOAD_RETRIES", 3)
	vp.SetDefault("DOWNLOAD_BACKOFF", "5s")

	vp.SetDefault("SLIDES_MANIFEST_URL", "https://s.slideslive.com/{id}/v3/slides.json")
	vp.SetDefault("SLIDES_IMAGE_URL", "https://rs.slideslive.com/{id}/slides/{name}.png?h=1080&f=png")
	vp.SetDefault("SLIDE_FETCH_CONCURRENCY", 5)
	vp.SetDefault("SLIDE_INTERVAL", 30.0)
	vp.SetDefault("SLIDE_WIDTH", 1920)
	vp.SetDefault("SLIDE_HEIGHT", 1080)
	vp.SetDefault("RENDER_FPS", 0.0)
	vp.SetDefault("TIE_BREAK", "last")

	vp.SetDefault("DURATION_TOLERANCE_FRAMES", 1.0)
	vp.SetDefault("PIP_PRIMARY", "speaker")
	vp.SetDefault("PIP_SCALE", 0.25)
	vp.SetDefault("PIP_MARGIN", 20)
	vp.SetDefault("PIP_BORDER", 3)
	vp.SetDefault("PIP_BORDER_COLOR", "white")
	vp.SetDefault("PIP_CORNER", "bottom-right")
	vp.SetDefault("AUDIO_FROM", "speaker")
	vp.SetDefault("ALLOW_SILENT", false)
	vp.SetDefault("ENCODE_ARGS", "-c:v libx264 -preset veryfast -crf 23")

	vp.SetDefault("LOG_LEVEL", "info")
	vp.SetDefault("LOG_FORMAT", "auto")

	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")

	if path != "" {
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		vp.SetConfigName("talkpip_config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("/etc/talkpip/")

		if err := vp.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("TALKPIP")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot honour.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.MaxConcurrency >= 1, "MAX_CONCURRENCY must be at least 1, got %d", c.MaxConcurrency)
	check(c.FFTimeout > 0, "FF_TIMEOUT must be positive")
	check(c.DownloadRetries >= 0, "DOWNLOAD_RETRIES must not be negative")
	check(c.SlideFetchConcurrency >= 1, "SLIDE_FETCH_CONCURRENCY must be at least 1")
	check(c.SlideInterval > 0, "SLIDE_INTERVAL must be positive")
	check(c.SlideWidth >= 16 && c.SlideHeight >= 16, "slide resolution %dx%d is too small", c.SlideWidth, c.SlideHeight)
	check(c.RenderFPS >= 0, "RENDER_FPS must not be negative")
	check(c.DurationToleranceFrames >= 0, "DURATION_TOLERANCE_FRAMES must not be negative")
	check(c.PipScale > 0 && c.PipScale <= 1, "PIP_SCALE must be in (0, 1], got %g", c.PipScale)
	check(c.PipMargin >= 0 && c.PipBorder >= 0, "PIP_MARGIN and PIP_BORDER must not be negative")
	check(oneOf(c.TieBreak, "last", "first"), "TIE_BREAK must be last or first, got %q", c.TieBreak)
	check(oneOf(c.PipPrimary, "speaker", "slides"), "PIP_PRIMARY must be speaker or slides, got %q", c.PipPrimary)
	check(oneOf(c.AudioFrom, "speaker", "slides"), "AUDIO_FROM must be speaker or slides, got %q", c.AudioFrom)
	// The rendered slide video never carries sound.
	check(!strings.EqualFold(c.AudioFrom, "slides") || c.AllowSilent, "AUDIO_FROM=slides produces a silent video and needs ALLOW_SILENT=true")
	check(oneOf(c.PipCorner, "bottom-right", "bottom-left", "top-right", "top-left"), "PIP_CORNER %q is not a corner", c.PipCorner)
	check(oneOf(c.LogFormat, "auto", "console", "json"), "LOG_FORMAT must be auto, console or json, got %q", c.LogFormat)

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}
