// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/gobuffalo/envy"
	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/korugfx/gfx"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time      TimeConfiguration      `toml:"time"`
	Renderer  RendererConfiguration  `toml:"renderer"`
	Resources ResourcesConfiguration `toml:"resources"`
	Log       LogConfiguration       `toml:"log"`
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int `toml:"frames_per_second"`

	// EventPollDelay is the delay between event polls in milliseconds
	EventPollDelay int `toml:"event_poll_delay"`
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	Backend         string   `toml:"backend"`
	ApplicationName string   `toml:"application_name"`
	RenderThreads   int      `toml:"render_threads"`
	Debug           bool     `toml:"debug"`
	Passes          []string `toml:"passes"`

	// DeviceExtensions are enabled on the device next to the backend's own
	DeviceExtensions []string `toml:"device_extensions"`

	ScreenWidth  uint32 `toml:"screen_width"`
	ScreenHeight uint32 `toml:"screen_height"`
}

// DeviceConfig is the backend configuration of the renderer settings
func (r RendererConfiguration) DeviceConfig(logger *log.Entry) gfx.Config {
	return gfx.Config{
		ApplicationName: r.ApplicationName,
		Debug:           r.Debug,
		Extensions:      r.DeviceExtensions,
		Logger:          logger,
	}
}

// ResourcesConfiguration points the engine at its resources
type ResourcesConfiguration struct {
	// Directory is read before Archive
	Directory string `toml:"directory"`
	// Archive is an optional kar file
	Archive string `toml:"archive"`
	// Watch reloads changed files of Directory
	Watch bool `toml:"watch"`
}

// LogConfiguration sets up logrus
type LogConfiguration struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfiguration is used for anything a configuration file leaves out
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  10,
		},
		Renderer: RendererConfiguration{
			Backend:         "headless",
			ApplicationName: "Koru",
			RenderThreads:   2,
			ScreenWidth:     1280,
			ScreenHeight:    720,
		},
		Resources: ResourcesConfiguration{
			Directory: "assets",
		},
		Log: LogConfiguration{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfiguration reads a TOML file over the defaults and applies
// environment overrides. A missing file is not an error.
func LoadConfiguration(file string) (Configuration, error) {
	cfg := DefaultConfiguration()
	if file != "" {
		data, err := os.ReadFile(file)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	return cfg, cfg.applyEnvironment()
}

func (c *Configuration) applyEnvironment() error {
	c.Renderer.Backend = getenv("KORU_BACKEND", c.Renderer.Backend)
	c.Resources.Directory = getenv("KORU_RESOURCES", c.Resources.Directory)
	c.Log.Level = getenv("KORU_LOG_LEVEL", c.Log.Level)

	threads := getenv("KORU_RENDER_THREADS", "")
	if threads != "" {
		n, err := strconv.Atoi(threads)
		if err != nil || n < 1 {
			return errors.New("KORU_RENDER_THREADS: must be a positive number")
		}
		c.Renderer.RenderThreads = n
	}
	return nil
}

// getenv treats an empty variable as unset
func getenv(key, value string) string {
	if v := envy.Get(key, ""); v != "" {
		return v
	}
	return value
}

// Setup applies the log configuration to the standard logrus logger
func (l LogConfiguration) Setup() error {
	level, err := log.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	switch l.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.New("unknown log format: " + l.Format)
	}
	return nil
}
