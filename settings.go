package main

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/arre-reader/arre/internal/audio"
	"github.com/arre-reader/arre/internal/cache"
	"github.com/arre-reader/arre/internal/models"
	"github.com/arre-reader/arre/internal/pool"
	"github.com/arre-reader/arre/internal/source"
	"github.com/arre-reader/arre/internal/tts"
	"github.com/arre-reader/arre/internal/worker"
)

func setDefaults() {
	viper.SetDefault("voice", models.DefaultVoiceID)
	viper.SetDefault("engine", "piper")
	viper.SetDefault("workers", 0)
	viper.SetDefault("rate", audio.RateNormal)
	viper.SetDefault("timeout", pool.DefaultConfig().Timeout)
	viper.SetDefault("max_queued", 0)

	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.memory_mb", 64)
	viper.SetDefault("cache.compression", 3)

	viper.SetDefault("models.dir", "")
	viper.SetDefault("models.base_url", models.DefaultBaseURL)

	viper.SetDefault("bus.url", "")
	viper.SetDefault("bus.subject", worker.DefaultSubjectPrefix)
	viper.SetDefault("bus.token", "")

	viper.SetDefault("audio.sample_rate", audio.DefaultOtoConfig().SampleRate)
	viper.SetDefault("audio.volume", 1.0)

	viper.SetDefault("fetch.user_agent", source.DefaultUserAgent)
	viper.SetDefault("fetch.ttl", cache.DocumentTTL)

	viper.SetDefault("metrics.addr", "")
}

// settings is the resolved configuration of one invocation.
type settings struct {
	Voice     string
	Engine    string
	Workers   int
	Rate      float64
	Timeout   time.Duration
	MaxQueued int

	CacheDir    string
	MemoryMB    int
	Compression int

	ModelsDir string
	BaseURL   string

	BusURL     string
	BusSubject string
	BusToken   string

	SampleRate int
	Volume     float64

	UserAgent string
	FetchTTL  time.Duration

	MetricsAddr string
}

// loadSettings reads the effective configuration from viper and fills in
// the user directories.
func loadSettings() (settings, error) {
	s := settings{
		Voice:       viper.GetString("voice"),
		Engine:      viper.GetString("engine"),
		Workers:     viper.GetInt("workers"),
		Rate:        viper.GetFloat64("rate"),
		Timeout:     viper.GetDuration("timeout"),
		MaxQueued:   viper.GetInt("max_queued"),
		CacheDir:    viper.GetString("cache.dir"),
		MemoryMB:    viper.GetInt("cache.memory_mb"),
		Compression: viper.GetInt("cache.compression"),
		ModelsDir:   viper.GetString("models.dir"),
		BaseURL:     viper.GetString("models.base_url"),
		BusURL:      viper.GetString("bus.url"),
		BusSubject:  viper.GetString("bus.subject"),
		BusToken:    viper.GetString("bus.token"),
		SampleRate:  viper.GetInt("audio.sample_rate"),
		Volume:      viper.GetFloat64("audio.volume"),
		UserAgent:   viper.GetString("fetch.user_agent"),
		FetchTTL:    viper.GetDuration("fetch.ttl"),
		MetricsAddr: viper.GetString("metrics.addr"),
	}

	if s.Workers == 0 {
		s.Workers = runtime.NumCPU()
	}
	if s.Compression < 0 || s.Compression > 22 {
		return s, fmt.Errorf("cache compression must be between 0 and 22, got %d", s.Compression)
	}

	scope := gap.NewScope(gap.User, appName)
	if s.CacheDir == "" {
		dir, err := scope.CacheDir()
		if err != nil {
			return s, fmt.Errorf("unable to find cache directory: %w", err)
		}
		s.CacheDir = dir
	}
	if s.ModelsDir == "" {
		dirs, err := scope.DataDirs()
		if err != nil || len(dirs) == 0 {
			return s, fmt.Errorf("unable to find data directory: %w", err)
		}
		s.ModelsDir = filepath.Join(dirs[0], "models")
	}
	return s, nil
}

// serviceConfig maps the settings onto the service configuration.
func (s settings) serviceConfig() tts.Config {
	cfg := tts.DefaultConfig()
	cfg.Engine = s.Engine
	cfg.Pool = pool.Config{
		Size:      s.Workers,
		MaxQueued: s.MaxQueued,
		Timeout:   s.Timeout,
		Grace:     pool.DefaultConfig().Grace,
	}
	cfg.Cache = cache.Config{
		Dir:              s.CacheDir,
		MemoryCapacity:   int64(s.MemoryMB) << 20,
		CompressionLevel: s.Compression,
		FlushInterval:    cache.FlushInterval,
	}
	cfg.Models = models.Config{
		Dir:     s.ModelsDir,
		BaseURL: s.BaseURL,
	}
	return cfg
}
