// Package config loads the engine's flat, typed option set from a YAML
// file, the way the teacher's configs.LoadConfig is invoked from
// cmd/main.go — a single struct decoded once at startup and passed by
// value into the engine, never re-read.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/triplescan/triplescan/internal/ferrors"
)

// Spectral holds the framing parameters shared by the decoder and the FFT.
type Spectral struct {
	SampleRate int `yaml:"sample_rate"`
	FrameSize  int `yaml:"frame_size"`
	Hop        int `yaml:"hop"`
}

// Peaks holds the event-point extractor's tunables.
type Peaks struct {
	NeighbourhoodT int     `yaml:"peak_neighbourhood_t"`
	NeighbourhoodF int     `yaml:"peak_neighbourhood_f"`
	EMAAlpha       float64 `yaml:"peak_ema_alpha"`
	EMAK           float64 `yaml:"peak_ema_k"`
	PerFrameMax    int     `yaml:"peaks_per_frame_max"`
}

// Fingerprint holds the triplet-builder's geometric window.
type Fingerprint struct {
	DtMin       int `yaml:"fp_dt_min"`
	DtMax       int `yaml:"fp_dt_max"`
	DfMin       int `yaml:"fp_df_min"`
	DfMax       int `yaml:"fp_df_max"`
	MaxPerAnchor int `yaml:"fp_max_per_anchor"`
}

// Matcher holds the matcher's tunables.
type Matcher struct {
	QueryRange        int     `yaml:"query_range"`
	MinHitsUnfiltered int     `yaml:"min_hits_unfiltered"`
	MinHitsFiltered   int     `yaml:"min_hits_filtered"`
	HitPartMaxSize    int     `yaml:"hit_part_max_size"`
	HitPartDivider    int     `yaml:"hit_part_divider"`
	MinTimeFactor     float64 `yaml:"min_time_factor"`
	MaxTimeFactor     float64 `yaml:"max_time_factor"`
	MinMatchDuration  float64 `yaml:"min_match_duration"`
	MinSecWithMatch   float64 `yaml:"min_sec_with_match"`
	FallbackToHist    bool    `yaml:"match_fallback_to_hist"`
	MaxResults        int     `yaml:"max_results"`
}

// Storage selects and configures the index store backend.
type Storage struct {
	Backend       string `yaml:"storage_backend"` // memory | kv | file
	CacheToFile   bool   `yaml:"cache_to_file"`
	CacheFolder   string `yaml:"cache_folder"`
	UseCached     bool   `yaml:"use_cached_prints"`
	KVDriver      string `yaml:"kv_driver"` // postgres | mysql
	KVDataSource  string `yaml:"kv_data_source"`
	FileDataDir   string `yaml:"file_data_dir"`
}

// Monitor holds the sliding-window dispatcher's tunables.
type Monitor struct {
	StepSeconds    float64 `yaml:"monitor_step"`
	OverlapSeconds float64 `yaml:"monitor_overlap"`
	Workers        int     `yaml:"monitor_workers"`
}

// Logging holds the ambient logging sink configuration.
type Logging struct {
	Level string `yaml:"log_level"`
	File  string `yaml:"log_file"`
}

// Config is the full flat option set described in spec §6.
type Config struct {
	Spectral    Spectral    `yaml:"spectral"`
	Peaks       Peaks       `yaml:"peaks"`
	Fingerprint Fingerprint `yaml:"fingerprint"`
	Matcher     Matcher     `yaml:"matcher"`
	Storage     Storage     `yaml:"storage"`
	Monitor     Monitor     `yaml:"monitor"`
	Logging     Logging     `yaml:"logging"`
}

// Default returns the engine's documented defaults (spec §9's Open
// Question resolutions: these values are not recovered from any
// source, they are chosen so the properties in spec §8 hold).
func Default() Config {
	return Config{
		Spectral: Spectral{
			SampleRate: 16000,
			FrameSize:  1024,
			Hop:        128,
		},
		Peaks: Peaks{
			NeighbourhoodT: 7,
			NeighbourhoodF: 7,
			EMAAlpha:       0.01,
			EMAK:           1.4,
			PerFrameMax:    5,
		},
		Fingerprint: Fingerprint{
			DtMin:        1,
			DtMax:        64,
			DfMin:        0,
			DfMax:        128,
			MaxPerAnchor: 12,
		},
		Matcher: Matcher{
			QueryRange:        2,
			MinHitsUnfiltered: 5,
			MinHitsFiltered:   8,
			HitPartMaxSize:    30,
			HitPartDivider:    4,
			MinTimeFactor:     0.8,
			MaxTimeFactor:     1.2,
			MinMatchDuration:  2.0,
			MinSecWithMatch:   0.3,
			FallbackToHist:    true,
			MaxResults:        10,
		},
		Storage: Storage{
			Backend:      "memory",
			CacheToFile:  false,
			CacheFolder:  "cache",
			UseCached:    false,
			KVDriver:     "postgres",
			FileDataDir:  "data",
		},
		Monitor: Monitor{
			StepSeconds:    10,
			OverlapSeconds: 2,
			Workers:        4,
		},
		Logging: Logging{
			Level: "info",
			File:  "",
		},
	}
}

// Load reads a YAML file into a Config seeded with Default(), so a
// partial file only overrides the keys it sets.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.Config("reading config file", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ferrors.Config("parsing config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would violate the invariants
// the rest of the engine assumes hold.
func (c *Config) Validate() error {
	if c.Spectral.SampleRate <= 0 || c.Spectral.FrameSize <= 0 || c.Spectral.Hop <= 0 {
		return ferrors.Config("spectral.sample_rate, frame_size and hop must be positive", nil)
	}
	if c.Spectral.Hop > c.Spectral.FrameSize {
		return ferrors.Config("spectral.hop must not exceed frame_size", nil)
	}
	switch c.Storage.Backend {
	case "memory", "kv", "file":
	default:
		return ferrors.Config("storage.storage_backend must be one of memory, kv, file", nil)
	}
	if c.Matcher.MinTimeFactor >= c.Matcher.MaxTimeFactor {
		return ferrors.Config("matcher.min_time_factor must be less than max_time_factor", nil)
	}
	return nil
}
