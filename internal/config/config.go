// Package config provides the environment-backed configuration loaders
// used by the process bootstraps (cmd/*/main.go).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Common holds the config values shared between the processes.
type Common struct {
	WorkingDir   string        // DLREPICK_WORKING_DIR
	DatabaseURL  string        // DATABASE_URL
	Author       string        // DLREPICK_AUTHOR
	AgencyID     string        // DLREPICK_AGENCY
	PollInterval time.Duration // DLREPICK_POLL_INTERVAL
	ListenAddr   string        // LISTEN_ADDR (ops server)

	// InventoryFile points at the exported station metadata JSON.
	InventoryFile string // DLREPICK_INVENTORY

	// Queue backend selection: "fs" (default) or "kafka".
	QueueBackend string   // DLREPICK_QUEUE_BACKEND
	KafkaBrokers []string // KAFKA_BROKERS
}

// Picking holds the ingestion-side parameters.
type Picking struct {
	IgnoredAuthors       []string // DLREPICK_IGNORED_AUTHORS
	IgnoredAgencyIDs     []string // DLREPICK_IGNORED_AGENCIES
	EmptyOriginAgencyIDs []string // DLREPICK_EMPTY_ORIGIN_AGENCIES
	TryUnpickedStations  bool     // DLREPICK_TRY_UNPICKED
	RepickManualPicks    bool     // DLREPICK_REPICK_MANUAL
	StationBlacklist     []string // DLREPICK_STATION_BLACKLIST ("NET.STA ...")

	BeforeP time.Duration // DLREPICK_BEFORE_P
	AfterP  time.Duration // DLREPICK_AFTER_P

	// StreamTimeout bounds waveform acquisition.
	StreamTimeout time.Duration // DLREPICK_STREAM_TIMEOUT

	// WaveformURL points at the acquisition service; empty disables
	// waveform fetching.
	WaveformURL string // DLREPICK_WAVEFORM_URL

	// StalenessWindow ages workspaces out, measured from origin time.
	StalenessWindow time.Duration // DLREPICK_STALENESS_WINDOW
}

// Repicking holds the refinement-consumer parameters.
type Repicking struct {
	ModelName        string        // DLREPICK_MODEL ("eqtransformer" or "phasenet")
	ModelURL         string        // DLREPICK_MODEL_URL
	Dataset          string        // DLREPICK_DATASET
	BatchSize        int           // DLREPICK_BATCH_SIZE
	MinConfidence    float64       // DLREPICK_MIN_CONFIDENCE
	MaxTimeDeviation time.Duration // DLREPICK_MAX_TIME_DEVIATION
	PeakHeight       float64       // DLREPICK_PEAK_HEIGHT
	AnnotateTimeout  time.Duration // DLREPICK_ANNOTATE_TIMEOUT
}

// Relocation holds the relocation-engine parameters.
type Relocation struct {
	// MinDepthKm is the depth floor: a free-depth solution shallower
	// than this triggers one fixed-depth retry at this value.
	MinDepthKm float64 // DLREPICK_MIN_DEPTH

	// MaxResidualSec is the largest tolerated individual residual.
	MaxResidualSec float64 // DLREPICK_MAX_RESIDUAL

	// MaxDeltaDeg is the hard epicentral distance cutoff beyond which
	// P identification is considered unreliable.
	MaxDeltaDeg float64 // DLREPICK_MAX_DELTA

	// MaxIterations bounds the trimming loop.
	MaxIterations int // DLREPICK_MAX_ITERATIONS

	MinArrivals int           // DLREPICK_MIN_ARRIVALS
	MinDelay    time.Duration // DLREPICK_MIN_DELAY
	PickAuthors []string      // DLREPICK_PICK_AUTHORS

	// CountExponent weights the arrival-count ratio in the acceptance
	// score. Empirically chosen, deliberately configuration.
	CountExponent float64 // DLREPICK_COUNT_EXPONENT

	LocatorURL string // DLREPICK_LOCATOR_URL

	// FixedDepthRegions lists lat/lon boxes with forced depth, each
	// encoded as "minLat:maxLat:minLon:maxLon:depthKm".
	FixedDepthRegions []string // DLREPICK_FIXED_DEPTH_REGIONS

	// Diagnostics archiving for failed relocations.
	FailureDir string // DLREPICK_FAILURE_DIR
	S3Bucket   string // DLREPICK_S3_BUCKET
	S3Prefix   string // DLREPICK_S3_PREFIX
}

// LoadCommon reads the shared config values from the environment.
func LoadCommon() *Common {
	cfg := &Common{
		WorkingDir:    getString("DLREPICK_WORKING_DIR", "."),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Author:        getString("DLREPICK_AUTHOR", "dlpicker"),
		AgencyID:      getString("DLREPICK_AGENCY", "GFZ"),
		PollInterval:  getDuration("DLREPICK_POLL_INTERVAL", time.Second),
		ListenAddr:    getString("LISTEN_ADDR", ":8080"),
		InventoryFile: os.Getenv("DLREPICK_INVENTORY"),
		QueueBackend:  getString("DLREPICK_QUEUE_BACKEND", "fs"),
		KafkaBrokers:  getStrings("KAFKA_BROKERS", nil),
	}
	return cfg
}

// LoadPicking reads the ingestion config from the environment.
func LoadPicking() *Picking {
	return &Picking{
		IgnoredAuthors:       getStrings("DLREPICK_IGNORED_AUTHORS", []string{"dl-reloc", "dlpicker"}),
		IgnoredAgencyIDs:     getStrings("DLREPICK_IGNORED_AGENCIES", nil),
		EmptyOriginAgencyIDs: getStrings("DLREPICK_EMPTY_ORIGIN_AGENCIES", []string{"EMSC", "BGR", "NEIC", "BMKG"}),
		TryUnpickedStations:  getBool("DLREPICK_TRY_UNPICKED", true),
		RepickManualPicks:    getBool("DLREPICK_REPICK_MANUAL", false),
		StationBlacklist:     getStrings("DLREPICK_STATION_BLACKLIST", nil),
		BeforeP:              getDuration("DLREPICK_BEFORE_P", time.Minute),
		AfterP:               getDuration("DLREPICK_AFTER_P", time.Minute),
		StreamTimeout:        getDuration("DLREPICK_STREAM_TIMEOUT", 5*time.Second),
		WaveformURL:          os.Getenv("DLREPICK_WAVEFORM_URL"),
		StalenessWindow:      getDuration("DLREPICK_STALENESS_WINDOW", 30*time.Hour),
	}
}

// LoadRepicking reads the refinement-consumer config from the environment.
func LoadRepicking() *Repicking {
	return &Repicking{
		ModelName:        getString("DLREPICK_MODEL", "eqtransformer"),
		ModelURL:         os.Getenv("DLREPICK_MODEL_URL"),
		Dataset:          getString("DLREPICK_DATASET", "geofon"),
		BatchSize:        getInt("DLREPICK_BATCH_SIZE", 50),
		MinConfidence:    getFloat("DLREPICK_MIN_CONFIDENCE", 0.4),
		MaxTimeDeviation: getDuration("DLREPICK_MAX_TIME_DEVIATION", 10*time.Second),
		PeakHeight:       getFloat("DLREPICK_PEAK_HEIGHT", 0.1),
		AnnotateTimeout:  getDuration("DLREPICK_ANNOTATE_TIMEOUT", 5*time.Minute),
	}
}

// LoadRelocation reads the relocation config from the environment.
func LoadRelocation() *Relocation {
	return &Relocation{
		MinDepthKm:        getFloat("DLREPICK_MIN_DEPTH", 10),
		MaxResidualSec:    getFloat("DLREPICK_MAX_RESIDUAL", 2.5),
		MaxDeltaDeg:       getFloat("DLREPICK_MAX_DELTA", 105),
		MaxIterations:     getInt("DLREPICK_MAX_ITERATIONS", 100),
		MinArrivals:       getInt("DLREPICK_MIN_ARRIVALS", 5),
		MinDelay:          getDuration("DLREPICK_MIN_DELAY", 20*time.Minute),
		PickAuthors:       getStrings("DLREPICK_PICK_AUTHORS", []string{"dlpicker"}),
		CountExponent:     getFloat("DLREPICK_COUNT_EXPONENT", 2),
		LocatorURL:        os.Getenv("DLREPICK_LOCATOR_URL"),
		FixedDepthRegions: getStrings("DLREPICK_FIXED_DEPTH_REGIONS", nil),
		FailureDir:        getString("DLREPICK_FAILURE_DIR", "failed"),
		S3Bucket:          os.Getenv("DLREPICK_S3_BUCKET"),
		S3Prefix:          os.Getenv("DLREPICK_S3_PREFIX"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getStrings(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Fields(v)
	}
	return def
}

// booleans parsed permissively; default on parse failure
func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
