// Package config loads the Environment configuration table (spec.md
// §6) from HERALD_-prefixed environment variables, following the
// teacher's plain os.Getenv style rather than a flag/viper framework.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/talaria-bio/herald/internal/validation"
)

// Config holds every recognized option, all optional with documented
// defaults (spec.md §6).
type Config struct {
	HomeDir string
	Threads int

	KVCacheBytes       int64
	KVWriteBufferBytes int64

	ExpectedSequences      uint
	BloomFalsePositiveRate float64
	BloomPersistInterval   time.Duration

	ChunkTargetBytes int64
	ChunkMaxBytes    int64

	MaxDeltaDistance        int
	MaxDeltaChain           int
	ReconstructionThreshold float64

	SyncParallelDownloads int
	SyncPerChunkTimeout   time.Duration

	CacheTTL time.Duration
}

// GetDefaultHomeDir returns the default base directory: user home +
// .talaria (spec.md §6 home_dir default), mirroring the teacher's
// XDG-aware keystore path resolution.
func GetDefaultHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".talaria")
	}
	return ".talaria"
}

// FromEnv builds a Config from HERALD_-prefixed environment variables,
// falling back to spec.md §6's defaults for anything unset or
// unparsable.
func FromEnv() Config {
	return Config{
		HomeDir: getString("HERALD_HOME_DIR", GetDefaultHomeDir()),
		Threads: getInt("HERALD_THREADS", runtime.NumCPU()),

		KVCacheBytes:       getInt64("HERALD_KV_CACHE_BYTES", 2<<30),
		KVWriteBufferBytes: getInt64("HERALD_KV_WRITE_BUFFER_BYTES", 128<<20),

		ExpectedSequences:      getUint("HERALD_EXPECTED_SEQUENCES", 100_000_000),
		BloomFalsePositiveRate: getFloat("HERALD_BLOOM_FALSE_POSITIVE_RATE", 0.001),
		BloomPersistInterval:   getSeconds("HERALD_BLOOM_PERSIST_INTERVAL_SEC", 300),

		ChunkTargetBytes: getInt64("HERALD_CHUNK_TARGET_BYTES", 50<<20),
		ChunkMaxBytes:    getInt64("HERALD_CHUNK_MAX_BYTES", 500<<20),

		MaxDeltaDistance:        getInt("HERALD_MAX_DELTA_DISTANCE", 1000),
		MaxDeltaChain:           getInt("HERALD_MAX_DELTA_CHAIN", 1),
		ReconstructionThreshold: getFloat("HERALD_RECONSTRUCTION_THRESHOLD", 0.3),

		SyncParallelDownloads: getInt("HERALD_SYNC_PARALLEL_DOWNLOADS", 8),
		SyncPerChunkTimeout:   getSeconds("HERALD_SYNC_PER_CHUNK_TIMEOUT_SEC", 30),

		CacheTTL: getSeconds("HERALD_CACHE_TTL_SEC", 300),
	}
}

// Validate checks the loaded options fall within sane bounds,
// catching a malformed HERALD_-prefixed environment variable early
// rather than surfacing it later as a cryptic store-layer failure.
func (c Config) Validate() error {
	if err := validation.ValidateRangeFloat(c.BloomFalsePositiveRate, 0, 1); err != nil {
		return err
	}
	if err := validation.ValidateRangeFloat(c.ReconstructionThreshold, 0, 1); err != nil {
		return err
	}
	if err := validation.ValidateRangeInt(c.SyncParallelDownloads, 1, 1024); err != nil {
		return err
	}
	if err := validation.ValidateRangeInt(c.MaxDeltaChain, 1, 64); err != nil {
		return err
	}
	return validation.ValidateFilePath(c.HomeDir, false)
}

// KVDir, CacheDir, BloomPath, and DownloadsDir return the filesystem
// layout paths rooted at HomeDir (spec.md §6 "Filesystem layout").
func (c Config) KVDir() string       { return filepath.Join(c.HomeDir, "kv") }
func (c Config) CacheDir() string    { return filepath.Join(c.HomeDir, ".cache") }
func (c Config) BloomPath() string   { return filepath.Join(c.HomeDir, "bloom.bin") }
func (c Config) DownloadsDir(source, dataset, timestamp string) string {
	return filepath.Join(c.HomeDir, "downloads", source+"_"+dataset+"_"+timestamp)
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getUint(key string, def uint) uint {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return uint(n)
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

func getSeconds(key string, defSeconds int) time.Duration {
	n := getInt(key, defSeconds)
	return time.Duration(n) * time.Second
}
