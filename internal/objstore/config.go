package objstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
)

// DefaultMaxObjectSize is the object size limit used when none is set.
const DefaultMaxObjectSize = 128 << 20

type Config struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	// MinimumFreeSpace is the free disk space in GB required at Open.
	// Zero disables the check.
	MinimumFreeSpace int

	// DataShards > 0 stores object data as DataShards+ParityShards
	// Reed-Solomon shards.
	DataShards   int
	ParityShards int

	// CompressionLevel is a zstd level (1 fastest .. 22 best). Zero picks
	// the zstd default.
	CompressionLevel int

	// MaxObjectSize caps the size any write, zero or truncate may grow an
	// object to. Zero picks DefaultMaxObjectSize.
	MaxObjectSize uint64

	Logger       *slog.Logger
	BadgerLogger *logrus.Logger
}

func (c *Config) setDefaults() {
	if c.MaxObjectSize == 0 {
		c.MaxObjectSize = DefaultMaxObjectSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if c.BadgerLogger == nil {
		c.BadgerLogger = logrus.New()
		c.BadgerLogger.SetLevel(logrus.WarnLevel)
	}
}

func (c *Config) checkConfig() error {
	if c.DataShards < 0 || c.ParityShards < 0 {
		return errors.New("shard counts must not be negative")
	}
	if c.DataShards == 0 && c.ParityShards > 0 {
		return errors.New("parity shards need data shards")
	}
	if c.DataShards+c.ParityShards > 255 {
		return fmt.Errorf("at most 255 shards, got %d", c.DataShards+c.ParityShards)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 22 {
		return fmt.Errorf("compression level %d out of range", c.CompressionLevel)
	}

	if c.InMemory {
		return nil
	}
	if c.Path == "" {
		return errors.New("no path provided in configuration")
	}

	info, err := os.Stat(c.Path)
	if os.IsNotExist(err) {
		return errors.New("path does not exist")
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	if c.MinimumFreeSpace > 0 {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(c.Path, &stat); err != nil {
			return fmt.Errorf("statfs %s: %w", c.Path, err)
		}
		// Available blocks * size per block gives available space in bytes
		availableSpaceInGB := (stat.Bavail * uint64(stat.Bsize)) / (1024 * 1024 * 1024)
		if int(availableSpaceInGB) < c.MinimumFreeSpace {
			return errors.New("not enough space available on disk")
		}
	}

	return nil
}
