package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	pgtx "github.com/i5heu/ouroboros-pgtx"
	"github.com/i5heu/ouroboros-pgtx/internal/config"
	"github.com/i5heu/ouroboros-pgtx/internal/objstore"
	"github.com/i5heu/ouroboros-pgtx/internal/script"
	"github.com/i5heu/ouroboros-pgtx/pkg/logging"
	"github.com/sirupsen/logrus"
)

const (
	logKeyConfig  = "config"
	logKeyScript  = "script"
	logKeyDataDir = "dataPath"
	logKeyObject  = "object"
	logKeyIndex   = "index"
	logKeyOps     = "ops"
	logKeyBytes   = "bytes"
	logKeySignal  = "signal"
	logKeyError   = "error"
)

func main() { // A
	cfg := parseFlags()

	fileCfg, err := config.Load(cfg.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.apply(&fileCfg)

	level, err := logging.ParseLevel(fileCfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(os.Stderr, level, fileCfg.Log.NoColor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(ctx, "received shutdown signal", logKeySignal, sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, fileCfg, logger, os.Stdout); err != nil {
		logger.ErrorContext(context.Background(), "pgtxctl failed", logKeyError, err)
		os.Exit(1)
	}
}

// ctlConfig holds the parsed command line flags.
type ctlConfig struct { // A
	configPath string
	scriptPath string
	dataPath   string
	inMemory   bool
	dryRun     bool
	dump       bool
	debug      bool
}

func parseFlags() ctlConfig { // A
	cfg := ctlConfig{}

	flag.StringVar(&cfg.configPath, "config", "",
		"Path to YAML config file (defaults apply when empty)")
	flag.StringVar(&cfg.scriptPath, "script", "",
		"Path to YAML transaction script")
	flag.StringVar(&cfg.dataPath, "data", "",
		"Store directory, overrides store.path")
	flag.BoolVar(&cfg.inMemory, "memory", false,
		"Use an in-memory store")
	flag.BoolVar(&cfg.dryRun, "dry-run", false,
		"Build and plan the transaction without applying it")
	flag.BoolVar(&cfg.dump, "dump", false,
		"Print every stored object after applying")
	flag.BoolVar(&cfg.debug, "debug", false,
		"Enable debug logging")

	flag.Parse()

	return cfg
}

// apply lets flags override file values.
func (c ctlConfig) apply(fc *config.Config) {
	if c.dataPath != "" {
		fc.Store.Path = c.dataPath
	}
	if c.inMemory {
		fc.Store.InMemory = true
	}
	if c.debug {
		fc.Log.Level = "debug"
	}
}

// run is the command logic, separated for testability.
func run(
	ctx context.Context,
	cfg ctlConfig,
	fileCfg config.Config,
	logger *slog.Logger,
	out io.Writer,
) error { // A
	if cfg.scriptPath == "" {
		return errors.New("no -script given")
	}

	sc, err := script.Load(cfg.scriptPath)
	if err != nil {
		return err
	}
	tx, err := sc.Build()
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}

	order, err := tx.Plan()
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "transaction planned",
		logKeyScript, cfg.scriptPath,
		logKeyOps, len(order),
		logKeyBytes, tx.BytesWritten())
	for i, id := range order {
		logger.DebugContext(ctx, "plan step", logKeyIndex, i, logKeyObject, id.String())
	}
	if cfg.dryRun {
		for _, id := range order {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	if !fileCfg.Store.InMemory {
		if err := os.MkdirAll(fileCfg.Store.Path, 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	badgerLog := logrus.New()
	badgerLog.SetOutput(os.Stderr)
	badgerLog.SetLevel(logrus.WarnLevel)

	store, err := objstore.Open(objstore.Config{
		Path:             fileCfg.Store.Path,
		InMemory:         fileCfg.Store.InMemory,
		MinimumFreeSpace: fileCfg.Store.MinimumFreeSpace,
		DataShards:       fileCfg.Store.DataShards,
		ParityShards:     fileCfg.Store.ParityShards,
		CompressionLevel: fileCfg.Store.CompressionLevel,
		MaxObjectSize:    fileCfg.Store.MaxObjectSize,
		Logger:           logger,
		BadgerLogger:     badgerLog,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.WarnContext(context.Background(), "error closing store", logKeyError, closeErr)
		}
	}()

	logger.InfoContext(ctx, "store opened",
		logKeyConfig, cfg.configPath,
		logKeyDataDir, fileCfg.Store.Path)

	if err := store.Apply(ctx, tx); err != nil {
		return err
	}

	if cfg.dump {
		return dump(ctx, store, out)
	}
	return nil
}

// dump prints one block per stored object.
func dump(ctx context.Context, store *objstore.Store, out io.Writer) error {
	ids, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := dumpObject(ctx, store, out, id); err != nil {
			return fmt.Errorf("dump %s: %w", id, err)
		}
	}
	return nil
}

func dumpObject(
	ctx context.Context,
	store *objstore.Store,
	out io.Writer,
	id pgtx.ObjectID,
) error {
	info, err := store.Stat(ctx, id)
	if err != nil {
		return err
	}
	data, err := store.Read(ctx, id, 0, info.Size)
	if err != nil {
		return err
	}
	attrs, err := store.GetAttrs(ctx, id)
	if err != nil {
		return err
	}
	omap, err := store.GetOmap(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s size=%d snaps=%v\n", id, info.Size, info.Snaps)
	fmt.Fprintf(out, "  data %q\n", data)
	for _, k := range sortedKeys(attrs) {
		fmt.Fprintf(out, "  attr %s=%q\n", k, attrs[k])
	}
	for _, k := range sortedKeys(omap) {
		fmt.Fprintf(out, "  omap %s=%q\n", k, omap[k])
	}
	return nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
