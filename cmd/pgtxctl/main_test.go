package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/i5heu/ouroboros-pgtx/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = `
steps:
  - op: write
    object: {pool: 1, name: greeting}
    data: hello
  - op: setattr
    object: {pool: 1, name: greeting}
    name: owner
    value: alice
  - op: omap_setkeys
    object: {pool: 1, name: other}
    keys: {k: v}
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_DryRunPrintsPlan(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), ctlConfig{
		scriptPath: writeScript(t, testScript),
		dryRun:     true,
	}, config.Default(), discardLogger(), &out)
	require.NoError(t, err)
	assert.Equal(t, "1:greeting@head\n1:other@head\n", out.String())
}

func TestRun_ApplyAndDump(t *testing.T) {
	fileCfg := config.Default()
	cfg := ctlConfig{
		scriptPath: writeScript(t, testScript),
		inMemory:   true,
		dump:       true,
	}
	cfg.apply(&fileCfg)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, fileCfg, discardLogger(), &out))

	assert.Contains(t, out.String(), "1:greeting@head size=5 snaps=[]\n  data \"hello\"\n  attr owner=\"alice\"\n")
	assert.Contains(t, out.String(), "1:other@head size=0 snaps=[]\n  data \"\"\n  omap k=\"v\"\n")
}

func TestRun_OnDisk(t *testing.T) {
	fileCfg := config.Default()
	cfg := ctlConfig{
		scriptPath: writeScript(t, "steps:\n  - op: write\n    object: {name: a}\n    data: xyz\n"),
		dataPath:   filepath.Join(t.TempDir(), "store"),
		dump:       true,
	}
	cfg.apply(&fileCfg)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, fileCfg, discardLogger(), &out))
	assert.Contains(t, out.String(), "0:a@head size=3")
}

func TestRun_Errors(t *testing.T) {
	err := run(context.Background(), ctlConfig{}, config.Default(), discardLogger(), io.Discard)
	require.Error(t, err)

	bad := writeScript(t, "steps:\n  - op: remove\n    object: {name: a}\n  - op: nop\n    object: {name: a}\n")
	err = run(context.Background(), ctlConfig{scriptPath: bad, dryRun: true},
		config.Default(), discardLogger(), io.Discard)
	require.Error(t, err)
}

func TestCtlConfig_Apply(t *testing.T) {
	fc := config.Default()
	ctlConfig{dataPath: "/tmp/x", inMemory: true, debug: true}.apply(&fc)
	assert.Equal(t, "/tmp/x", fc.Store.Path)
	assert.True(t, fc.Store.InMemory)
	assert.Equal(t, "debug", fc.Log.Level)
}
