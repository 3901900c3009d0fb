package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dedupv1/dedupv1-go/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Dir = dir
	cfg.OpLog.Path = filepath.Join(dir, "oplog.dat")
	// Memory backends keep the test fast; badger/bolt paths are exercised
	// by pkg/engine's own end-to-end tests.
	cfg.KVIndex.MetadataBackend = "memory"
	cfg.KVIndex.ChunkIndexBackend = "memory"
	cfg.KVIndex.BlockIndexBackend = "memory"
	return cfg
}

func TestBuildWiresAFunctioningEngine(t *testing.T) {
	cfg := testConfig(t)
	sys, err := Build(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = sys.Close() }()

	ctx := context.Background()
	data := make([]byte, int(cfg.Container.Size)/1024)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, sys.Engine.Write(ctx, 1, 0, data))

	got, err := sys.Engine.Read(ctx, 1, 0, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.KVIndex.MetadataBackend = "nosql-du-jour"
	_, err := Build(cfg, nil)
	assert.Error(t, err)
}

func TestCloseTearsDownWithoutError(t *testing.T) {
	cfg := testConfig(t)
	sys, err := Build(cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, sys.Close())
}

// TestRestartRecoversWrittenBlocks rebuilds a System from the same storage
// directory after an orderly shutdown (badger holds an exclusive file lock,
// so a true unclean-shutdown simulation would need to kill -9 a subprocess
// rather than share one process's open handles) and checks that a block
// written before the restart is still readable afterward, exercising
// ReplayDirtyStart against a real, non-empty operation log.
func TestRestartRecoversWrittenBlocks(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Dir = dir
	cfg.OpLog.Path = filepath.Join(dir, "oplog.dat")
	cfg.KVIndex.MetadataBackend = "bolt"
	cfg.KVIndex.ChunkIndexBackend = "badger"
	cfg.KVIndex.BlockIndexBackend = "badger"

	sys, err := Build(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	data := make([]byte, int(cfg.Container.Size)/1024)
	for i := range data {
		data[i] = byte(i + 1)
	}
	require.NoError(t, sys.Engine.Write(ctx, 42, 0, data))
	require.NoError(t, sys.Close())

	sys2, err := Build(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = sys2.Close() }()

	got, err := sys2.Engine.Read(ctx, 42, 0, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
