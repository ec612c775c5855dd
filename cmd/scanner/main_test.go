package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ballot.scanner/internal/config"
	"github.com/banshee-data/ballot.scanner/internal/cvr"
	"github.com/banshee-data/ballot.scanner/internal/db"
	"github.com/banshee-data/ballot.scanner/internal/serialmux"
	"github.com/banshee-data/ballot.scanner/internal/testutil"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.False(t, *devMode)
	assert.Empty(t, *configPath)
	assert.Empty(t, *dbPath)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanner.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDBPath, cfg.GetDBPath())

	cfg, err = loadConfig("", "/tmp/override.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.GetDBPath())

	path := writeConfig(t, `{"db_path": "from-file.db", "scanner_id": "precinct-7"}`)
	cfg, err = loadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "from-file.db", cfg.GetDBPath())
	assert.Equal(t, "precinct-7", cfg.GetScannerID())

	cfg, err = loadConfig(path, "flag.db")
	require.NoError(t, err)
	assert.Equal(t, "flag.db", cfg.GetDBPath())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)
}

func TestPortOpener(t *testing.T) {
	cfg, err := loadConfig("", "")
	require.NoError(t, err)
	opener := portOpener(cfg)
	cmd, ok := opener.(serialmux.CommandOpener)
	require.True(t, ok, "default transport should run plustekctl, got %T", opener)
	assert.Equal(t, config.DefaultPlustekctlPath, cmd.Path)

	path := writeConfig(t, `{"transport": "serial", "device_path": "/dev/ttyUSB0"}`)
	cfg, err = loadConfig(path, "")
	require.NoError(t, err)
	opener = portOpener(cfg)
	ser, ok := opener.(serialmux.SerialOpener)
	require.True(t, ok, "serial transport should open the device, got %T", opener)
	assert.Equal(t, "/dev/ttyUSB0", ser.Path)
}

type fakeBatches struct {
	current  db.Batch
	err      error
	started  []string
	startErr error
}

func (f *fakeBatches) CurrentBatch(context.Context) (db.Batch, error) {
	return f.current, f.err
}

func (f *fakeBatches) StartBatch(_ context.Context, label string) (db.Batch, error) {
	f.started = append(f.started, label)
	return db.Batch{ID: "new-batch", Label: label}, f.startErr
}

func TestInitRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("resumes open batch", func(t *testing.T) {
		cfg, _ := loadConfig("", "")
		store := &fakeBatches{current: db.Batch{ID: "b1", Label: "Morning"}}
		rec := &cvr.Recorder{}
		require.NoError(t, initRecorder(cfg, store, rec)(ctx))
		assert.Equal(t, "b1", rec.BatchID)
		assert.Equal(t, "Morning", rec.BatchLabel)
		assert.Empty(t, store.started)
		assert.Nil(t, rec.Election)
	})

	t.Run("starts batch when none is open", func(t *testing.T) {
		cfg, _ := loadConfig("", "")
		store := &fakeBatches{err: db.ErrNoOpenBatch}
		rec := &cvr.Recorder{}
		require.NoError(t, initRecorder(cfg, store, rec)(ctx))
		assert.Equal(t, []string{config.DefaultBatchLabel}, store.started)
		assert.Equal(t, "new-batch", rec.BatchID)
	})

	t.Run("loads election", func(t *testing.T) {
		electionPath := filepath.Join(t.TempDir(), "election.json")
		require.NoError(t, os.WriteFile(electionPath, testutil.ElectionJSON(), 0o644))
		cfg, err := loadConfig(writeConfig(t, `{"election_path": "`+electionPath+`"}`), "")
		require.NoError(t, err)

		rec := &cvr.Recorder{}
		require.NoError(t, initRecorder(cfg, &fakeBatches{current: db.Batch{ID: "b1"}}, rec)(ctx))
		require.NotNil(t, rec.Election)
		assert.Equal(t, testutil.ElectionDefinition(t).ElectionHash, rec.Election.ElectionHash)
	})

	t.Run("missing election", func(t *testing.T) {
		cfg, err := loadConfig(writeConfig(t, `{"election_path": "/nonexistent/election.json"}`), "")
		require.NoError(t, err)
		err = initRecorder(cfg, &fakeBatches{}, &cvr.Recorder{})(ctx)
		assert.ErrorContains(t, err, "failed to load election")
	})

	t.Run("database error", func(t *testing.T) {
		cfg, _ := loadConfig("", "")
		store := &fakeBatches{err: errors.New("database is locked")}
		err := initRecorder(cfg, store, &cvr.Recorder{})(ctx)
		assert.ErrorContains(t, err, "database is locked")
		assert.Empty(t, store.started)
	})
}
