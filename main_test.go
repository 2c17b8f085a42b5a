package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngenohkevin/browseruse-agent/config"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "browseruse-agent "+version+"\n", out.String())
}

func TestNewMemoryStore(t *testing.T) {
	cfg := config.LoadWithDefaults()

	cfg.MemoryStore = config.MemoryStoreNone
	store, err := newMemoryStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg.MemoryStore = config.MemoryStoreMemory
	store, err = newMemoryStore(cfg)
	require.NoError(t, err)
	assert.NotNil(t, store)

	cfg.MemoryStore = config.MemoryStoreSQLite
	cfg.SQLitePath = ":memory:"
	store, err = newMemoryStore(cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())
}

func TestNewBrowserProvider(t *testing.T) {
	cfg := config.LoadWithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p, err := newBrowserProvider(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, config.BrowserModeCDP, p.Mode())

	cfg.BrowserMode = config.BrowserModeLaunch
	p, err = newBrowserProvider(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, config.BrowserModeLaunch, p.Mode())
}
