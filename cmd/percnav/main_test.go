package main

import (
	"testing"

	"github.com/dgmato/PercutaneousNavigation/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "", *configFile)
	assert.Equal(t, "", *listen)
	assert.Equal(t, 0, *pcapPort)
	assert.False(t, *showVersion)
}

func TestApplyFlagOverrides(t *testing.T) {
	t.Cleanup(func() { *listen, *dbPath = "", "" })
	*listen = ":9090"
	*dbPath = "other.db"

	cfg := config.DefaultConfig()
	applyFlagOverrides(cfg)

	assert.Equal(t, ":9090", cfg.GetListen())
	assert.Equal(t, "other.db", cfg.GetDBPath())
	assert.Equal(t, config.DefaultConfig().GetGRPCListen(), cfg.GetGRPCListen())
}

func TestUDPPortOf(t *testing.T) {
	port, err := udpPortOf(":7600")
	require.NoError(t, err)
	assert.Equal(t, 7600, port)

	_, err = udpPortOf("")
	assert.Error(t, err)
}
