package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaultsMaintenanceModeOff(t *testing.T) {
	os.Unsetenv("DEBUGAGENT_MAINTENANCE_MODE")
	cfg := Load()
	assert.False(t, cfg.MaintenanceMode)
	assert.NotEmpty(t, cfg.MaintenanceMessage)
}

func TestLoadReadsMaintenanceModeFromEnv(t *testing.T) {
	os.Setenv("DEBUGAGENT_MAINTENANCE_MODE", "true")
	defer os.Unsetenv("DEBUGAGENT_MAINTENANCE_MODE")

	cfg := Load()
	assert.True(t, cfg.MaintenanceMode)
}
