package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvUsesEnvironmentOverDefault(t *testing.T) {
	os.Setenv("SIM_BRIDGE_TEST_VAR", "from-env")
	defer os.Unsetenv("SIM_BRIDGE_TEST_VAR")

	out := ExpandEnv("host: ${SIM_BRIDGE_TEST_VAR:fallback}")
	assert.Equal(t, "host: from-env", out)
}

func TestExpandEnvFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("SIM_BRIDGE_TEST_UNSET")
	out := ExpandEnv("host: ${SIM_BRIDGE_TEST_UNSET:fallback}")
	assert.Equal(t, "host: fallback", out)
}

func TestExpandEnvWithoutDefaultAndUnsetYieldsEmpty(t *testing.T) {
	os.Unsetenv("SIM_BRIDGE_TEST_UNSET2")
	out := ExpandEnv("host: ${SIM_BRIDGE_TEST_UNSET2}")
	assert.Equal(t, "host: ", out)
}

func TestLoadAppliesDefaultsAndValidatesBridgeID(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bridge.yaml"
	require.NoError(t, os.WriteFile(path, []byte("simulation_bridge:\n  bridge_id: b1\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "b1", cfg.SimulationBridge.BridgeID)
	assert.Equal(t, 5672, cfg.RabbitMQ.Port)
	assert.Equal(t, "/", cfg.RabbitMQ.VirtualHost)
	assert.Equal(t, 8080, cfg.REST.Port)
	assert.Equal(t, "/message", cfg.REST.InputEndpoint)
}

func TestLoadRejectsMissingBridgeID(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/bridge.yaml"
	require.NoError(t, os.WriteFile(path, []byte("rabbitmq:\n  host: localhost\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRESTConfigTLSEnabled(t *testing.T) {
	cfg := RESTConfig{}
	assert.False(t, cfg.TLSEnabled())

	cfg.CertFile = "cert.pem"
	cfg.KeyFile = "key.pem"
	assert.True(t, cfg.TLSEnabled())
}

func TestReconnectBackoffDoublesPerAttempt(t *testing.T) {
	b := ReconnectBackoff{BaseDelay: 2 * time.Second, MaxAttempts: 5}
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 8*time.Second, b.Delay(3))
}

func TestDefaultReconnectBackoffMatchesSpec(t *testing.T) {
	b := DefaultReconnectBackoff()
	assert.Equal(t, 2*time.Second, b.BaseDelay)
	assert.Equal(t, 5, b.MaxAttempts)
}
