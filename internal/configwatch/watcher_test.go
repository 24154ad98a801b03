package configwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmcp/internal/bus"
)

func TestWatcher_TriggersReloadOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "fleetmcp.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("providers: {}\n"), 0644))

	commandBus := bus.NewCommandBus()
	received := make(chan bus.ReloadConfigurationCommand, 4)
	require.NoError(t, commandBus.Register(bus.ReloadConfigurationCommand{}, func(cmd bus.Command) (interface{}, error) {
		received <- cmd.(bus.ReloadConfigurationCommand)
		return nil, nil
	}))

	w := New(configPath, commandBus)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(configPath, []byte("providers: {a: {}}\n"), 0644))

	select {
	case cmd := <-received:
		assert.Equal(t, configPath, cmd.Path)
		assert.True(t, cmd.Graceful)
	case <-time.After(2 * time.Second):
		t.Fatal("reload command was not sent after file write")
	}
}

func TestWatcher_DebounceCoalescesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "fleetmcp.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("providers: {}\n"), 0644))

	commandBus := bus.NewCommandBus()
	received := make(chan bus.ReloadConfigurationCommand, 8)
	require.NoError(t, commandBus.Register(bus.ReloadConfigurationCommand{}, func(cmd bus.Command) (interface{}, error) {
		received <- cmd.(bus.ReloadConfigurationCommand)
		return nil, nil
	}))

	w := New(configPath, commandBus)
	w.debounce = 100 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(configPath, []byte("providers: {}\n"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, len(received), "rapid successive writes must debounce into a single reload")
}

func TestWatcher_StopIsIdempotentSafeAfterStart(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "fleetmcp.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("providers: {}\n"), 0644))

	commandBus := bus.NewCommandBus()
	require.NoError(t, commandBus.Register(bus.ReloadConfigurationCommand{}, func(bus.Command) (interface{}, error) {
		return nil, nil
	}))

	w := New(configPath, commandBus)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
