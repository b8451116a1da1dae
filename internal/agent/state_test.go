package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreFirstRunMintsDeviceID(t *testing.T) {
	store := NewStateStore(t.TempDir())

	st := store.Load()
	require.NotEmpty(t, st.DeviceID)
	_, err := uuid.Parse(st.DeviceID)
	assert.NoError(t, err, "device id is a uuid")
	assert.Empty(t, st.RoomID)
}

func TestStateStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	st := State{DeviceID: "dev-1", RoomID: "room-1"}
	require.NoError(t, store.Save(st))

	loaded := NewStateStore(dir).Load()
	assert.Equal(t, st, loaded)
}

func TestStateStoreCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	store := NewStateStore(dir)

	require.NoError(t, store.Save(State{DeviceID: "dev-1"}))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStateStoreCorruptFileMintsFreshID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0o600))

	st := NewStateStore(dir).Load()
	assert.NotEmpty(t, st.DeviceID)
}

func TestStateStoreMissingDeviceIDMintsFreshID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte(`{"roomId":"r"}`), 0o600))

	st := NewStateStore(dir).Load()
	assert.NotEmpty(t, st.DeviceID)
	assert.Empty(t, st.RoomID, "room is not trusted without an identity")
}
