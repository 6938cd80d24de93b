package syncdaemon

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, isServer bool) *Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	h := New(Options{IsServer: isServer}, logger, bus)
	h.myID = "SELF-ID"
	h.serverSecret = "test-secret"
	return h
}

func TestMutate_RefusesWhenNotServer(t *testing.T) {
	h := newTestHandler(t, false)
	h.configSynced = StateSynced
	err := h.AddServer(context.Background(), "dev1")
	require.ErrorIs(t, err, ErrConfigNotInSync)
}

func TestMutate_RefusesWhenNotSynced(t *testing.T) {
	h := newTestHandler(t, true)
	h.configSynced = StateUnsyncedInitial
	err := h.AddServer(context.Background(), "dev1")
	require.ErrorIs(t, err, ErrConfigNotInSync)
}

func TestAddDevice_Idempotent(t *testing.T) {
	h := newTestHandler(t, true)
	h.configSynced = StateSynced
	h.ownConfigFolderPathOverrideForTest(t)

	require.NoError(t, h.AddDevice(context.Background(), "dev1", "first-name"))
	require.NoError(t, h.AddDevice(context.Background(), "dev1", "second-name"))

	require.Equal(t, "first-name", h.devices["dev1"].Name, "second add must be a no-op per add/add idempotence")
}

func TestRemoveDevice_SchedulesDeletionAndStripsFolders(t *testing.T) {
	h := newTestHandler(t, true)
	h.configSynced = StateSynced
	h.ownConfigFolderPathOverrideForTest(t)

	require.NoError(t, h.AddDevice(context.Background(), "dev1", "n"))
	fid, err := h.AddFolder(context.Background(), "", "label", []string{"dev1"}, nil, "")
	require.NoError(t, err)

	require.NoError(t, h.RemoveDevice(context.Background(), "dev1"))

	require.True(t, h.devices["dev1"].ScheduledForDeletion())
	require.False(t, h.folders[fid].HasDevice("dev1"), "deletion safety: device must never remain in a folder's set")
}

func TestFinalizeDeviceDeletion_RemovesFromModel(t *testing.T) {
	h := newTestHandler(t, true)
	h.configSynced = StateSynced
	h.ownConfigFolderPathOverrideForTest(t)

	require.NoError(t, h.AddDevice(context.Background(), "dev1", "n"))
	require.NoError(t, h.RemoveDevice(context.Background(), "dev1"))

	h.finalizeDeviceDeletion(context.Background(), "dev1")

	_, exists := h.devices["dev1"]
	require.False(t, exists)
}

func TestConfigSyncState_String(t *testing.T) {
	require.Equal(t, "synced", StateSynced.String())
	require.Equal(t, "changing", StateChanging.String())
	require.Equal(t, "unsynced_initial", StateUnsyncedInitial.String())
}

// ownConfigFolderPathOverrideForTest points the handler at a throwaway
// directory so mutate()'s saveConfiguration/saveDeviceConfiguration calls
// have somewhere to write without a real daemon running.
func (h *Handler) ownConfigFolderPathOverrideForTest(t *testing.T) {
	t.Helper()
	h.opts.DataRoot = t.TempDir()
	h.opts.ConfigRoot = t.TempDir()
}
