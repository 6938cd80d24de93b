package project

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/pedohorse/lance/internal/syncdaemon"
	"github.com/pedohorse/lance/internal/syncmodel"
	"github.com/stretchr/testify/require"
)

func shotPartFolder(project, shotID, shotPartID, folderID string) *syncmodel.Folder {
	meta := map[string]any{
		syncmodel.ShotPartMetadataKey: map[string]any{
			"type": "shotpart", "project": project, "shotid": shotID, "shotpartid": shotPartID,
		},
	}
	return syncmodel.NewFolder(folderID, shotID+":"+shotPartID, "", nil, meta)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExpectedEvent_FiltersByProject(t *testing.T) {
	m := New("showA", nil, testLogger())

	ownFolder := shotPartFolder("showA", "sh010", "main", "f1")
	otherFolder := shotPartFolder("showB", "sh010", "main", "f2")

	require.True(t, m.ExpectedEvent(syncdaemon.FoldersConfigurationEvent{Folders: []*syncmodel.Folder{ownFolder}}))
	require.False(t, m.ExpectedEvent(syncdaemon.FoldersConfigurationEvent{Folders: []*syncmodel.Folder{otherFolder}}))
	require.True(t, m.ExpectedEvent(syncdaemon.ConfigSyncChangedEvent{InSync: true}))
}

func TestOnFoldersAdded_BucketsByShot(t *testing.T) {
	m := New("showA", nil, testLogger())
	f := shotPartFolder("showA", "sh010", "main", "f1")

	m.onFoldersAdded([]*syncmodel.Folder{f})

	shots, err := m.GetShots(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"main"}, shots["sh010"])
}

func TestOnFoldersAdded_Idempotent(t *testing.T) {
	m := New("showA", nil, testLogger())
	f := shotPartFolder("showA", "sh010", "main", "f1")

	m.onFoldersAdded([]*syncmodel.Folder{f})
	m.onFoldersAdded([]*syncmodel.Folder{f})

	shots, _ := m.GetShots(context.Background())
	require.Len(t, shots["sh010"], 1)
}

func TestOnFoldersRemoved_EvictsBucket(t *testing.T) {
	m := New("showA", nil, testLogger())
	f := shotPartFolder("showA", "sh010", "main", "f1")
	m.onFoldersAdded([]*syncmodel.Folder{f})

	m.onFoldersRemoved([]*syncmodel.Folder{f})

	shots, _ := m.GetShots(context.Background())
	require.Empty(t, shots["sh010"])
}

func TestOnFoldersChanged_RebucketsOnShotIDDrift(t *testing.T) {
	m := New("showA", nil, testLogger())
	f := shotPartFolder("showA", "sh010", "main", "f1")
	m.onFoldersAdded([]*syncmodel.Folder{f})

	moved := shotPartFolder("showA", "sh020", "main", "f1")
	m.onFoldersChanged([]*syncmodel.Folder{moved})

	shots, _ := m.GetShots(context.Background())
	require.Empty(t, shots["sh010"])
	require.ElementsMatch(t, []string{"main"}, shots["sh020"])
}

func TestOnFoldersSynced_NonServerConfigBucketsWithoutTouchingHandler(t *testing.T) {
	m := New("showA", nil, testLogger())
	f := shotPartFolder("showA", "sh010", "main", "f1")

	m.onFoldersSynced(context.Background(), []*syncmodel.Folder{f})

	shots, _ := m.GetShots(context.Background())
	require.ElementsMatch(t, []string{"main"}, shots["sh010"])
}

func TestShotsEqual(t *testing.T) {
	a := map[string]map[string]*ShotPart{"sh010": {"main": {FolderID: "f1"}}}
	b := map[string]map[string]*ShotPart{"sh010": {"main": {FolderID: "f1"}}}
	c := map[string]map[string]*ShotPart{"sh010": {"main": {FolderID: "f1"}, "fx": {FolderID: "f2"}}}

	require.True(t, shotsEqual(a, b))
	require.False(t, shotsEqual(a, c))
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeInitialSettings(dir))

	doc, err := readSettings(dir)
	require.NoError(t, err)
	require.Empty(t, doc.Users)

	doc.Users["u1"] = userDTO{ID: "u1", Name: "Alice", DeviceIDs: []string{"dev1"}, Access: [][2]string{{"sh010", "main"}}}
	require.NoError(t, writeSettings(dir, doc))

	reloaded, err := readSettings(dir)
	require.NoError(t, err)
	require.Equal(t, "Alice", reloaded.Users["u1"].Name)

	u := newUser(reloaded.Users["u1"])
	require.True(t, u.HasAccess("sh010", "main"))
	require.False(t, u.HasAccess("sh010", "fx"))
	require.ElementsMatch(t, []string{"dev1"}, u.DeviceList())
}

func TestSettingsPath(t *testing.T) {
	require.Equal(t, filepath.Join("a", "b", "config.cfg"), settingsPath(filepath.Join("a", "b")))
}
