package lanceserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/pedohorse/lance/internal/syncdaemon"
	"github.com/pedohorse/lance/internal/syncmodel"
	"github.com/stretchr/testify/require"
)

func testServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	return New(bus, nil, "/tmp/lance-data", logger)
}

func serverConfigFolder(project string) *syncmodel.Folder {
	return syncmodel.NewFolder("f1", "project: "+project, "", nil, map[string]any{
		"type":    syncmodel.ServerConfigMetadataType,
		"project": project,
	})
}

func TestExpectedEvent_IgnoresUnrelatedFolderKinds(t *testing.T) {
	s := testServer()
	ev := syncdaemon.FoldersConfigurationEvent{Folders: []*syncmodel.Folder{serverConfigFolder("P")}}
	// zero-value kind is not KindFoldersSynced, so this must not match.
	require.False(t, s.ExpectedEvent(ev))
}

func TestExpectedEvent_IgnoresConfigSyncFalse(t *testing.T) {
	s := testServer()
	require.False(t, s.ExpectedEvent(syncdaemon.ConfigSyncChangedEvent{InSync: false}))
}

func TestExpectedEvent_MatchesConfigSyncTrue(t *testing.T) {
	s := testServer()
	require.True(t, s.ExpectedEvent(syncdaemon.ConfigSyncChangedEvent{InSync: true}))
}

func TestProjects_EmptyInitially(t *testing.T) {
	s := testServer()
	require.Empty(t, s.Projects())
	_, ok := s.Project("anything")
	require.False(t, ok)
}
