// Package lanceserver wires the event bus, sync-daemon handler, and
// project managers into one running node (spec.md §4.5 "Server
// container"). It owns the bus and hosts the "Project Manager Handler":
// an attached processor that instantiates a project.Manager for every
// project it discovers, either from a FoldersSyncedEvent naming a
// server-configuration folder or from a ConfigSyncChangedEvent that
// requires enumerating the whole snapshot.
package lanceserver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/pedohorse/lance/internal/metrics"
	"github.com/pedohorse/lance/internal/project"
	"github.com/pedohorse/lance/internal/syncdaemon"
	"github.com/pedohorse/lance/internal/syncmodel"
)

// Server is one Lance node's runtime container.
type Server struct {
	*eventbus.BaseProcessor

	bus      *eventbus.Dispatcher
	sth      *syncdaemon.Handler
	dataRoot string
	logger   *slog.Logger

	mu       sync.Mutex
	projects map[string]*project.Manager
}

// New constructs a server container around an already-configured
// sync-daemon handler and bus. dataRoot is where add_project creates new
// projects' local server-configuration folders by default.
func New(bus *eventbus.Dispatcher, sth *syncdaemon.Handler, dataRoot string, logger *slog.Logger) *Server {
	s := &Server{
		bus:      bus,
		sth:      sth,
		dataRoot: dataRoot,
		logger:   logger,
		projects: map[string]*project.Manager{},
	}
	s.BaseProcessor = eventbus.NewBaseProcessor(nil, s.handleEvent)
	return s
}

// Run attaches the server's own processor to the bus, starts it, and
// starts the dispatcher loop. Callers stop via ctx cancellation.
func (s *Server) Run(ctx context.Context) {
	s.bus.Attach(s)
	s.Start(ctx)
	s.bus.Run(ctx)
}

// ExpectedEvent filters to the two event kinds the Project Manager
// Handler reacts to (spec.md §4.5).
func (s *Server) ExpectedEvent(ev eventbus.Event) bool {
	switch e := ev.(type) {
	case syncdaemon.ConfigSyncChangedEvent:
		return e.InSync
	case syncdaemon.FoldersConfigurationEvent:
		if e.Kind() != syncdaemon.KindFoldersSynced {
			return false
		}
		for _, f := range e.Folders {
			if f.IsServerConfiguration() {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (s *Server) handleEvent(ctx context.Context, ev eventbus.Event) {
	switch e := ev.(type) {
	case syncdaemon.ConfigSyncChangedEvent:
		if !e.InSync {
			return
		}
		folders, err := s.sth.GetFolders(ctx)
		if err != nil {
			s.logger.Warn("lanceserver: enumerate folders on config sync failed", "err", err)
			return
		}
		for _, f := range folders {
			if f.IsServerConfiguration() {
				s.ensureProject(ctx, f)
			}
		}

	case syncdaemon.FoldersConfigurationEvent:
		for _, f := range e.Folders {
			if f.IsServerConfiguration() {
				s.ensureProject(ctx, f)
			}
		}
	}
}

func (s *Server) ensureProject(ctx context.Context, folder *syncmodel.Folder) {
	name, _ := folder.Metadata["project"].(string)
	if name == "" {
		return
	}

	s.mu.Lock()
	if _, exists := s.projects[name]; exists {
		s.mu.Unlock()
		return
	}
	pm := project.New(name, s.sth, s.logger)
	s.projects[name] = pm
	metrics.ProjectsTotal.Set(float64(len(s.projects)))
	s.mu.Unlock()

	s.bus.Attach(pm)
	pm.Start(ctx)
	if err := pm.Refresh(ctx); err != nil {
		s.logger.Warn("lanceserver: initial rescan failed", "project", name, "err", err)
	}
}

// Project returns the manager for an already-discovered project, if any.
func (s *Server) Project(name string) (*project.Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.projects[name]
	return pm, ok
}

// Projects returns a snapshot of known project names.
func (s *Server) Projects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.projects))
	for name := range s.projects {
		out = append(out, name)
	}
	return out
}

// AddProject creates a new project's local server-configuration folder
// with an empty {} users document and registers it with the sync
// handler (spec.md §4.5 "add_project"). An empty localPath derives the
// path from dataRoot and SafeProjectSlug(name).
func (s *Server) AddProject(ctx context.Context, name, localPath string) error {
	if !s.sth.IsServer() {
		return fmt.Errorf("lanceserver: add_project requires a server node")
	}
	if localPath == "" {
		localPath = filepath.Join(s.dataRoot, SafeProjectSlug(name))
	}
	if err := project.CreateProjectSettings(localPath); err != nil {
		return err
	}

	fid := fmt.Sprintf("project-%s-%s", SafeProjectSlug(name), syncmodel.NewFolderID())
	meta := map[string]any{
		"type":    syncmodel.ServerConfigMetadataType,
		"project": name,
	}
	_, err := s.sth.AddFolder(ctx, localPath, "project: "+name, nil, meta, fid)
	return err
}
