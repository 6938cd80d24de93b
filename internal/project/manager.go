package project

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/pedohorse/lance/internal/syncdaemon"
	"github.com/pedohorse/lance/internal/syncmodel"
	"github.com/pedohorse/lance/internal/worker"
	"golang.org/x/sync/errgroup"
)

// ErrInconsistent mirrors ConfigurationInconsistentError: the sync
// handler's folder snapshot could not be reconciled.
var ErrInconsistent = fmt.Errorf("project: configuration inconsistent")

// Manager is one ProjectManager instance (spec.md §4.4): it subscribes
// to the bus filtered to its own project's events and commands the
// sync-daemon handler to realize the intended device-to-folder topology.
type Manager struct {
	*eventbus.BaseProcessor

	name   string
	sth    *syncdaemon.Handler
	logger *slog.Logger

	mu             sync.Mutex
	shots          map[string]map[string]*ShotPart // shotid -> shotpartid -> part
	users          map[string]*User
	settingsFolder *syncmodel.Folder
}

// New constructs a project manager named projectName. Callers attach it to
// the bus and call Start once created by the server container's Project
// Manager Handler processor (spec.md §4.5).
func New(projectName string, sth *syncdaemon.Handler, logger *slog.Logger) *Manager {
	m := &Manager{
		name:   projectName,
		sth:    sth,
		logger: logger,
		shots:  map[string]map[string]*ShotPart{},
		users:  map[string]*User{},
	}
	m.BaseProcessor = eventbus.NewBaseProcessor(nil, m.handleEvent)
	return m
}

// ProjectName returns this manager's project identity.
func (m *Manager) ProjectName() string { return m.name }

// ExpectedEvent filters to FoldersConfigurationEvent ∪ ConfigSyncChangedEvent,
// scoped to this project (spec.md §4.4).
func (m *Manager) ExpectedEvent(ev eventbus.Event) bool {
	switch e := ev.(type) {
	case syncdaemon.ConfigSyncChangedEvent:
		return true
	case syncdaemon.FoldersConfigurationEvent:
		for _, f := range e.Folders {
			if sp, ok := f.ShotPart(); ok && sp.Project == m.name {
				return true
			}
			if f.IsServerConfiguration() {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev eventbus.Event) {
	switch e := ev.(type) {
	case syncdaemon.ConfigSyncChangedEvent:
		if e.InSync {
			if _, err := m.rescanConfiguration(ctx, true); err != nil {
				m.logger.Warn("project: rescan after config sync failed", "project", m.name, "err", err)
			}
		}

	case syncdaemon.FoldersConfigurationEvent:
		switch e.Kind() {
		case syncdaemon.KindFoldersSynced:
			m.onFoldersSynced(ctx, e.Folders)
		case syncdaemon.KindFoldersAdded:
			m.onFoldersAdded(e.Folders)
		case syncdaemon.KindFoldersConfigurationChanged:
			m.onFoldersChanged(e.Folders)
		case syncdaemon.KindFoldersVolatileChanged:
			m.onFoldersVolatile(e.Folders)
		case syncdaemon.KindFoldersRemoved:
			m.onFoldersRemoved(e.Folders)
		}
	}
}

func (m *Manager) onFoldersSynced(ctx context.Context, folders []*syncmodel.Folder) {
	for _, f := range folders {
		if f.IsServerConfiguration() {
			if _, err := m.rescanConfiguration(ctx, true); err != nil {
				m.logger.Warn("project: full rescan failed", "err", err)
			}
			continue
		}
		sp, ok := f.ShotPart()
		if !ok || sp.Project != m.name {
			continue
		}
		m.mu.Lock()
		if m.shots[sp.ShotID] == nil {
			m.shots[sp.ShotID] = map[string]*ShotPart{}
		}
		if _, exists := m.shots[sp.ShotID][sp.ShotPartID]; !exists {
			part, _ := newShotPart(f)
			m.shots[sp.ShotID][sp.ShotPartID] = part
		}
		m.mu.Unlock()
	}
}

func (m *Manager) onFoldersAdded(folders []*syncmodel.Folder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range folders {
		sp, ok := f.ShotPart()
		if !ok || sp.Project != m.name {
			continue
		}
		if m.shots[sp.ShotID] == nil {
			m.shots[sp.ShotID] = map[string]*ShotPart{}
		}
		if _, exists := m.shots[sp.ShotID][sp.ShotPartID]; exists {
			continue
		}
		part, _ := newShotPart(f)
		m.shots[sp.ShotID][sp.ShotPartID] = part
	}
}

func (m *Manager) onFoldersChanged(folders []*syncmodel.Folder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range folders {
		sp, ok := f.ShotPart()
		if !ok || sp.Project != m.name {
			continue
		}
		// evict from any bucket that no longer matches, then re-bucket.
		for shotID, parts := range m.shots {
			for partID, p := range parts {
				if p.FolderID == f.ID && (shotID != sp.ShotID || partID != sp.ShotPartID) {
					delete(parts, partID)
				}
			}
		}
		if m.shots[sp.ShotID] == nil {
			m.shots[sp.ShotID] = map[string]*ShotPart{}
		}
		if _, exists := m.shots[sp.ShotID][sp.ShotPartID]; !exists {
			part, _ := newShotPart(f)
			m.shots[sp.ShotID][sp.ShotPartID] = part
		}
	}
}

func (m *Manager) onFoldersVolatile(folders []*syncmodel.Folder) {
	// Volatile-only changes don't affect bucketing; nothing to do beyond
	// what the sync handler's own snapshot already reflects.
	_ = folders
}

func (m *Manager) onFoldersRemoved(folders []*syncmodel.Folder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range folders {
		for _, parts := range m.shots {
			for partID, p := range parts {
				if p.FolderID == f.ID {
					delete(parts, partID)
				}
			}
		}
	}
}

// rescanConfiguration implements §4.4's seven-step algorithm: pull a
// folder snapshot, classify, read users from settings if requested,
// cross-link access, then batch set_devices + set_folder_devices on the
// sync handler.
func (m *Manager) rescanConfiguration(ctx context.Context, rescanSettings bool) (bool, error) {
	folders, err := m.sth.GetFolders(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInconsistent, err)
	}

	m.mu.Lock()
	oldShots := m.shots
	m.shots = map[string]map[string]*ShotPart{}
	if rescanSettings {
		m.users = map[string]*User{}
		m.settingsFolder = nil
	}

	isServer := m.sth.IsServer()
	if isServer {
		for _, f := range folders {
			if f.IsServerConfiguration() {
				continue
			}
			sp, ok := f.ShotPart()
			if !ok || sp.Project != m.name {
				continue
			}
			if m.shots[sp.ShotID] == nil {
				m.shots[sp.ShotID] = map[string]*ShotPart{}
			}
			part, _ := newShotPart(f)
			m.shots[sp.ShotID][sp.ShotPartID] = part
		}
		for _, f := range folders {
			if !f.IsServerConfiguration() {
				continue
			}
			t, _ := f.Metadata["project"].(string)
			if t != m.name {
				continue
			}
			if rescanSettings {
				m.settingsFolder = f
			}
		}

		if m.settingsFolder != nil && rescanSettings {
			doc, err := readSettings(m.settingsFolder.LocalPath)
			if err == nil {
				for id, dto := range doc.Users {
					if id != dto.ID {
						continue
					}
					m.users[id] = newUser(dto)
				}
			}
		}

		for _, u := range m.users {
			for pair := range u.Access {
				shotID, partID := pair[0], pair[1]
				if parts, ok := m.shots[shotID]; ok {
					if part, ok := parts[partID]; ok {
						part.AddUser(u.ID)
					}
				}
			}
		}
	} else {
		for _, f := range folders {
			sp, ok := f.ShotPart()
			if !ok || sp.Project != m.name {
				continue
			}
			if m.shots[sp.ShotID] == nil {
				m.shots[sp.ShotID] = map[string]*ShotPart{}
			}
			part, _ := newShotPart(f)
			m.shots[sp.ShotID][sp.ShotPartID] = part
		}
	}

	folderDevices := map[string]map[string]struct{}{}
	allDevices := map[string]struct{}{}
	for shotID, parts := range m.shots {
		for _, p := range parts {
			set := map[string]struct{}{}
			for _, uid := range p.Users() {
				if u, ok := m.users[uid]; ok {
					for d := range u.Devices {
						set[d] = struct{}{}
						allDevices[d] = struct{}{}
					}
				}
			}
			folderDevices[p.FolderID] = set
		}
		_ = shotID
	}

	changed := !shotsEqual(oldShots, m.shots)
	m.mu.Unlock()

	if !isServer {
		return changed, nil
	}

	if err := m.pushTopology(ctx, allDevices, folderDevices); err != nil {
		return changed, err
	}
	return changed, nil
}

// configBatchRetryWindow bounds how long a single batched mutator keeps
// retrying after ConfigNotInSyncError before giving up (§4.4 step 7).
const configBatchRetryWindow = 30 * time.Second

// pushTopology realizes step 7 of §4.4: in a single configuration batch,
// set_devices then set_folder_devices per folder, each retried on
// ConfigNotInSyncError. Queuing calls into the batch is safe to fan out
// concurrently since Batch.Call only appends under its own lock.
func (m *Manager) pushTopology(ctx context.Context, allDevices map[string]struct{}, folderDevices map[string]map[string]struct{}) error {
	devList := make([]string, 0, len(allDevices))
	for d := range allDevices {
		devList = append(devList, d)
	}

	return m.sth.WithConfigBatch(ctx, func(b *worker.Batch) error {
		b.Call(func(ctx context.Context) (any, error) {
			return nil, m.sth.SetDevices(ctx, devList)
		}, worker.WithRetry(syncdaemon.IsRetryable, configBatchRetryWindow))

		g, gctx := errgroup.WithContext(ctx)
		for fid, devset := range folderDevices {
			fid, devset := fid, devset
			g.Go(func() error {
				devs := make([]string, 0, len(devset))
				for d := range devset {
					devs = append(devs, d)
				}
				b.Call(func(context.Context) (any, error) {
					return nil, m.sth.SetFolderDevices(gctx, fid, devs)
				}, worker.WithRetry(syncdaemon.IsRetryable, configBatchRetryWindow))
				return nil
			})
		}
		return g.Wait()
	})
}

func shotsEqual(a, b map[string]map[string]*ShotPart) bool {
	if len(a) != len(b) {
		return false
	}
	for shotID, aparts := range a {
		bparts, ok := b[shotID]
		if !ok || len(aparts) != len(bparts) {
			return false
		}
		for partID := range aparts {
			if _, ok := bparts[partID]; !ok {
				return false
			}
		}
	}
	return true
}

// Refresh forces a full rescan, including the users document. The server
// container calls this once right after attaching a freshly created
// manager to the bus, since attaching only affects events from that
// point forward (spec.md §4.5).
func (m *Manager) Refresh(ctx context.Context) error {
	_, err := m.rescanConfiguration(ctx, true)
	return err
}

// AddShot creates a shot-part folder named "main" under shotID (spec.md
// §4.4 "add_shot").
func (m *Manager) AddShot(ctx context.Context, shotName, shotID, path string) error {
	return m.addShotPart(ctx, shotName, shotID, "main", path)
}

func (m *Manager) addShotPart(ctx context.Context, shotName, shotID, shotPartID, path string) error {
	meta := map[string]any{
		syncmodel.ShotPartMetadataKey: map[string]any{
			"type": "shotpart", "project": m.name, "shotid": shotID, "shotpartid": shotPartID,
		},
	}
	fid := fmt.Sprintf("folder-%s-%s-%s-%s", m.name, shotID, shotPartID, syncmodel.NewFolderID())
	label := fmt.Sprintf("%s :%s", shotName, shotPartID)
	_, err := m.sth.AddFolder(ctx, path, label, nil, meta, fid)
	return err
}

// RemoveShot removes every shot-part folder of shotID.
func (m *Manager) RemoveShot(ctx context.Context, shotID string) error {
	m.mu.Lock()
	parts := m.shots[shotID]
	m.mu.Unlock()
	if parts == nil {
		return nil
	}
	return m.sth.WithConfigBatch(ctx, func(b *worker.Batch) error {
		for _, p := range parts {
			fid := p.FolderID
			b.Call(func(ctx context.Context) (any, error) {
				return nil, m.sth.RemoveFolder(ctx, fid)
			})
		}
		return nil
	})
}

// RemoveShotPart removes a single shot-part's folder.
func (m *Manager) RemoveShotPart(ctx context.Context, folderID string) error {
	return m.sth.RemoveFolder(ctx, folderID)
}

// GetShots returns a snapshot of shotid -> list of shotpartids.
func (m *Manager) GetShots(ctx context.Context) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string, len(m.shots))
	for shotID, parts := range m.shots {
		for partID := range parts {
			out[shotID] = append(out[shotID], partID)
		}
	}
	return out, nil
}

// GetUsers returns a snapshot of the project's users.
func (m *Manager) GetUsers(ctx context.Context) (map[string]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*User, len(m.users))
	for id, u := range m.users {
		cp := *u
		out[id] = &cp
	}
	return out, nil
}

// AddUser registers a new user in config.cfg and rescans (§4.4).
func (m *Manager) AddUser(ctx context.Context, id, name string, devices []string, access [][2]string) error {
	m.mu.Lock()
	folder := m.settingsFolder
	m.mu.Unlock()
	if folder == nil {
		return fmt.Errorf("project: only a server with a loaded settings folder can add users")
	}
	doc, err := readSettings(folder.LocalPath)
	if err != nil {
		doc = settingsDoc{Users: map[string]userDTO{}}
	}
	if _, exists := doc.Users[id]; exists {
		return nil
	}
	doc.Users[id] = userDTO{ID: id, Name: name, DeviceIDs: devices, Access: access}
	if err := writeSettings(folder.LocalPath, doc); err != nil {
		return err
	}
	_, err = m.rescanConfiguration(ctx, true)
	return err
}

// RemoveUser deletes a user from config.cfg and rescans.
func (m *Manager) RemoveUser(ctx context.Context, id string) error {
	m.mu.Lock()
	folder := m.settingsFolder
	m.mu.Unlock()
	if folder == nil {
		return fmt.Errorf("project: only a server with a loaded settings folder can remove users")
	}
	doc, err := readSettings(folder.LocalPath)
	if err != nil {
		return err
	}
	delete(doc.Users, id)
	if err := writeSettings(folder.LocalPath, doc); err != nil {
		return err
	}
	_, err = m.rescanConfiguration(ctx, true)
	return err
}

func (m *Manager) mutateUserDevices(ctx context.Context, userID string, mutate func(u *User)) error {
	m.mu.Lock()
	folder := m.settingsFolder
	u, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("project: user %s does not exist", userID)
	}
	mutate(u)

	if folder == nil {
		return fmt.Errorf("project: no settings folder loaded")
	}
	doc, err := readSettings(folder.LocalPath)
	if err != nil {
		return err
	}
	dto := doc.Users[userID]
	dto.DeviceIDs = u.DeviceList()
	doc.Users[userID] = dto
	if err := writeSettings(folder.LocalPath, doc); err != nil {
		return err
	}
	_, err = m.rescanConfiguration(ctx, true)
	return err
}

// AddDevicesToUser adds devices to an existing user's device set.
func (m *Manager) AddDevicesToUser(ctx context.Context, userID string, devices []string) error {
	return m.mutateUserDevices(ctx, userID, func(u *User) {
		for _, d := range devices {
			u.Devices[d] = struct{}{}
		}
	})
}

// RemoveDevicesFromUser removes devices from an existing user's device set.
func (m *Manager) RemoveDevicesFromUser(ctx context.Context, userID string, devices []string) error {
	return m.mutateUserDevices(ctx, userID, func(u *User) {
		for _, d := range devices {
			delete(u.Devices, d)
		}
	})
}

