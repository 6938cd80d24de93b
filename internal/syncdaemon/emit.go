package syncdaemon

import (
	"context"
	"fmt"
)

// saveSTConfig implements §4.3.4: coalesce under a batch, then pick the
// fast path (daemon running, JSON GET/mutate/POST) or the slow path
// (daemon absent, direct file write) to push the daemon-native
// configuration.
func (h *Handler) saveSTConfig(ctx context.Context) error {
	if h.deferSTUpdate {
		h.deferSTRequired = true
		return nil
	}
	if h.syncthingRunning() {
		return h.saveSTConfigFast(ctx)
	}
	return h.saveSTConfigSlow()
}

// stFolderEntry / stDeviceEntry are the pieces of daemon-native JSON
// configuration this handler owns; other fields returned by GET
// /rest/system/config are passed through untouched.
type stFolderEntry struct {
	ID               string          `json:"id"`
	Label            string          `json:"label"`
	Path             string          `json:"path"`
	Type             string          `json:"type"`
	RescanIntervalS  int             `json:"rescanIntervalS"`
	FSWatcherEnabled bool            `json:"fsWatcherEnabled"`
	FSWatcherDelayS  int             `json:"fsWatcherDelayS"`
	IgnorePerms      bool            `json:"ignorePerms"`
	AutoNormalize    bool            `json:"autoNormalize"`
	MaxConflicts     int             `json:"maxConflicts"`
	Devices          []stDeviceRef   `json:"devices"`
}

type stDeviceRef struct {
	DeviceID string `json:"deviceID"`
}

type stDeviceEntry struct {
	DeviceID    string   `json:"deviceID"`
	Name        string   `json:"name"`
	Compression string   `json:"compression"`
	Introducer  bool     `json:"introducer"`
	Addresses   []string `json:"addresses"`
}

type stGUIConfig struct {
	Enabled   bool   `json:"enabled"`
	TLS       bool   `json:"tls"`
	Debugging bool   `json:"debugging"`
	Address   string `json:"address"`
	APIKey    string `json:"apikey"`
}

type stSystemConfig struct {
	Folders        []stFolderEntry          `json:"folders"`
	Devices        []stDeviceEntry          `json:"devices"`
	IgnoredDevices []stDeviceRef            `json:"ignoredDevices"`
	GUI            stGUIConfig              `json:"gui"`
	Options        map[string]any           `json:"options"`
	Extra          map[string]any           `json:"-"`
}

const (
	rescanIntervalControlS = 3600
	rescanIntervalSharedS  = 3600
	fsWatcherDelayControlS = 5
	fsWatcherDelaySharedS  = 10
)

// buildFolderDevices unions the server set with a folder's members, per
// every folder description in §4.3.4.
func (h *Handler) buildFolderDevices(extra ...string) []stDeviceRef {
	set := map[string]struct{}{}
	for s := range h.servers {
		set[s] = struct{}{}
	}
	for _, e := range extra {
		set[e] = struct{}{}
	}
	out := make([]stDeviceRef, 0, len(set))
	for id := range set {
		out = append(out, stDeviceRef{DeviceID: id})
	}
	return out
}

// saveSTConfigFast is the "fast path": GET current config, mutate our
// folders/devices/gui/ignoredDevices in place, POST back; request a
// restart if the daemon reports it isn't in sync afterwards (§4.3.4 and
// §9's decision to keep this conservative behavior).
func (h *Handler) saveSTConfigFast(ctx context.Context) error {
	var cfg stSystemConfig
	if err := h.client.get(ctx, "/rest/system/config", nil, &cfg); err != nil {
		return fmt.Errorf("syncdaemon: get system config: %w", err)
	}

	folders := map[string]stFolderEntry{}
	for _, f := range cfg.Folders {
		folders[f.ID] = f
	}
	devices := map[string]stDeviceEntry{}
	for _, d := range cfg.Devices {
		devices[d.DeviceID] = d
	}

	keepFolders := map[string]struct{}{}
	keepDevices := map[string]struct{}{}

	upsertDevice := func(id, name string) {
		keepDevices[id] = struct{}{}
		d := devices[id]
		d.DeviceID = id
		d.Name = name
		d.Compression = "metadata"
		hasDynamic := false
		for _, a := range d.Addresses {
			if a == "dynamic" {
				hasDynamic = true
			}
		}
		if !hasDynamic {
			d.Addresses = append(d.Addresses, "dynamic")
		}
		devices[id] = d
	}

	for id, dev := range h.devices {
		if dev.ScheduledForDeletion() {
			continue
		}
		upsertDevice(id, dev.Name)
	}

	if h.opts.IsServer {
		sfid := h.serverConfigFolderID()
		keepFolders[sfid] = struct{}{}
		folders[sfid] = stFolderEntry{
			ID: sfid, Label: "server configuration", Path: h.serverConfigFolderPath(),
			Type: "sendreceive", RescanIntervalS: rescanIntervalControlS,
			FSWatcherEnabled: true, FSWatcherDelayS: fsWatcherDelayControlS,
			IgnorePerms: true, AutoNormalize: true, MaxConflicts: 0,
			Devices: h.buildFolderDevices(),
		}
		for did, dev := range h.devices {
			if dev.ScheduledForDeletion() {
				continue
			}
			if _, isServer := h.servers[did]; isServer {
				continue
			}
			cfid := h.controlFolderID(did)
			keepFolders[cfid] = struct{}{}
			folders[cfid] = stFolderEntry{
				ID: cfid, Label: "control for " + did, Path: h.controlFolderPath(did),
				Type: "sendreceive", RescanIntervalS: rescanIntervalControlS,
				FSWatcherEnabled: true, FSWatcherDelayS: fsWatcherDelayControlS,
				IgnorePerms: true, AutoNormalize: true, MaxConflicts: 0,
				Devices: h.buildFolderDevices(did),
			}
		}
	} else {
		cfid := h.controlFolderID(h.myID)
		keepFolders[cfid] = struct{}{}
		folders[cfid] = stFolderEntry{
			ID: cfid, Label: "control for " + h.myID, Path: h.controlFolderPath(h.myID),
			Type: "sendreceive", RescanIntervalS: rescanIntervalControlS,
			FSWatcherEnabled: true, FSWatcherDelayS: fsWatcherDelayControlS,
			IgnorePerms: true, AutoNormalize: true, MaxConflicts: 0,
			Devices: h.buildFolderDevices(h.myID),
		}
	}

	for fid, f := range h.folders {
		keepFolders[fid] = struct{}{}
		folders[fid] = stFolderEntry{
			ID: fid, Label: f.Label, Path: f.LocalPath,
			Type: "sendreceive", RescanIntervalS: rescanIntervalSharedS,
			FSWatcherEnabled: true, FSWatcherDelayS: fsWatcherDelaySharedS,
			IgnorePerms: true, AutoNormalize: true, MaxConflicts: 0,
			Devices: h.buildFolderDevices(f.DeviceList()...),
		}
	}

	cfg.Folders = cfg.Folders[:0]
	for id := range folders {
		if _, keep := keepFolders[id]; keep {
			cfg.Folders = append(cfg.Folders, folders[id])
		}
	}
	cfg.Devices = cfg.Devices[:0]
	for id := range devices {
		if _, keep := keepDevices[id]; keep {
			cfg.Devices = append(cfg.Devices, devices[id])
		}
	}
	cfg.IgnoredDevices = nil
	for id := range h.ignoredDevices {
		cfg.IgnoredDevices = append(cfg.IgnoredDevices, stDeviceRef{DeviceID: id})
	}
	cfg.GUI.Enabled = true
	cfg.GUI.TLS = false
	cfg.GUI.Address = h.opts.GUIAddress
	cfg.GUI.APIKey = h.apiKey

	if err := h.client.post(ctx, "/rest/system/config", cfg); err != nil {
		return fmt.Errorf("syncdaemon: post system config: %w", err)
	}

	var insync struct {
		ConfigInSync bool `json:"configInSync"`
	}
	if err := h.client.get(ctx, "/rest/system/config/insync", nil, &insync); err == nil && !insync.ConfigInSync {
		_ = h.client.post(ctx, "/rest/system/restart", nil)
	}
	return nil
}
