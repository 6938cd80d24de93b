package syncdaemon

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
)

// The daemon's native on-disk configuration is XML (spec.md §4.3.4
// "slow path: write the XML/serialized config file directly"). This is
// the one place the daemon's own wire format is touched directly rather
// than through its HTTP API, so encoding/xml is used as-is rather than
// wrapped in a third-party codec — there is no daemon-config schema
// library in the example pack to reach for here (see SPEC_FULL.md §11).

type xmlConfiguration struct {
	XMLName xml.Name      `xml:"configuration"`
	Folders []xmlFolder   `xml:"folder"`
	Devices []xmlDevice   `xml:"device"`
	GUI     xmlGUI        `xml:"gui"`
	Options xmlOptions    `xml:"options"`
}

type xmlFolder struct {
	ID               string           `xml:"id,attr"`
	Label            string           `xml:"label,attr"`
	Path             string           `xml:"path,attr"`
	Type             string           `xml:"type,attr"`
	RescanIntervalS  int              `xml:"rescanIntervalS"`
	FSWatcherEnabled bool             `xml:"fsWatcherEnabled"`
	FSWatcherDelayS  int              `xml:"fsWatcherDelayS"`
	IgnorePerms      bool             `xml:"ignorePerms"`
	AutoNormalize    bool             `xml:"autoNormalize"`
	MaxConflicts     int              `xml:"maxConflicts"`
	Devices          []xmlFolderDevice `xml:"device"`
}

type xmlFolderDevice struct {
	ID string `xml:"id,attr"`
}

type xmlDevice struct {
	ID        string   `xml:"id,attr"`
	Name      string   `xml:"name,attr"`
	Addresses []string `xml:"address"`
}

type xmlGUI struct {
	Enabled bool   `xml:"enabled,attr"`
	TLS     bool   `xml:"tls,attr"`
	Address string `xml:"address"`
	APIKey  string `xml:"apikey"`
}

type xmlOptions struct {
	ListenAddress []string `xml:"listenAddress"`
}

// saveSTConfigSlow writes the daemon's native config.xml directly when
// the daemon process is not running (§4.3.4 "slow path"), then starts it.
func (h *Handler) saveSTConfigSlow() error {
	cfg := xmlConfiguration{
		GUI: xmlGUI{Enabled: true, Address: h.opts.GUIAddress, APIKey: h.apiKey},
		Options: xmlOptions{ListenAddress: []string{h.opts.ListenAddress}},
	}

	if h.opts.IsServer {
		cfg.Folders = append(cfg.Folders, xmlFolder{
			ID: h.serverConfigFolderID(), Label: "server configuration", Path: h.serverConfigFolderPath(),
			Type: "sendreceive", RescanIntervalS: rescanIntervalControlS,
			FSWatcherEnabled: true, FSWatcherDelayS: fsWatcherDelayControlS,
			IgnorePerms: true, AutoNormalize: true,
			Devices: xmlFolderDevices(h.buildFolderDevices()),
		})
		for did, dev := range h.devices {
			if dev.ScheduledForDeletion() {
				continue
			}
			if _, isServer := h.servers[did]; isServer {
				continue
			}
			cfg.Folders = append(cfg.Folders, xmlFolder{
				ID: h.controlFolderID(did), Label: "control for " + did, Path: h.controlFolderPath(did),
				Type: "sendreceive", RescanIntervalS: rescanIntervalControlS,
				FSWatcherEnabled: true, FSWatcherDelayS: fsWatcherDelayControlS,
				IgnorePerms: true, AutoNormalize: true,
				Devices: xmlFolderDevices(h.buildFolderDevices(did)),
			})
		}
	} else {
		cfg.Folders = append(cfg.Folders, xmlFolder{
			ID: h.controlFolderID(h.myID), Label: "control for " + h.myID, Path: h.controlFolderPath(h.myID),
			Type: "sendreceive", RescanIntervalS: rescanIntervalControlS,
			FSWatcherEnabled: true, FSWatcherDelayS: fsWatcherDelayControlS,
			IgnorePerms: true, AutoNormalize: true,
			Devices: xmlFolderDevices(h.buildFolderDevices(h.myID)),
		})
	}

	for fid, f := range h.folders {
		cfg.Folders = append(cfg.Folders, xmlFolder{
			ID: fid, Label: f.Label, Path: f.LocalPath,
			Type: "sendreceive", RescanIntervalS: rescanIntervalSharedS,
			FSWatcherEnabled: true, FSWatcherDelayS: fsWatcherDelaySharedS,
			IgnorePerms: true, AutoNormalize: true,
			Devices: xmlFolderDevices(h.buildFolderDevices(f.DeviceList()...)),
		})
	}

	for id, dev := range h.devices {
		if dev.ScheduledForDeletion() {
			continue
		}
		cfg.Devices = append(cfg.Devices, xmlDevice{ID: id, Name: dev.Name, Addresses: []string{"dynamic"}})
	}

	data, err := xml.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(h.opts.ConfigRoot, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(h.opts.ConfigRoot, "config.xml"), data, 0o600); err != nil {
		return err
	}
	if h.opts.BinaryPath == "" {
		return nil
	}
	return h.startProcess(context.Background())
}

func xmlFolderDevices(refs []stDeviceRef) []xmlFolderDevice {
	out := make([]xmlFolderDevice, 0, len(refs))
	for _, r := range refs {
		out = append(out, xmlFolderDevice{ID: r.DeviceID})
	}
	return out
}
