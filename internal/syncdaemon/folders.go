package syncdaemon

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pedohorse/lance/internal/syncmodel"
)

// readHashFile reads the config_sync/hash file a control folder carries
// once the client has synced its own copy (§4.3.5).
func readHashFile(controlFolderPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(controlFolderPath, "config_sync", "hash"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// controlFolderID/controlFolderPath resolve the "get_config_folder"
// concept from the original: for a server, each device (including
// itself when it is the sole server-configuration owner) gets a
// deterministic control folder; for a client, there is exactly one —
// its own (§6 "Folder-id conventions").
func (h *Handler) controlFolderID(deviceID string) string {
	if deviceID == "" {
		deviceID = h.myID
	}
	return syncmodel.ControlFolderID(h.serverSecret, deviceID)
}

func (h *Handler) controlFolderPath(deviceID string) string {
	if deviceID == "" {
		deviceID = h.myID
	}
	return filepath.Join(h.opts.DataRoot, "control", deviceID)
}

func (h *Handler) serverConfigFolderID() string {
	return syncmodel.ServerConfigurationFolderID(h.serverSecret)
}

func (h *Handler) serverConfigFolderPath() string {
	return filepath.Join(h.opts.DataRoot, "server", "configuration")
}

// ownConfigFolderPath is the config.cfg-bearing folder this node reads
// its own authoritative doc from: the server-configuration folder for a
// server, its own control folder for a client.
func (h *Handler) ownConfigFolderPath() string {
	if h.opts.IsServer {
		return h.serverConfigFolderPath()
	}
	return h.controlFolderPath(h.myID)
}

// controlFoldersByID maps every known device's control folder id to its
// device id, used by the ingestion loop to recognize which control
// folder a daemon event belongs to (§4.3.5).
func (h *Handler) controlFoldersByID() map[string]string {
	out := make(map[string]string, len(h.devices))
	for did := range h.devices {
		out[h.controlFolderID(did)] = did
	}
	return out
}
