package syncdaemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pedohorse/lance/internal/metrics"
	"github.com/pedohorse/lance/internal/syncmodel"
	"github.com/pedohorse/lance/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// reloadConfiguration implements §4.3.3: read bootstrap (optionally),
// read the authoritative config.cfg, rebuild devices/folders/servers/
// ignored maps reusing existing object identities, and emit the
// corresponding set-difference events.
func (h *Handler) reloadConfiguration(ctx context.Context, useBootstrap bool) (changed bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "syncdaemon.reload_configuration",
		attribute.Bool("use_bootstrap", useBootstrap), attribute.Bool("is_server", h.opts.IsServer))
	defer func() {
		tracing.SetSpanError(span, err)
		span.End()
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	if useBootstrap {
		if err := h.loadBootstrap(); err != nil {
			return false, err
		}
	}

	oldServers := h.servers
	oldDevices := h.devices
	oldFolders := h.folders
	oldIgnored := h.ignoredDevices

	if !useBootstrap {
		h.servers = map[string]struct{}{}
	}

	doc, err := readConfigDoc(h.ownConfigFolderPath())
	if err != nil {
		h.servers, h.devices, h.folders, h.ignoredDevices = oldServers, oldDevices, oldFolders, oldIgnored
		return false, err
	}

	newServers := map[string]struct{}{}
	for s := range h.servers {
		newServers[s] = struct{}{}
	}
	for _, s := range doc.Servers {
		newServers[s] = struct{}{}
	}

	newDevices := map[string]*syncmodel.Device{}
	for _, dto := range doc.Devices {
		newDevices[dto.ID] = syncmodel.DeserializeDevice(dto)
	}
	for srv := range newServers {
		if _, ok := newDevices[srv]; !ok {
			newDevices[srv] = &syncmodel.Device{ID: srv}
		}
	}

	newFolders := map[string]*syncmodel.Folder{}
	for _, dto := range doc.Folders {
		f := syncmodel.DeserializeFolder(dto)
		if f.LocalPath == "" {
			f.LocalPath = filepath.Join(h.opts.DataRoot, f.Label)
		}
		newFolders[f.ID] = f
	}

	newIgnored := map[string]struct{}{}
	for _, id := range doc.IgnoredDevices {
		newIgnored[id] = struct{}{}
	}

	// reuse existing identities, mutating in place (§4.3.3 "reusing
	// existing object identities").
	changed := false
	for id, nd := range newDevices {
		if od, ok := oldDevices[id]; ok {
			if !od.Equal(nd) {
				changed = true
			}
			od.Name = nd.Name
			od.AddedAt = nd.AddedAt
			od.DeleteAfter = nd.DeleteAfter
			newDevices[id] = od
		} else {
			changed = true
		}
	}
	for id, nf := range newFolders {
		if of, ok := oldFolders[id]; ok {
			if !of.Equal(nf) {
				changed = true
			}
			of.Label = nf.Label
			of.Devices = nf.Devices
			of.Metadata = nf.Metadata
			newFolders[id] = of
		} else {
			changed = true
		}
	}
	if !setEqualDevices(oldDevices, newDevices) || !setEqualFolders(oldFolders, newFolders) {
		changed = true
	}
	if !stringSetEqual(oldServers, newServers) || !stringSetEqual(oldIgnored, newIgnored) {
		changed = true
	}

	h.servers = newServers
	h.devices = newDevices
	h.folders = newFolders
	h.ignoredDevices = newIgnored

	if !h.opts.IsServer {
		h.removeOrphanedClientFolders(oldFolders)
		if err := h.writeClientConfigHash(); err != nil {
			h.logger.Warn("syncdaemon: failed writing client config hash", "err", err)
		}
	}

	if changed {
		if err := h.saveSTConfig(ctx); err != nil {
			return false, err
		}
		if h.opts.IsServer {
			for did := range h.devices {
				if err := h.saveDeviceConfiguration(ctx, did); err != nil {
					h.logger.Warn("syncdaemon: save device configuration failed", "device", did, "err", err)
				}
			}
		}
	}

	h.emitReconciliationEvents(oldDevices, oldFolders)
	h.reportInventoryMetrics()

	if h.configSynced != StateSynced && len(h.servers) <= 1 {
		h.setConfigSynced(StateSynced)
		h.bus.Publish(ConfigSyncChangedEvent{InSync: true})
	}

	return changed, nil
}

// reportInventoryMetrics refreshes the devices/folders gauges after a
// reconciliation pass.
func (h *Handler) reportInventoryMetrics() {
	metrics.DevicesTotal.Set(float64(len(h.devices)))
	var synced, unsynced float64
	for id := range h.folders {
		if h.folderSynced[id] {
			synced++
		} else {
			unsynced++
		}
	}
	metrics.FoldersTotal.WithLabelValues("true").Set(synced)
	metrics.FoldersTotal.WithLabelValues("false").Set(unsynced)
}

// removeOrphanedClientFolders implements "on a client, when a folder
// disappears from the authoritative list, delete the corresponding
// on-disk folder" (§4.3.3), sanity-checked by a .stfolder marker.
func (h *Handler) removeOrphanedClientFolders(oldFolders map[string]*syncmodel.Folder) {
	for id, of := range oldFolders {
		if _, stillPresent := h.folders[id]; stillPresent || of.LocalPath == "" {
			continue
		}
		marker := filepath.Join(of.LocalPath, ".stfolder")
		if _, err := os.Stat(marker); err != nil {
			h.logger.Warn("syncdaemon: refusing to remove folder lacking .stfolder marker", "path", of.LocalPath)
			continue
		}
		if err := os.RemoveAll(of.LocalPath); err != nil {
			h.logger.Error("syncdaemon: failed removing revoked folder", "path", of.LocalPath, "err", err)
			continue
		}
		h.logger.Info("syncdaemon: removed folder as server closed access to it", "path", of.LocalPath)
	}
}

// writeClientConfigHash writes control_folder/config_sync/hash, the
// client-emitted fingerprint servers watch for (§4.3.3, §6).
func (h *Handler) writeClientConfigHash() error {
	hash := h.hashCache.ConfigurationHash(keysOf(h.servers), valuesOfDevices(h.devices), valuesOfFolders(h.folders), keysOf(h.ignoredDevices))
	dir := filepath.Join(h.ownConfigFolderPath(), "config_sync")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "hash"), []byte(hash), 0o644)
}

func (h *Handler) emitReconciliationEvents(oldDevices map[string]*syncmodel.Device, oldFolders map[string]*syncmodel.Folder) {
	var added, removed, changedDevs []*syncmodel.Device
	for id, d := range h.devices {
		if _, ok := oldDevices[id]; !ok {
			added = append(added, d)
		}
	}
	for id, d := range oldDevices {
		if _, ok := h.devices[id]; !ok {
			removed = append(removed, d)
		}
	}
	for id, d := range h.devices {
		if od, ok := oldDevices[id]; ok && !od.Equal(d) {
			changedDevs = append(changedDevs, d)
		}
	}
	if len(added) > 0 {
		h.bus.Publish(newDevicesEvent(KindDevicesAdded, "reload_configuration", added))
	}
	if len(removed) > 0 {
		h.bus.Publish(newDevicesEvent(KindDevicesRemoved, "reload_configuration", removed))
	}
	if len(changedDevs) > 0 {
		h.bus.Publish(newDevicesEvent(KindDevicesChanged, "reload_configuration", changedDevs))
	}

	var addedF, removedF, changedF []*syncmodel.Folder
	for id, f := range h.folders {
		if _, ok := oldFolders[id]; !ok {
			addedF = append(addedF, f)
		}
	}
	for id, f := range oldFolders {
		if _, ok := h.folders[id]; !ok {
			removedF = append(removedF, f)
		}
	}
	for id, f := range h.folders {
		if of, ok := oldFolders[id]; ok && !of.Equal(f) {
			changedF = append(changedF, f)
		}
	}
	if len(addedF) > 0 {
		h.bus.Publish(newFoldersEvent(KindFoldersAdded, "reload_configuration", addedF))
	}
	if len(removedF) > 0 {
		h.bus.Publish(newFoldersEvent(KindFoldersRemoved, "reload_configuration", removedF))
	}
	if len(changedF) > 0 {
		h.bus.Publish(newFoldersEvent(KindFoldersConfigurationChanged, "reload_configuration", changedF))
	}
}

func setEqualDevices(a, b map[string]*syncmodel.Device) bool {
	if len(a) != len(b) {
		return false
	}
	for id, da := range a {
		db, ok := b[id]
		if !ok || !da.Equal(db) {
			return false
		}
	}
	return true
}

func setEqualFolders(a, b map[string]*syncmodel.Folder) bool {
	if len(a) != len(b) {
		return false
	}
	for id, fa := range a {
		fb, ok := b[id]
		if !ok || !fa.Equal(fb) {
			return false
		}
	}
	return true
}

func stringSetEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func keysOf(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func valuesOfDevices(m map[string]*syncmodel.Device) []*syncmodel.Device {
	out := make([]*syncmodel.Device, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func valuesOfFolders(m map[string]*syncmodel.Folder) []*syncmodel.Folder {
	out := make([]*syncmodel.Folder, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// saveDeviceConfiguration rewrites a single device's control-folder
// config.cfg; used on reconciliation and on the re-added-device
// clock-skew corner case (§4.3.5, §9).
func (h *Handler) saveDeviceConfiguration(ctx context.Context, deviceID string) error {
	if !h.opts.IsServer {
		return fmt.Errorf("syncdaemon: only a server saves device configuration")
	}
	if _, ok := h.devices[deviceID]; !ok {
		return fmt.Errorf("syncdaemon: unknown device %s", deviceID)
	}
	if _, isServer := h.servers[deviceID]; isServer {
		return nil // servers don't have a control folder written for them
	}

	doc := configDoc{Servers: keysOf(h.servers), IgnoredDevices: keysOf(h.ignoredDevices)}
	for _, d := range h.devices {
		if d.ScheduledForDeletion() {
			continue
		}
		doc.Devices = append(doc.Devices, d.Serialize())
	}
	for _, f := range h.folders {
		if !f.HasDevice(deviceID) {
			continue
		}
		doc.Folders = append(doc.Folders, f.Serialize(false))
	}
	return writeConfigDoc(h.controlFolderPath(deviceID), doc)
}

// saveConfiguration persists the authoritative config.cfg for this node
// (server-configuration folder for a server, own control folder for a
// client never writes it — only a server writes client control docs).
func (h *Handler) saveConfiguration(ctx context.Context, triggerSTConfig bool) error {
	doc := configDoc{Servers: keysOf(h.servers), IgnoredDevices: keysOf(h.ignoredDevices)}
	for _, d := range h.devices {
		doc.Devices = append(doc.Devices, d.Serialize())
	}
	for _, f := range h.folders {
		doc.Folders = append(doc.Folders, f.Serialize(false))
	}
	if err := writeConfigDoc(h.ownConfigFolderPath(), doc); err != nil {
		return err
	}
	if triggerSTConfig {
		return h.saveSTConfig(context.Background())
	}
	return nil
}
