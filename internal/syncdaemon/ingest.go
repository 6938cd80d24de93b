package syncdaemon

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/pedohorse/lance/internal/metrics"
	"github.com/pedohorse/lance/internal/syncmodel"
	"github.com/pedohorse/lance/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// daemonEvent mirrors one element of GET /rest/events (§6).
type daemonEvent struct {
	ID   int            `json:"id"`
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data"`
}

func (e daemonEvent) str(key string) string {
	v, _ := e.Data[key].(string)
	return v
}

func (e daemonEvent) hasError() bool {
	if e.Data["error"] != nil {
		return true
	}
	return false
}

// step is the worker's cooperative "load": long-poll for daemon events
// and run the ingestion state machine table from §4.3.5. It is invoked
// repeatedly by Worker.loop, interleaved with draining the async-call
// queue (§4.1).
func (h *Handler) step(ctx context.Context) error {
	if !h.syncthingRunning() {
		return nil
	}

	h.enforceMaxRetention(ctx)

	query := url.Values{}
	query.Set("since", strconv.Itoa(h.lastEventID))
	query.Set("timeout", "2")

	var events []daemonEvent
	if err := h.client.get(ctx, "/rest/events", query, &events); err != nil {
		h.logger.Debug("syncdaemon: event poll failed", "err", err)
		return nil
	}
	if len(events) == 0 {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ev := range events {
		if ev.ID > h.lastEventID {
			h.lastEventID = ev.ID
		}
		if ev.hasError() {
			continue
		}
		evCtx, span := tracing.StartSpan(ctx, "syncdaemon.handle_daemon_event", attribute.String("daemon_event_type", ev.Type))
		h.handleDaemonEvent(evCtx, ev)
		span.End()
	}
	return nil
}

func (h *Handler) handleDaemonEvent(ctx context.Context, ev daemonEvent) {
	controlFolders := map[string]string{}
	if h.opts.IsServer {
		controlFolders = h.controlFoldersByID()
	}

	switch {
	case ev.Type == "StartupComplete":
		h.onStartupComplete(ctx)

	case h.configSynced == StateSynced && ev.Type == "ItemStarted" &&
		ev.str("folder") == configFolderIDForThisNode(h) &&
		ev.str("type") == "file" && ev.str("item") == "configuration/config.cfg" && ev.str("action") != "metadata":
		h.setConfigSynced(StateChanging)
		h.bus.Publish(ConfigSyncChangedEvent{InSync: false})

	case h.configSynced != StateSynced && ev.Type == "ItemFinished" &&
		ev.str("folder") == configFolderIDForThisNode(h) &&
		ev.str("type") == "file" && ev.str("item") == "configuration/config.cfg" && ev.str("action") != "metadata":
		if _, err := h.reloadConfiguration(ctx, false); err != nil {
			h.logger.Warn("syncdaemon: reload after sync failed, staying unsynced", "err", err)
			h.setConfigSynced(StateChanging)
		} else {
			h.setConfigSynced(StateSynced)
			_ = h.saveBootstrap()
			h.bus.Publish(ConfigSyncChangedEvent{InSync: true})
		}

	case h.opts.IsServer && ev.Type == "ItemFinished" && isControlFolder(controlFolders, ev.str("folder")) && ev.str("action") != "metadata":
		h.onControlFolderItemFinished(ctx, ev, controlFolders)

	case ev.Type == "ItemStarted" && h.isTrackedFolder(ev.str("folder")) && ev.str("type") == "file" && ev.str("action") != "metadata":
		h.folderSynced[ev.str("folder")] = false

	case ev.Type == "FolderSummary" && h.isTrackedFolder(ev.str("folder")) && !h.folderSynced[ev.str("folder")]:
		h.onFolderSummary(ev)

	case ev.Type == "DeviceConnected":
		h.onDeviceConnected(ev)

	case ev.Type == "DeviceDisconnected":
		h.onDeviceDisconnected(ev)

	case ev.Type == "DeviceDiscovered":
		h.onDeviceDiscovered(ev)

	default:
		h.bus.Publish(RawEvent{Type: ev.Type, Data: ev.Data})
	}
}

func configFolderIDForThisNode(h *Handler) string {
	if h.opts.IsServer {
		return h.serverConfigFolderID()
	}
	return h.controlFolderID(h.myID)
}

func isControlFolder(controlFolders map[string]string, fid string) bool {
	_, ok := controlFolders[fid]
	return ok
}

func (h *Handler) isTrackedFolder(fid string) bool {
	_, ok := h.folders[fid]
	return ok
}

// onStartupComplete implements the "StartupComplete" row: probe the
// config folder's db/file status, derive in-sync from global==local
// version, reload on transition to synced, and recover from a missing
// config (404) by regenerating and restarting.
func (h *Handler) onStartupComplete(ctx context.Context) {
	query := url.Values{}
	query.Set("folder", configFolderIDForThisNode(h))
	query.Set("file", "configuration/config.cfg")

	var status struct {
		Global struct{ Version int64 } `json:"global"`
		Local  struct{ Version int64 } `json:"local"`
	}
	err := h.client.get(ctx, "/rest/db/file", query, &status)
	if err != nil {
		if hse, ok := err.(*httpStatusError); ok && hse.code == 404 {
			h.logger.Error("syncdaemon: daemon config was not properly initialized, regenerating")
			h.stopProcess()
			_ = h.generateInitialConfig(h.myID)
			_ = h.startProcess(ctx)
			return
		}
		h.logger.Warn("syncdaemon: probing config folder status failed", "err", err)
		return
	}

	synced := status.Global.Version == status.Local.Version
	wasSynced := h.configSynced == StateSynced
	if wasSynced == synced {
		return
	}
	if synced {
		if _, err := h.reloadConfiguration(ctx, false); err != nil {
			h.logger.Warn("syncdaemon: reload on startup-complete failed", "err", err)
			h.setConfigSynced(StateChanging)
			return
		}
		h.setConfigSynced(StateSynced)
	} else {
		h.setConfigSynced(StateChanging)
	}
	h.bus.Publish(ConfigSyncChangedEvent{InSync: h.configSynced == StateSynced})
}

// onControlFolderItemFinished implements the two ItemFinished rows for a
// per-device control folder: config_sync/hash (deletion-protocol ack)
// and configuration/config.cfg (re-added-device clock-skew check).
func (h *Handler) onControlFolderItemFinished(ctx context.Context, ev daemonEvent, controlFolders map[string]string) {
	did := controlFolders[ev.str("folder")]
	dev, ok := h.devices[did]
	if !ok {
		return
	}

	switch ev.str("item") {
	case "config_sync/hash":
		state := h.devSyncState[did]
		if state == nil {
			state = &deviceSyncState{}
			h.devSyncState[did] = state
		}
		if state.synced {
			return
		}
		expected := h.hashCache.ConfigurationHash(keysOf(h.servers), valuesOfDevices(h.devices), valuesOfFolders(h.folders), keysOf(h.ignoredDevices))
		state.expectedHash = expected
		// the file is read directly since it is this node's own local
		// copy of the synced control folder (§4.3.5).
		actual, err := readHashFile(h.controlFolderPath(did))
		if err != nil {
			h.logger.Debug("syncdaemon: could not read just-synced config hash", "device", did, "err", err)
			return
		}
		if actual != expected {
			h.logger.Debug("syncdaemon: device config hash differs from expected, waiting", "device", did)
			return
		}
		state.synced = true
		if dev.ScheduledForDeletion() {
			h.finalizeDeviceDeletion(ctx, did)
		}

	case "configuration/config.cfg":
		query := url.Values{}
		query.Set("folder", ev.str("folder"))
		query.Set("file", ev.str("item"))
		var stat struct {
			Global struct {
				Modified time.Time `json:"modified"`
			} `json:"global"`
		}
		if err := h.client.get(ctx, "/rest/db/file", query, &stat); err != nil {
			h.logger.Warn("syncdaemon: could not stat control folder config file", "err", err)
			return
		}
		if stat.Global.Modified.Before(dev.AddedAt) {
			h.logger.Warn("syncdaemon: device config predates device add time, re-saving", "device", did)
			_ = h.saveDeviceConfiguration(ctx, did)
		}
	}
}

// finalizeDeviceDeletion completes the protocol from §4.3.7 step 4: the
// client has acknowledged its own eviction, so the device is now
// physically removed from the model and persisted.
func (h *Handler) finalizeDeviceDeletion(ctx context.Context, did string) {
	delete(h.devices, did)
	delete(h.devSyncState, did)
	_ = h.saveConfiguration(ctx, true)
	metrics.DeviceDeletionsTotal.WithLabelValues("acknowledged").Inc()
	h.logger.Info("syncdaemon: device safe to forget, deletion complete", "device", did)
}

// enforceMaxRetention implements the supplemented maximum-retention-window
// feature (spec.md §9's open question, resolved in SPEC_FULL.md §12): a
// device scheduled for deletion that never comes online to acknowledge it
// is force-removed once MaxRetention has elapsed, rather than lingering
// in the model forever.
func (h *Handler) enforceMaxRetention(ctx context.Context) {
	if h.opts.MaxRetention <= 0 {
		return
	}
	h.mu.Lock()
	var expired []string
	now := time.Now().UTC()
	for id, d := range h.devices {
		if d.DeleteAfter != nil && now.Sub(*d.DeleteAfter) > h.opts.MaxRetention {
			expired = append(expired, id)
		}
	}
	h.mu.Unlock()

	for _, id := range expired {
		h.mu.Lock()
		delete(h.devices, id)
		delete(h.devSyncState, id)
		h.mu.Unlock()
		metrics.DeviceDeletionsTotal.WithLabelValues("forced_retention_expired").Inc()
		h.logger.Warn("syncdaemon: device force-removed after exceeding max retention window, never acknowledged deletion", "device", id)
	}
	if len(expired) > 0 {
		_ = h.saveConfiguration(ctx, true)
	}
}

func (h *Handler) onFolderSummary(ev daemonEvent) {
	fid := ev.str("folder")
	folder, ok := h.folders[fid]
	if !ok {
		return
	}
	summary, _ := ev.Data["summary"].(map[string]any)
	state, _ := summary["state"].(string)
	needTotal, _ := summary["needTotalItems"].(float64)
	globalBytes, _ := summary["globalBytes"].(float64)
	localBytes, _ := summary["inSyncBytes"].(float64)

	folder.Volatile.State = state
	folder.Volatile.NeedTotalItems = int(needTotal)
	folder.Volatile.GlobalBytes = int64(globalBytes)
	folder.Volatile.LocalBytes = int64(localBytes)

	h.bus.Publish(newFoldersEvent(KindFoldersVolatileChanged, "syncthing::event", []*syncmodel.Folder{folder}))

	if int(needTotal) == 0 {
		h.folderSynced[fid] = true
		h.bus.Publish(newFoldersEvent(KindFoldersSynced, "syncthing::event", []*syncmodel.Folder{folder}))
	}
}

func (h *Handler) onDeviceConnected(ev daemonEvent) {
	did := ev.str("id")
	dev, ok := h.devices[did]
	if !ok {
		return
	}
	dev.Volatile.Connected = true
	if addr, ok := ev.Data["addr"].(string); ok {
		dev.Volatile.Address = addr
	}
	h.bus.Publish(newDevicesEvent(KindDevicesVolatile, "syncthing::event", []*syncmodel.Device{dev}))
}

func (h *Handler) onDeviceDisconnected(ev daemonEvent) {
	did := ev.str("id")
	dev, ok := h.devices[did]
	if !ok {
		return
	}
	dev.Volatile.Connected = false
	h.bus.Publish(newDevicesEvent(KindDevicesVolatile, "syncthing::event", []*syncmodel.Device{dev}))
}

func (h *Handler) onDeviceDiscovered(ev daemonEvent) {
	did := ev.str("device")
	dev, ok := h.devices[did]
	if !ok {
		return
	}
	h.bus.Publish(newDevicesEvent(KindDevicesVolatile, "syncthing::event", []*syncmodel.Device{dev}))
}
