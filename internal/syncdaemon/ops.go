package syncdaemon

import (
	"context"
	"fmt"
	"time"

	"github.com/pedohorse/lance/internal/syncmodel"
	"github.com/pedohorse/lance/internal/worker"
)

// snapshot helpers (§4.3.6 "deep-copy snapshot").

// GetDevices returns a deep-copy snapshot of every known device.
func (h *Handler) GetDevices(ctx context.Context) ([]*syncmodel.Device, error) {
	res, err := h.call(ctx, func(context.Context) (any, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		out := make([]*syncmodel.Device, 0, len(h.devices))
		for _, d := range h.devices {
			cp := *d
			out = append(out, &cp)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]*syncmodel.Device), nil
}

// GetServers returns the current server device-id set.
func (h *Handler) GetServers(ctx context.Context) ([]string, error) {
	res, err := h.call(ctx, func(context.Context) (any, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return keysOf(h.servers), nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// GetFolders returns a deep-copy snapshot of every known folder.
func (h *Handler) GetFolders(ctx context.Context) ([]*syncmodel.Folder, error) {
	res, err := h.call(ctx, func(context.Context) (any, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		out := make([]*syncmodel.Folder, 0, len(h.folders))
		for _, f := range h.folders {
			cp := *f
			out = append(out, &cp)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]*syncmodel.Folder), nil
}

// call wraps worker.Call with a plain context-free closure, matching the
// handler's own lock discipline: the mutator runs under h.mu internally.
func (h *Handler) call(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	handle := h.w.Call(ctx, fn)
	return handle.Result()
}

// AddServer adds a device to the server set (§4.3.6).
func (h *Handler) AddServer(ctx context.Context, deviceID string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			h.servers[deviceID] = struct{}{}
			if _, ok := h.devices[deviceID]; !ok {
				h.devices[deviceID] = &syncmodel.Device{ID: deviceID, AddedAt: time.Now().UTC()}
			}
			return nil
		})
	})
	return err
}

// AddDevice adds a new device (§4.3.6).
func (h *Handler) AddDevice(ctx context.Context, deviceID, name string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			if _, ok := h.devices[deviceID]; ok {
				return nil // add/add idempotence (§8)
			}
			h.devices[deviceID] = &syncmodel.Device{ID: deviceID, Name: name, AddedAt: time.Now().UTC()}
			return nil
		})
	})
	return err
}

// RemoveDevice begins the deletion protocol (§4.3.7): remove from every
// folder, set delete_after, save configuration. Physical removal happens
// later in the ingestion loop once the client acks.
func (h *Handler) RemoveDevice(ctx context.Context, deviceID string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			dev, ok := h.devices[deviceID]
			if !ok {
				return fmt.Errorf("syncdaemon: unknown device %s", deviceID)
			}
			for _, f := range h.folders {
				delete(f.Devices, deviceID)
			}
			now := time.Now().UTC()
			dev.DeleteAfter = &now
			if st := h.devSyncState[deviceID]; st != nil {
				st.synced = false
			} else {
				h.devSyncState[deviceID] = &deviceSyncState{}
			}
			return nil
		})
	})
	return err
}

// SetDevices adds an entry for each listed device id the model does not
// hold yet and keeps existing entries as they are; devices missing from
// deviceIDs are not removed (§4.4's rescanConfiguration calls it).
func (h *Handler) SetDevices(ctx context.Context, deviceIDs []string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			wanted := map[string]struct{}{}
			for _, id := range deviceIDs {
				wanted[id] = struct{}{}
				if _, ok := h.devices[id]; !ok {
					h.devices[id] = &syncmodel.Device{ID: id, AddedAt: time.Now().UTC()}
				}
			}
			return nil
		})
	})
	return err
}

// AddFolder creates a shared folder and returns its id (§4.3.6).
func (h *Handler) AddFolder(ctx context.Context, path, label string, devices []string, metadata map[string]any, overrideFID string) (string, error) {
	res, err := h.call(ctx, func(ctx context.Context) (any, error) {
		var fid string
		err := h.mutate(ctx, func() error {
			fid = overrideFID
			if fid == "" {
				fid = syncmodel.NewFolderID()
			}
			h.folders[fid] = syncmodel.NewFolder(fid, label, path, devices, metadata)
			return nil
		})
		return fid, err
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// RemoveFolder deletes a folder from the authoritative configuration.
func (h *Handler) RemoveFolder(ctx context.Context, folderID string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			delete(h.folders, folderID)
			return nil
		})
	})
	return err
}

func (h *Handler) AddDeviceToFolder(ctx context.Context, folderID, deviceID string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			f, ok := h.folders[folderID]
			if !ok {
				return fmt.Errorf("syncdaemon: unknown folder %s", folderID)
			}
			f.Devices[deviceID] = struct{}{}
			return nil
		})
	})
	return err
}

func (h *Handler) RemoveDeviceFromFolder(ctx context.Context, folderID, deviceID string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			f, ok := h.folders[folderID]
			if !ok {
				return fmt.Errorf("syncdaemon: unknown folder %s", folderID)
			}
			delete(f.Devices, deviceID)
			return nil
		})
	})
	return err
}

func (h *Handler) SetFolderDevices(ctx context.Context, folderID string, deviceIDs []string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			f, ok := h.folders[folderID]
			if !ok {
				return fmt.Errorf("syncdaemon: unknown folder %s", folderID)
			}
			set := make(map[string]struct{}, len(deviceIDs))
			for _, id := range deviceIDs {
				set[id] = struct{}{}
			}
			f.Devices = set
			return nil
		})
	})
	return err
}

func (h *Handler) SetDeviceName(ctx context.Context, deviceID, name string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			dev, ok := h.devices[deviceID]
			if !ok {
				return fmt.Errorf("syncdaemon: unknown device %s", deviceID)
			}
			dev.Name = name
			return nil
		})
	})
	return err
}

// SetServerSecret rotates the server secret salt. Folder ids derived from
// the old secret are intentionally left alone here; a full re-derivation
// is out of scope (§9 TODO carried over from the original).
func (h *Handler) SetServerSecret(ctx context.Context, secret string) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		return nil, h.mutate(ctx, func() error {
			h.serverSecret = secret
			return nil
		})
	})
	return err
}

// ReloadConfiguration forces a reconciliation pass.
func (h *Handler) ReloadConfiguration(ctx context.Context) error {
	_, err := h.call(ctx, func(ctx context.Context) (any, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		_, err := h.reloadConfiguration(ctx, false)
		return nil, err
	})
	return err
}

// mutate runs fn under the model lock, guarded by the config_synced
// state machine (§4.3.6 "All server-mutating ops require is_server=true
// and config_in_sync=true"), then persists and re-emits the daemon
// config unless a batch defers it.
func (h *Handler) mutate(ctx context.Context, fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.requireServer(); err != nil {
		return err
	}
	if err := h.requireSynced(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if err := h.saveConfiguration(ctx, true); err != nil {
		return err
	}
	if h.opts.IsServer {
		for did := range h.devices {
			_ = h.saveDeviceConfiguration(ctx, did)
		}
	}
	return nil
}

// Batch opens a method batch on this handler's worker (§4.1, §9): while
// open, save_st_config calls coalesce into a single emission on Commit.
func (h *Handler) Batch() *worker.Batch {
	return worker.NewBatch(h.w)
}

// WithConfigBatch runs fn inside a method batch that also holds
// save_st_config emission until fn returns (§4.3.4: "a single
// save_st_config is emitted on batch exit if any queued mutator
// requested it"), matching the original's ConfigMethodsBatch context
// manager.
func (h *Handler) WithConfigBatch(ctx context.Context, fn func(b *worker.Batch) error) error {
	h.mu.Lock()
	h.deferSTUpdate = true
	h.deferSTRequired = false
	h.mu.Unlock()

	b := h.Batch()
	err := fn(b)
	if err == nil {
		err = b.Commit()
	}

	h.mu.Lock()
	h.deferSTUpdate = false
	required := h.deferSTRequired
	h.mu.Unlock()

	if err != nil {
		return err
	}
	if required {
		return h.saveSTConfig(ctx)
	}
	return nil
}
