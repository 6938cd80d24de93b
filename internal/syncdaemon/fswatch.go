package syncdaemon

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// watchOutOfBandEdits watches ConfigRoot (holding the bootstrap cache file)
// and the configuration directory of this node's own authoritative config
// folder (holding config.cfg) for edits that didn't come through Lance
// itself — an operator hand-editing syncthinghandler_config.json or
// config.cfg during incident response. Both watches are non-recursive. It
// is a defensive supplementary signal only: the daemon's own /events
// long-poll (§4.3.5) remains the authoritative trigger for reconciliation,
// so this watcher only logs write and create events; it triggers no reload
// and does not drive the state machine.
func (h *Handler) watchOutOfBandEdits(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		h.logger.Warn("syncdaemon: out-of-band edit watcher unavailable", "err", err)
		return
	}

	for _, path := range []string{h.opts.ConfigRoot, configFolderPath(h.ownConfigFolderPath())} {
		if err := watcher.Add(path); err != nil {
			h.logger.Debug("syncdaemon: watch path unavailable", "path", path, "err", err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				h.logger.Info("syncdaemon: out-of-band filesystem edit observed", "path", ev.Name, "op", ev.Op.String())
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Debug("syncdaemon: out-of-band watcher error", "err", werr)
			}
		}
	}()
}
