// Package syncdaemon implements the sync-daemon handler (spec.md §4.3):
// it owns a child sync-daemon process, maintains bootstrap + authoritative
// configuration, reconciles them on every relevant event, and emits
// higher-level events onto the bus.
package syncdaemon

import (
	"context"
	"crypto/rand"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/pedohorse/lance/internal/eventbus"
	"github.com/pedohorse/lance/internal/metrics"
	"github.com/pedohorse/lance/internal/syncmodel"
	"github.com/pedohorse/lance/internal/worker"
)

// hashCacheSize bounds the per-entity configuration-hash memoization
// cache (§6 "Configuration-hash format"); generous enough to hold every
// device/folder fragment for a project the size this system targets.
const hashCacheSize = 4096

// ConfigSyncState is the config_synced state machine (§4.3.8).
type ConfigSyncState int

const (
	StateUnsyncedInitial ConfigSyncState = iota
	StateChanging
	StateSynced
)

func (s ConfigSyncState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateChanging:
		return "changing"
	default:
		return "unsynced_initial"
	}
}

// Options configures a Handler at construction time.
type Options struct {
	ConfigRoot    string // holds syncthinghandler_config.json
	DataRoot      string // holds server/, control/<id>/, and shared folders
	BinaryPath    string // path to the sync-daemon executable
	GUIAddress    string // host:port the daemon's HTTP API listens on
	ListenAddress string // sync protocol listen address
	IsServer      bool
	MaxRetention  time.Duration // supplemented feature: force-removal window for never-acking devices
}

// deviceSyncState tracks per-device ingestion bookkeeping that is not part
// of the persisted Device model (§4.3.5's "expected hash" / "synced" bits).
type deviceSyncState struct {
	expectedHash string
	synced       bool
}

// Handler is the sync-daemon handler: one per Server process (spec.md
// §3 "Ownership & lifecycle").
type Handler struct {
	opts   Options
	logger *slog.Logger
	bus    *eventbus.Dispatcher
	client *apiClient

	w         *worker.Worker
	hashCache *syncmodel.HashCache

	proc *exec.Cmd

	mu              sync.Mutex
	myID            string
	apiKey          string
	serverSecret    string
	servers         map[string]struct{}
	devices         map[string]*syncmodel.Device
	folders         map[string]*syncmodel.Folder
	ignoredDevices  map[string]struct{}
	devSyncState    map[string]*deviceSyncState
	folderSynced    map[string]bool
	configSynced    ConfigSyncState
	lastEventID     int
	deferSTUpdate   bool
	deferSTRequired bool
	batchDepth      int
}

// New constructs a Handler. The worker loop is started separately via
// Start so callers can wire bus attachment first.
func New(opts Options, logger *slog.Logger, bus *eventbus.Dispatcher) *Handler {
	h := &Handler{
		opts:           opts,
		logger:         logger,
		bus:            bus,
		client:         newAPIClient("http://" + opts.GUIAddress),
		servers:        map[string]struct{}{},
		devices:        map[string]*syncmodel.Device{},
		folders:        map[string]*syncmodel.Folder{},
		ignoredDevices: map[string]struct{}{},
		devSyncState:   map[string]*deviceSyncState{},
		folderSynced:   map[string]bool{},
		configSynced:   StateUnsyncedInitial,
		hashCache:      syncmodel.NewHashCache(hashCacheSize),
	}
	h.w = worker.New(h.step, worker.WithPollInterval(time.Second))
	return h
}

// Start launches the handler's worker loop, which owns both the event
// ingestion long-poll and drains the async-call queue (§4.1, §5).
func (h *Handler) Start(ctx context.Context) error {
	if err := h.bootstrap(ctx); err != nil {
		return err
	}
	if err := h.startProcess(ctx); err != nil {
		return err
	}
	h.watchOutOfBandEdits(ctx)
	h.w.Start(ctx)
	return nil
}

func (h *Handler) Stop() {
	h.w.Stop()
	h.stopProcess()
}

// IsServer reports whether this node belongs to the authoritative server
// set (§3 "Server / Client").
func (h *Handler) IsServer() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts.IsServer
}

// MyID returns this node's daemon-derived device id.
func (h *Handler) MyID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.myID
}

// ConfigSynced reports the current state machine value (§4.3.8).
func (h *Handler) ConfigSynced() ConfigSyncState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.configSynced
}

// setConfigSynced updates the state machine value and reflects it on the
// lance_config_sync_state gauge (internal/metrics).
func (h *Handler) setConfigSynced(s ConfigSyncState) {
	h.configSynced = s
	metrics.ConfigSyncState.Set(float64(s))
}

func (h *Handler) requireSynced() error {
	if h.configSynced != StateSynced {
		return ErrConfigNotInSync
	}
	return nil
}

func (h *Handler) requireServer() error {
	if !h.opts.IsServer {
		return ErrConfigNotInSync
	}
	return nil
}

func randomASCII(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}
