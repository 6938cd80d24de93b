package syncdaemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pedohorse/lance/internal/syncmodel"
)

const bootstrapFileName = "syncthinghandler_config.json"

// bootstrapCache is the local JSON file described in §4.3.1: "apikey,
// server_secret, servers, devices{id,name}, folders{id,path},
// ignoredDevices". It exists only to survive restarts before the
// synchronized authoritative copy is available.
type bootstrapCache struct {
	APIKey         string                    `json:"apikey"`
	ServerSecret   string                    `json:"server_secret"`
	Servers        []string                  `json:"servers"`
	Devices        []bootstrapDevice         `json:"devices"`
	Folders        map[string]bootstrapFolder `json:"folders"`
	IgnoredDevices []string                  `json:"ignoredDevices"`
}

type bootstrapDevice struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type bootstrapFolder struct {
	Attribs struct {
		Path string `json:"path"`
	} `json:"attribs"`
}

func (h *Handler) bootstrapPath() string {
	return filepath.Join(h.opts.ConfigRoot, bootstrapFileName)
}

// bootstrap resolves identity (§4.3.1): invoke the daemon binary in
// "print identity" mode; if no keys exist, invoke "generate keys" mode
// and synthesize the initial bootstrap cache.
func (h *Handler) bootstrap(ctx context.Context) error {
	if err := os.MkdirAll(h.opts.ConfigRoot, 0o755); err != nil {
		return fmt.Errorf("syncdaemon: config root: %w", err)
	}
	if err := os.MkdirAll(h.opts.DataRoot, 0o755); err != nil {
		return fmt.Errorf("syncdaemon: data root: %w", err)
	}

	myID, err := h.probeIdentity(ctx)
	if err != nil {
		if genErr := h.generateKeys(ctx); genErr != nil {
			return fmt.Errorf("%w: %v", ErrNoInitialConfiguration, genErr)
		}
		myID, err = h.probeIdentity(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoInitialConfiguration, err)
		}
	}
	h.mu.Lock()
	h.myID = myID
	h.mu.Unlock()

	if _, err := os.Stat(h.bootstrapPath()); os.IsNotExist(err) {
		return h.generateInitialConfig(myID)
	}
	return h.loadBootstrap()
}

func (h *Handler) probeIdentity(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, h.opts.BinaryPath, "-home", h.opts.ConfigRoot, "-device-id").CombinedOutput()
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("syncdaemon: empty identity")
	}
	return id, nil
}

func (h *Handler) generateKeys(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, h.opts.BinaryPath, "-home", h.opts.ConfigRoot, "-generate", h.opts.ConfigRoot)
	return cmd.Run()
}

// generateInitialConfig synthesizes api_key/server_secret/self-device per
// §4.3.1 and persists the bootstrap cache.
func (h *Handler) generateInitialConfig(myID string) error {
	// the nonce only needs to be unpredictable and unique per bootstrap,
	// not formatted any particular way, so a UUID serves it directly
	// (§4.3.1 "api_key = hash(my_id || nonce)").
	nonce := uuid.NewString()
	h.mu.Lock()
	h.apiKey = syncmodel.APIKey(myID, nonce)
	h.serverSecret = randomASCII(24)
	h.devices[myID] = &syncmodel.Device{ID: myID, AddedAt: time.Now().UTC()}
	h.servers = map[string]struct{}{}
	h.client.setAPIKey(h.apiKey)
	h.mu.Unlock()
	return h.saveBootstrap()
}

func (h *Handler) loadBootstrap() error {
	data, err := os.ReadFile(h.bootstrapPath())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationError, err)
	}
	var cache bootstrapCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationError, err)
	}
	h.mu.Lock()
	h.apiKey = cache.APIKey
	h.serverSecret = cache.ServerSecret
	h.client.setAPIKey(h.apiKey)
	h.mu.Unlock()
	if h.serverSecret == "" {
		return ErrConfigurationError
	}
	return nil
}

// saveBootstrap always writes the bootstrap cache (§4.3.1).
func (h *Handler) saveBootstrap() error {
	h.mu.Lock()
	cache := bootstrapCache{
		APIKey:       h.apiKey,
		ServerSecret: h.serverSecret,
		Folders:      map[string]bootstrapFolder{},
	}
	for id := range h.servers {
		cache.Servers = append(cache.Servers, id)
	}
	for _, d := range h.devices {
		cache.Devices = append(cache.Devices, bootstrapDevice{ID: d.ID, Name: d.Name})
	}
	for id, f := range h.folders {
		bf := bootstrapFolder{}
		bf.Attribs.Path = f.LocalPath
		cache.Folders[id] = bf
	}
	for id := range h.ignoredDevices {
		cache.IgnoredDevices = append(cache.IgnoredDevices, id)
	}
	h.mu.Unlock()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(h.bootstrapPath(), data, 0o600)
}

func (h *Handler) startProcess(ctx context.Context) error {
	cmd := exec.Command(h.opts.BinaryPath,
		"-home", h.opts.ConfigRoot,
		"-no-browser",
		"-no-restart",
		"-gui-address", h.opts.GUIAddress,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("syncdaemon: start process: %w", err)
	}
	h.proc = cmd
	return nil
}

func (h *Handler) stopProcess() {
	if h.proc == nil || h.proc.Process == nil {
		return
	}
	_ = h.proc.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() { _, _ = h.proc.Process.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = h.proc.Process.Kill()
	}
}

func (h *Handler) syncthingRunning() bool {
	return h.proc != nil && h.proc.Process != nil
}
