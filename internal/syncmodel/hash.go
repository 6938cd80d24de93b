package syncmodel

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
)

// entityHash produces a deterministic fingerprint over a canonical string,
// the Go analogue of the source's `hash(ph)` over a hand-built string —
// fnv-1a is used instead of Python's hash() to get a stable, cross-process
// value (spec.md §9 notes the source itself only needs comparability on
// one process; the hash round-trips through a config.cfg file here, so it
// must be deterministic across processes and restarts).
func entityHash(canonical string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(canonical))
	return h.Sum64()
}

func devicePreHash(d *Device) string {
	ph := d.ID
	if d.Name != "" {
		ph += "::" + d.Name
	}
	return ph
}

func folderPreHash(f *Folder) string {
	ph := f.ID
	if f.Label != "" {
		ph += "::" + f.Label
	}
	var devHash uint64
	for _, id := range f.DeviceList() {
		devHash ^= entityHash(id)
	}
	ph += fmt.Sprintf("::%d", devHash)
	meta, _ := json.Marshal(canonicalizeMetadata(f.Metadata))
	ph += string(meta)
	return ph
}

// DeviceConfigHash hashes a device's non-volatile identity: id and name,
// matching Device.configuration_hash in the original source.
func DeviceConfigHash(d *Device) uint64 {
	return entityHash(devicePreHash(d))
}

// FolderConfigHash hashes a folder's non-volatile identity: id, label, the
// xor of its member device hashes, and its metadata — matching
// Folder.configuration_hash in the original source.
func FolderConfigHash(f *Folder) uint64 {
	return entityHash(folderPreHash(f))
}

// canonicalizeMetadata sorts map keys via json.Marshal's natural behavior;
// Go already marshals map[string]any with sorted keys, so this is a no-op
// placeholder kept for readability at call sites.
func canonicalizeMetadata(m map[string]any) map[string]any {
	return m
}

// xorFold combines a set of hashes the way §6's "Configuration-hash
// format" combines one category of entities ("each component is an xor
// over a per-entity hash that ignores volatile data").
func xorFold(hashes []uint64) uint64 {
	var acc uint64
	for _, h := range hashes {
		acc ^= h
	}
	return acc
}

// ConfigurationHash computes "<servers_xor>:<devices_xor>:<folders_xor>:<ignored_xor>"
// per spec.md §6. serverIDs and ignoredIDs are hashed as plain strings
// (there is no richer entity to hash); devices and folders use their
// respective ConfigHash functions.
func ConfigurationHash(serverIDs []string, devices []*Device, folders []*Folder, ignoredIDs []string) string {
	return configurationHash(serverIDs, devices, folders, ignoredIDs, DeviceConfigHash, FolderConfigHash)
}

func configurationHash(serverIDs []string, devices []*Device, folders []*Folder, ignoredIDs []string, deviceHash func(*Device) uint64, folderHash func(*Folder) uint64) string {
	serverHashes := make([]uint64, len(serverIDs))
	ids := append([]string(nil), serverIDs...)
	sort.Strings(ids)
	for i, id := range ids {
		serverHashes[i] = entityHash(id)
	}

	deviceHashes := make([]uint64, len(devices))
	for i, d := range devices {
		deviceHashes[i] = deviceHash(d)
	}

	folderHashes := make([]uint64, len(folders))
	for i, f := range folders {
		folderHashes[i] = folderHash(f)
	}

	ignored := append([]string(nil), ignoredIDs...)
	sort.Strings(ignored)
	ignoredHashes := make([]uint64, len(ignored))
	for i, id := range ignored {
		ignoredHashes[i] = entityHash(id)
	}

	return fmt.Sprintf("%d:%d:%d:%d",
		xorFold(serverHashes),
		xorFold(deviceHashes),
		xorFold(folderHashes),
		xorFold(ignoredHashes),
	)
}
