package syncmodel

import "maps"

// FolderVolatile carries sync-state fields never part of equality, hash,
// or persisted configuration.
type FolderVolatile struct {
	State         string // e.g. "idle", "syncing", "error"
	NeedTotalItems int
	GlobalBytes   int64
	LocalBytes    int64
	Connected     bool
}

// Folder is a synchronized directory. LocalPath is set only on the node
// that owns a physical copy and is never propagated to peers (spec.md
// §3, §6 "Folder-id conventions").
type Folder struct {
	ID        string
	Label     string
	LocalPath string
	Devices   map[string]struct{}
	Metadata  map[string]any
	Volatile  FolderVolatile
}

// NewFolder builds a Folder with a fresh device set.
func NewFolder(id, label, localPath string, devices []string, metadata map[string]any) *Folder {
	set := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		set[d] = struct{}{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Folder{ID: id, Label: label, LocalPath: localPath, Devices: set, Metadata: metadata}
}

// HasDevice reports membership.
func (f *Folder) HasDevice(id string) bool {
	_, ok := f.Devices[id]
	return ok
}

// DeviceList returns a stable-order copy (sorted) of the member device ids.
func (f *Folder) DeviceList() []string {
	out := make([]string, 0, len(f.Devices))
	for id := range f.Devices {
		out = append(out, id)
	}
	sortStrings(out)
	return out
}

// Equal compares {id,label,path,devices,metadata}, per spec.md §3: "Two
// folders are equal iff {id,label,path,devices,metadata} match."
func (f *Folder) Equal(other *Folder) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.ID != other.ID || f.Label != other.Label || f.LocalPath != other.LocalPath {
		return false
	}
	if len(f.Devices) != len(other.Devices) {
		return false
	}
	for id := range f.Devices {
		if !other.HasDevice(id) {
			return false
		}
	}
	return metadataEqual(f.Metadata, other.Metadata)
}

func metadataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !deepEqualJSON(v, bv) {
			return false
		}
	}
	return true
}

// FolderDTO is the JSON serialization of a Folder. When Serialize is called
// with includePath false, Path is left empty and omitted entirely, matching "without path" client/server
// authoritative config in §4.3.2.
type FolderDTO struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Path     string         `json:"path,omitempty"`
	Devices  []string       `json:"devices"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Serialize produces the DTO. includePath controls whether LocalPath is
// emitted — false for anything destined for the authoritative config.cfg.
func (f *Folder) Serialize(includePath bool) FolderDTO {
	dto := FolderDTO{
		ID:       f.ID,
		Label:    f.Label,
		Devices:  f.DeviceList(),
		Metadata: maps.Clone(f.Metadata),
	}
	if includePath {
		dto.Path = f.LocalPath
	}
	return dto
}

// DeserializeFolder rebuilds a Folder from its DTO.
func DeserializeFolder(dto FolderDTO) *Folder {
	set := make(map[string]struct{}, len(dto.Devices))
	for _, d := range dto.Devices {
		set[d] = struct{}{}
	}
	meta := dto.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return &Folder{ID: dto.ID, Label: dto.Label, LocalPath: dto.Path, Devices: set, Metadata: meta}
}

// ShotPartMetadataKey is the distinguished metadata key marking a folder as
// a shot-part (spec.md §3).
const ShotPartMetadataKey = "__ProjectManager_data__"

// ShotPartData is the value stored at ShotPartMetadataKey.
type ShotPartData struct {
	Type        string `json:"type"`
	Project     string `json:"project"`
	ShotID      string `json:"shotid"`
	ShotPartID  string `json:"shotpartid"`
}

// ShotPart extracts shot-part identity from folder metadata, if present.
func (f *Folder) ShotPart() (ShotPartData, bool) {
	raw, ok := f.Metadata[ShotPartMetadataKey]
	if !ok {
		return ShotPartData{}, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		if sp, ok := raw.(ShotPartData); ok {
			return sp, sp.Type == "shotpart"
		}
		return ShotPartData{}, false
	}
	sp := ShotPartData{
		Type:       stringField(m, "type"),
		Project:    stringField(m, "project"),
		ShotID:     stringField(m, "shotid"),
		ShotPartID: stringField(m, "shotpartid"),
	}
	return sp, sp.Type == "shotpart"
}

// ServerConfigMetadataType is the metadata type value for the folder that
// identifies a project: a server.configuration folder.
const ServerConfigMetadataType = "server.configuration"

// IsServerConfiguration reports whether this folder is a project's
// server-configuration folder.
func (f *Folder) IsServerConfiguration() bool {
	t, _ := f.Metadata["type"].(string)
	return t == ServerConfigMetadataType
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
