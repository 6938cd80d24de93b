// Package syncmodel holds the wire-level data model shared by the
// sync-daemon handler and the project manager: devices, folders, and the
// deterministic ids and hashes used to keep two Lance nodes' views of
// configuration comparable. See spec.md §3 ("Data model") and §6
// ("Configuration-hash format").
package syncmodel

import "time"

// DeviceVolatile carries connection-state fields that are never part of
// equality, hashing, or persisted configuration (spec.md §3).
type DeviceVolatile struct {
	Connected     bool
	Address       string
	ClientName    string
	ClientVersion string
	Paused        bool
}

// Device is one node participating in synchronization. ID is immutable;
// AddedAt discriminates a re-added device (same ID, later AddedAt) from
// the original — §9's design notes call out that AddedAt must be
// persisted verbatim across reloads, never regenerated.
type Device struct {
	ID          string
	Name        string
	AddedAt     time.Time
	DeleteAfter *time.Time
	Volatile    DeviceVolatile
}

// ScheduledForDeletion reports whether DeleteAfter has been set, per the
// deletion protocol in §4.3.7.
func (d *Device) ScheduledForDeletion() bool {
	return d.DeleteAfter != nil
}

// Equal compares two devices ignoring Volatile, matching the law in §8:
// "Device.deserialize(Device.serialize(d)) == d (modulo volatile)".
func (d *Device) Equal(other *Device) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.ID != other.ID || d.Name != other.Name || !d.AddedAt.Equal(other.AddedAt) {
		return false
	}
	switch {
	case d.DeleteAfter == nil && other.DeleteAfter == nil:
		return true
	case d.DeleteAfter == nil || other.DeleteAfter == nil:
		return false
	default:
		return d.DeleteAfter.Equal(*other.DeleteAfter)
	}
}

// DeviceDTO is the JSON serialization of a Device (Device.serialize in the
// source), always excluding Volatile.
type DeviceDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	AddedAt     time.Time  `json:"added_at"`
	DeleteAfter *time.Time `json:"delete_after,omitempty"`
}

// Serialize produces the DTO used both in config.cfg and the bootstrap cache.
func (d *Device) Serialize() DeviceDTO {
	return DeviceDTO{
		ID:          d.ID,
		Name:        d.Name,
		AddedAt:     d.AddedAt,
		DeleteAfter: d.DeleteAfter,
	}
}

// DeserializeDevice rebuilds a Device from its DTO. Volatile is left zero;
// reconciliation preserves it separately by reusing existing identities
// (§4.3.3).
func DeserializeDevice(dto DeviceDTO) *Device {
	return &Device{
		ID:          dto.ID,
		Name:        dto.Name,
		AddedAt:     dto.AddedAt,
		DeleteAfter: dto.DeleteAfter,
	}
}
