package syncmodel

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDevice_SerializeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	del := now.Add(24 * time.Hour)
	d := &Device{
		ID:      "DEVICE1-ID",
		Name:    "workstation",
		AddedAt: now,
		DeleteAfter: &del,
		Volatile: DeviceVolatile{Connected: true, Address: "tcp://10.0.0.1:22000"},
	}

	dto := d.Serialize()
	back := DeserializeDevice(dto)

	require.True(t, d.Equal(back), "round-trip must be equal modulo volatile")
	if diff := cmp.Diff(d.Serialize(), back.Serialize()); diff != "" {
		t.Fatalf("serialize mismatch (-want +got):\n%s", diff)
	}
}

func TestDevice_Equal_IgnoresVolatile(t *testing.T) {
	now := time.Now().UTC()
	a := &Device{ID: "x", Name: "n", AddedAt: now, Volatile: DeviceVolatile{Connected: true}}
	b := &Device{ID: "x", Name: "n", AddedAt: now, Volatile: DeviceVolatile{Connected: false, Address: "1.2.3.4"}}
	require.True(t, a.Equal(b))
}

func TestDevice_Equal_DeleteAfterDiffers(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Hour)
	a := &Device{ID: "x", AddedAt: now, DeleteAfter: &now}
	b := &Device{ID: "x", AddedAt: now, DeleteAfter: &later}
	require.False(t, a.Equal(b))
}

func TestFolder_SerializeRoundTrip(t *testing.T) {
	f := NewFolder("folder-abc", "My Shot", "/data/shots/abc", []string{"dev-b", "dev-a"}, map[string]any{
		ShotPartMetadataKey: map[string]any{
			"type": "shotpart", "project": "proj1", "shotid": "sh01", "shotpartid": "part1",
		},
	})

	dto := f.Serialize(true)
	back := DeserializeFolder(dto)

	require.True(t, f.Equal(back))
	require.Equal(t, []string{"dev-a", "dev-b"}, dto.Devices)

	sp, ok := back.ShotPart()
	require.True(t, ok)
	require.Equal(t, "proj1", sp.Project)
	require.Equal(t, "sh01", sp.ShotID)
}

func TestFolder_Serialize_OmitsPathWhenRequested(t *testing.T) {
	f := NewFolder("id", "label", "/secret/local/path", nil, nil)
	dto := f.Serialize(false)
	require.Empty(t, dto.Path)
}

func TestFolder_Equal_DetectsMetadataDrift(t *testing.T) {
	a := NewFolder("id", "label", "/p", nil, map[string]any{"k": "v"})
	b := NewFolder("id", "label", "/p", nil, map[string]any{"k": "v2"})
	require.False(t, a.Equal(b))
}

func TestFolder_IsServerConfiguration(t *testing.T) {
	f := NewFolder("server_configuration-abc", "proj1 configuration", "/p", nil, map[string]any{
		"type": ServerConfigMetadataType,
	})
	require.True(t, f.IsServerConfiguration())
}

func TestConfigurationHash_StableAndSensitiveToChange(t *testing.T) {
	devs := []*Device{{ID: "d1", Name: "a"}, {ID: "d2", Name: "b"}}
	folders := []*Folder{NewFolder("f1", "F1", "", []string{"d1", "d2"}, nil)}

	h1 := ConfigurationHash([]string{"srv1"}, devs, folders, nil)
	h2 := ConfigurationHash([]string{"srv1"}, devs, folders, nil)
	require.Equal(t, h1, h2, "hash must be deterministic across calls")

	devs2 := append([]*Device{}, devs...)
	devs2[0] = &Device{ID: "d1", Name: "renamed"}
	h3 := ConfigurationHash([]string{"srv1"}, devs2, folders, nil)
	require.NotEqual(t, h1, h3, "renaming a device must change the devices component")
}

func TestConfigurationHash_IgnoresVolatileData(t *testing.T) {
	devs1 := []*Device{{ID: "d1", Name: "a", Volatile: DeviceVolatile{Connected: true}}}
	devs2 := []*Device{{ID: "d1", Name: "a", Volatile: DeviceVolatile{Connected: false, Address: "x"}}}
	require.Equal(t,
		ConfigurationHash(nil, devs1, nil, nil),
		ConfigurationHash(nil, devs2, nil, nil),
	)
}

func TestIDs_DeterministicDerivation(t *testing.T) {
	a := ServerConfigurationFolderID("secret1")
	b := ServerConfigurationFolderID("secret1")
	c := ServerConfigurationFolderID("secret2")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)

	ctrl := ControlFolderID("secret1", "devA")
	require.NotEqual(t, a, ctrl)
	require.Equal(t, ctrl, ControlFolderID("secret1", "devA"))
}

func TestNewFolderID_ShapeAndUniqueness(t *testing.T) {
	a := NewFolderID()
	b := NewFolderID()
	require.Len(t, a, len("folder-")+16)
	require.NotEqual(t, a, b)
}

func TestAPIKey_Deterministic(t *testing.T) {
	k1 := APIKey("myid", "nonce1")
	k2 := APIKey("myid", "nonce1")
	k3 := APIKey("myid", "nonce2")
	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
}
