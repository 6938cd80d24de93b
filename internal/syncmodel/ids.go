package syncmodel

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
)

const folderIDLetters = "abcdefghijklmnopqrstuvwxyz"

// ServerConfigurationFolderID derives the deterministic id of a project's
// server-configuration folder: "server_configuration-<sha1(secret)>", per
// spec.md §6 "Folder-id conventions".
func ServerConfigurationFolderID(secret string) string {
	return "server_configuration-" + sha1Hex(secret)
}

// ControlFolderID derives the deterministic id of a device's per-device
// control folder: "control-<sha1(secret:device_id)>".
func ControlFolderID(secret, deviceID string) string {
	return "control-" + sha1Hex(secret+":"+deviceID)
}

// NewFolderID generates a random, non-deterministic shot-part folder id:
// "folder-<16 lowercase letters>". Shot-part folders carry no identity
// worth deriving, unlike the project's fixed control/server folders.
func NewFolderID() string {
	return "folder-" + randomLetters(16)
}

// APIKey derives the daemon API key from this node's own device id and a
// nonce generated once per bootstrap, matching the source's "hash(my_id || nonce)" scheme:
// api_key := sha1(device_id + ":" + nonce), hex-encoded.
func APIKey(myDeviceID, nonce string) string {
	return sha1Hex(myDeviceID + ":" + nonce)
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomLetters(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader never fails in practice;
		// fall back to a fixed pattern rather than panic.
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = folderIDLetters[int(b)%len(folderIDLetters)]
	}
	return string(out)
}
