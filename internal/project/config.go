package project

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// userDTO is one entry of config.cfg's "users" map (spec.md §3, §4.4).
type userDTO struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	DeviceIDs []string    `json:"deviceids"`
	Access    [][2]string `json:"access"`
}

// settingsDoc is the per-project config.cfg document living in the
// server.configuration folder's root.
type settingsDoc struct {
	Users map[string]userDTO `json:"users"`
}

func settingsPath(folderPath string) string {
	return filepath.Join(folderPath, "config.cfg")
}

func readSettings(folderPath string) (settingsDoc, error) {
	data, err := os.ReadFile(settingsPath(folderPath))
	if err != nil {
		return settingsDoc{}, err
	}
	var doc settingsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return settingsDoc{}, err
	}
	if doc.Users == nil {
		doc.Users = map[string]userDTO{}
	}
	return doc, nil
}

func writeSettings(folderPath string, doc settingsDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath(folderPath), data, 0o644)
}

// writeInitialSettings creates an empty {} config.cfg for a freshly
// created project (spec.md §4.5 "add_project").
func writeInitialSettings(folderPath string) error {
	if err := os.MkdirAll(folderPath, 0o755); err != nil {
		return err
	}
	return writeSettings(folderPath, settingsDoc{Users: map[string]userDTO{}})
}

// CreateProjectSettings is the exported entry point the server container
// uses when it creates a brand-new project's local server-configuration
// folder (spec.md §4.5 "add_project").
func CreateProjectSettings(folderPath string) error {
	return writeInitialSettings(folderPath)
}
