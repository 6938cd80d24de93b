package syncdaemon

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pedohorse/lance/internal/syncmodel"
)

// configDoc is the authoritative JSON document, config.cfg, described in
// §4.3.2: servers + devices + folders (without local path) + ignored
// devices.
type configDoc struct {
	Devices        []syncmodel.DeviceDTO `json:"devices"`
	Servers        []string              `json:"servers"`
	Folders        []syncmodel.FolderDTO `json:"folders"`
	IgnoredDevices []string              `json:"ignoredevices"`
}

func emptyConfigDoc() configDoc {
	return configDoc{Devices: []syncmodel.DeviceDTO{}, Servers: []string{}, Folders: []syncmodel.FolderDTO{}, IgnoredDevices: []string{}}
}

// configFolderPath returns the control/server-configuration folder's own
// "configuration" subdirectory, where config.cfg lives.
func configFolderPath(folderPath string) string {
	return filepath.Join(folderPath, "configuration")
}

func readConfigDoc(folderPath string) (configDoc, error) {
	path := filepath.Join(configFolderPath(folderPath), "config.cfg")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(configFolderPath(folderPath), 0o755); mkErr != nil {
			return configDoc{}, mkErr
		}
		doc := emptyConfigDoc()
		if writeErr := writeConfigDoc(folderPath, doc); writeErr != nil {
			return configDoc{}, writeErr
		}
		return doc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return configDoc{}, err
	}
	var doc configDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return configDoc{}, err
	}
	return doc, nil
}

func writeConfigDoc(folderPath string, doc configDoc) error {
	if err := os.MkdirAll(configFolderPath(folderPath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configFolderPath(folderPath), "config.cfg"), data, 0o644)
}
