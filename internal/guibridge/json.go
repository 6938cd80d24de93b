package guibridge

import (
	"encoding/json"
	"io"
)

func writeJSONArray(w io.Writer, names []string) error {
	return json.NewEncoder(w).Encode(names)
}
