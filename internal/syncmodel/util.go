package syncmodel

import (
	"encoding/json"
	"sort"
)

func sortStrings(s []string) {
	sort.Strings(s)
}

// deepEqualJSON compares two values the way two independently-decoded JSON
// documents should be compared: by round-tripping both through encoding/json
// and comparing the resulting bytes. This avoids false negatives between,
// say, float64(1) and json.Number("1") produced by different decode paths.
func deepEqualJSON(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var na, nb any
	if err := json.Unmarshal(ab, &na); err != nil {
		return false
	}
	if err := json.Unmarshal(bb, &nb); err != nil {
		return false
	}
	return jsonEqual(na, nb)
}

func jsonEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !jsonEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
