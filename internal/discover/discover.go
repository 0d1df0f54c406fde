// Package discover enumerates sub-entities of a triage dataset which
// parameterize command generation, currently the user profiles under the
// Users directory of a mounted triage root.
package discover

import (
	"os"
	"sort"
)

// Well-known placeholder profiles which never hold user artefacts.
var excluded = map[string]struct{}{
	"Default": {},
	"Public":  {},
}

// Profiles returns the names of the immediate subdirectories of base,
// excluding the placeholder profiles. A missing or unreadable base yields an
// empty result, not an error: a triage image without a Users directory is a
// dataset with zero profiles. The result is sorted for deterministic command
// ordering.
func Profiles(base string) []string {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, skip := excluded[entry.Name()]; skip {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
