package sandbox

import (
	"os"
	"sort"
)

// DefaultPath is used when the host has no PATH set
const DefaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// SanitizedEnv builds a minimal environment rooted at dir.
//
// Only PATH is inherited from the host. HOME and TMPDIR point at the ephemeral
// workspace, and extra is merged on top in a stable order.
func SanitizedEnv(dir string, extra map[string]string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = DefaultPath
	}

	vars := map[string]string{
		"PATH":   path,
		"HOME":   dir,
		"TMPDIR": dir,
	}
	for k, v := range extra {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}
