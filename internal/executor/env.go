package executor

import (
	"os"
	"sort"
)

// quietEnvKeys are copied from the parent environment when present
var quietEnvKeys = []string{"PATH", "HOME", "USER", "LANG", "TERM"}

// QuietEnv builds the whitelisted environment handed to child CLIs.
// PWD is set to dir and PYTHONUNBUFFERED=1 is always added. extra names
// are copied from the parent only when explicitly listed by configuration.
func QuietEnv(dir string, extra ...string) []string {
	return quietEnv(os.LookupEnv, dir, extra...)
}

func quietEnv(lookup func(string) (string, bool), dir string, extra ...string) []string {
	seen := map[string]bool{"PWD": true, "PYTHONUNBUFFERED": true}
	var env []string
	add := func(key string) {
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		if v, ok := lookup(key); ok {
			env = append(env, key+"="+v)
		}
	}

	for _, k := range quietEnvKeys {
		add(k)
	}
	extras := append([]string(nil), extra...)
	sort.Strings(extras)
	for _, k := range extras {
		add(k)
	}

	if dir != "" {
		env = append(env, "PWD="+dir)
	}
	env = append(env, "PYTHONUNBUFFERED=1")
	return env
}
