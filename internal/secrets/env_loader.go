package secrets

import "os"

// EnvLoader builds a Loader over the given environment variable names.
// Unset or empty variables are left out of the result so Vault.Get reports
// them as absent.
func EnvLoader(names ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(names))
		for _, name := range names {
			if v := os.Getenv(name); v != "" {
				vals[name] = v
			}
		}
		return vals, nil
	}
}
