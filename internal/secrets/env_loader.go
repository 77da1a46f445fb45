package secrets

import (
	"fmt"
	"os"
	"strings"
)

// EnvLoader returns a Loader that reads the given environment variables.
// KEY_FILE, when set, names a file holding the value of KEY (mounted
// container secrets) and wins over KEY. Unset keys are omitted.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if path := os.Getenv(k + "_FILE"); path != "" {
				data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
				if err != nil {
					return nil, fmt.Errorf("read %s_FILE: %w", k, err)
				}
				vals[k] = strings.TrimSpace(string(data))
				continue
			}
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
