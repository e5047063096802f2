package main

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// upsertEnv sets KEY=value lines in a dotenv file, replacing existing keys and
// appending new ones in sorted order. Other lines are preserved.
func upsertEnv(path string, values map[string]string) error {
	var lines []string
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	pending := make(map[string]string, len(values))
	for k, v := range values {
		pending[k] = v
	}
	for i, line := range lines {
		key, _, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if v, found := pending[strings.TrimSpace(key)]; found {
			lines[i] = key + "=" + v
			delete(pending, strings.TrimSpace(key))
		}
	}

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+"="+pending[k])
	}

	content := strings.Join(lines, "\n")
	content = strings.TrimLeft(content, "\n") + "\n"
	return os.WriteFile(path, []byte(content), 0o600)
}
