package subprocess

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

// Resolve locates the executable for command.
//
// A command containing a path separator is resolved against dir (when
// relative) and must exist. A bare name is searched in PATH, then in dir, then
// in common install locations.
func Resolve(command, dir string) (string, error) {
	if command == "" {
		return "", &errors.SpawnError{Command: command, Err: fmt.Errorf("empty command")}
	}

	if strings.ContainsRune(command, os.PathSeparator) || strings.Contains(command, "/") {
		path := command
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}

		if _, err := os.Stat(path); err != nil {
			return "", &errors.SpawnError{Command: command, Searched: []string{path}, Err: err}
		}

		return path, nil
	}

	searched := make([]string, 0, 5)

	if path, err := exec.LookPath(command); err == nil {
		return path, nil
	}

	searched = append(searched, "$PATH")

	candidates := make([]string, 0, 4)
	if dir != "" {
		candidates = append(candidates, filepath.Join(dir, command))
	}

	candidates = append(candidates,
		filepath.Join("/usr/local/bin", command),
		filepath.Join("/usr/bin", command),
	)

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".local", "bin", command))
	}

	for _, path := range candidates {
		searched = append(searched, path)

		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", &errors.SpawnError{Command: command, Searched: searched, Err: exec.ErrNotFound}
}

// BuildEnvironment returns the current environment with overrides applied.
func BuildEnvironment(overrides map[string]string) []string {
	env := os.Environ()

	for key, value := range overrides {
		env = append(env, key+"="+value)
	}

	return env
}
