//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	buildOnce sync.Once
	binDir    string
	errBuild  error
)

// toolpeerBinary builds cmd/toolpeer once per test run.
func toolpeerBinary(t *testing.T) string {
	t.Helper()

	buildOnce.Do(func() {
		binDir, errBuild = os.MkdirTemp("", "toolpeer-bin-*")
		if errBuild != nil {
			return
		}

		name := "toolpeer"
		if runtime.GOOS == "windows" {
			name += ".exe"
		}

		cmd := exec.Command("go", "build", "-o", filepath.Join(binDir, name), "../cmd/toolpeer")
		cmd.Stderr = os.Stderr
		errBuild = cmd.Run()
	})

	require.NoError(t, errBuild, "build toolpeer")

	matches, err := filepath.Glob(filepath.Join(binDir, "toolpeer*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	return matches[0]
}

// skipIfNoGit skips the test if git is not installed.
func skipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}
