package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

const helperEnv = "TOOLHOST_SUBPROCESS_HELPER"

// TestMain turns the test binary into a helper child when helperEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}

	os.Exit(m.Run())
}

func runHelper(mode string) int {
	switch mode {
	case "echo":
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fmt.Fprintln(os.Stdout, scanner.Text())
		}

		return 0

	case "stderr":
		fmt.Fprintln(os.Stderr, "first problem")
		fmt.Fprintln(os.Stderr, "second problem")

		return 3

	case "stubborn":
		// Ignores end of input; only a kill stops it.
		_, _ = io.Copy(io.Discard, os.Stdin)
		time.Sleep(time.Minute)

		return 0

	case "env":
		fmt.Fprintln(os.Stdout, os.Getenv("PEER_GREETING"))

		return 0

	default:
		return 2
	}
}

func helperSpec(t *testing.T, mode string) Spec {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	return Spec{
		Command: exe,
		Env:     map[string]string{helperEnv: mode},
	}
}

func startHelper(t *testing.T, spec Spec) *Process {
	t.Helper()

	p := New(slog.Default(), spec)
	require.NoError(t, p.Start(context.Background()))

	t.Cleanup(func() {
		_ = p.Stop(0)
	})

	return p
}

func TestProcess_EchoRoundTrip(t *testing.T) {
	p := startHelper(t, helperSpec(t, "echo"))
	require.NotZero(t, p.Pid())

	reader := bufio.NewReader(p.Stdout())

	require.NoError(t, p.Send(context.Background(), []byte("hello\n")))

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "hello\n", line)

	require.NoError(t, p.Stop(5*time.Second))
	require.True(t, p.Exited())
	require.NoError(t, p.ExitErr())
}

func TestProcess_ConcurrentSendsAreWholeLines(t *testing.T) {
	p := startHelper(t, helperSpec(t, "echo"))

	const n = 20

	var wg sync.WaitGroup

	for i := range n {
		wg.Go(func() {
			line := fmt.Sprintf("line-%02d-%s\n", i, strings.Repeat("x", 4096))
			require.NoError(t, p.Send(context.Background(), []byte(line)))
		})
	}

	lines := make(chan string, n)

	go func() {
		scanner := bufio.NewScanner(p.Stdout())
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			lines <- scanner.Text()
		}

		close(lines)
	}()

	wg.Wait()

	for range n {
		select {
		case line := <-lines:
			require.True(t, strings.HasPrefix(line, "line-"))
			require.Len(t, line, len("line-00-")+4096)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for echoed lines")
		}
	}
}

func TestProcess_ExitCodeAndStderr(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)

	spec := helperSpec(t, "stderr")
	spec.Stderr = func(line string) {
		mu.Lock()
		defer mu.Unlock()

		lines = append(lines, line)
	}

	p := startHelper(t, spec)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("helper did not exit")
	}

	require.Equal(t, 3, p.ExitCode())
	require.Error(t, p.ExitErr())
	require.Equal(t, "first problem\nsecond problem", p.Stderr())

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []string{"first problem", "second problem"}, lines)
}

func TestProcess_StopKillsAfterGrace(t *testing.T) {
	p := startHelper(t, helperSpec(t, "stubborn"))

	start := time.Now()
	require.NoError(t, p.Stop(200*time.Millisecond))

	require.True(t, p.Exited())
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, -1, p.ExitCode())
}

func TestProcess_EnvOverrides(t *testing.T) {
	spec := helperSpec(t, "env")
	spec.Env["PEER_GREETING"] = "hola"

	p := startHelper(t, spec)

	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	require.Equal(t, "hola\n", string(out))
}

func TestProcess_LifecycleErrors(t *testing.T) {
	p := New(slog.Default(), Spec{Command: "definitely-not-a-real-command-xyz"})

	err := p.Start(context.Background())

	spawnErr, ok := stderrors.AsType[*errors.SpawnError](err)
	require.True(t, ok)
	require.NotEmpty(t, spawnErr.Searched)

	require.ErrorIs(t, p.Send(context.Background(), []byte("x\n")), errors.ErrNotStarted)
	require.NoError(t, p.Stop(time.Second))
	require.NoError(t, p.Kill())

	started := startHelper(t, helperSpec(t, "echo"))
	require.ErrorIs(t, started.Start(context.Background()), errors.ErrAlreadyStarted)

	require.NoError(t, started.CloseStdin())
	require.ErrorIs(t, started.Send(context.Background(), []byte("x\n")), ErrStdinClosed)
}

func TestProcess_SendRespectsCancelledContext(t *testing.T) {
	p := startHelper(t, helperSpec(t, "echo"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, p.Send(ctx, []byte("x\n")), context.Canceled)
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "peer.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	path, err := Resolve("./peer.sh", dir)
	require.NoError(t, err)
	require.Equal(t, script, path)

	path, err = Resolve("peer.sh", dir)
	require.NoError(t, err)
	require.Equal(t, script, path)

	_, err = Resolve("", dir)
	require.Error(t, err)

	_, err = Resolve("./missing.sh", dir)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuildEnvironment(t *testing.T) {
	env := BuildEnvironment(map[string]string{"FOO_PEER": "bar"})
	require.Contains(t, env, "FOO_PEER=bar")
}
