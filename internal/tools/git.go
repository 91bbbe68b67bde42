package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	osexec "os/exec"
	"strconv"
	"strings"

	"github.com/wagiedev/toolhost-go/internal/registry"
)

const defaultLogCount = 10

// Git serves read-only git tools for one working tree.
type Git struct {
	workDir string
}

// NewGit creates git tools operating in workDir.
func NewGit(workDir string) *Git {
	return &Git{workDir: workDir}
}

// Descriptors returns the git tools.
func (g *Git) Descriptors() []registry.Descriptor {
	return []registry.Descriptor{g.statusTool(), g.logTool(), g.diffTool()}
}

// gitResult is the output of one git invocation.
type gitResult struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := osexec.CommandContext(ctx, "git", args...) //nolint:gosec // fixed git subcommands
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func (g *Git) run(ctx context.Context, args ...string) (any, error) {
	out, err := runGit(ctx, g.workDir, args...)
	if err != nil {
		return nil, err
	}

	return gitResult{Command: "git " + strings.Join(args, " "), Output: out}, nil
}

// --- git_status ---

type statusInput struct {
	Short bool `json:"short"`
}

func (g *Git) statusTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "git_status",
		Description: "Show the working tree status.",
		InputSchema: registry.Object(map[string]string{"short": "boolean"}, "short"),
		Handler:     g.handleStatus,
	}
}

func (g *Git) handleStatus(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[statusInput]("git_status", input)
	if err != nil {
		return nil, err
	}

	args := []string{"status"}
	if in.Short {
		args = append(args, "--short", "--branch")
	}

	return g.run(ctx, args...)
}

// --- git_log ---

type logInput struct {
	Count int `json:"count"`
}

func (g *Git) logTool() registry.Descriptor {
	schema := registry.Object(map[string]string{"count": "integer"}, "count")
	schema.Properties["count"].Minimum = ptr(1.0)

	return registry.Descriptor{
		Name:        "git_log",
		Description: "Show recent commits, one per line.",
		InputSchema: schema,
		Handler:     g.handleLog,
	}
}

func (g *Git) handleLog(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[logInput]("git_log", input)
	if err != nil {
		return nil, err
	}

	count := in.Count
	if count <= 0 {
		count = defaultLogCount
	}

	return g.run(ctx, "log", "--pretty=oneline", "-n", strconv.Itoa(count))
}

// --- git_diff ---

type diffInput struct {
	Staged bool   `json:"staged"`
	Path   string `json:"path"`
}

func (g *Git) diffTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "git_diff",
		Description: "Show unstaged or staged changes, optionally limited to a path.",
		InputSchema: registry.Object(map[string]string{"staged": "boolean", "path": "string"}, "staged", "path"),
		Handler:     g.handleDiff,
	}
}

func (g *Git) handleDiff(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[diffInput]("git_diff", input)
	if err != nil {
		return nil, err
	}

	args := []string{"diff"}
	if in.Staged {
		args = append(args, "--cached")
	}

	if in.Path != "" {
		args = append(args, "--", in.Path)
	}

	return g.run(ctx, args...)
}
