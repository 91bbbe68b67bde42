package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

var moduleName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

const gitignoreTemplate = `/bin/
/reports/
*.log
.env
.DS_Store
`

const mainTemplate = `package main

import "fmt"

func main() {
	fmt.Println("Hello from %s!")
}
`

const readmeTemplate = "# %s\n\nGenerated by `project_scaffold`.\n\n## Layout\n\n```\n%s\n```\n\n## Usage\n\n```bash\ngo run ./cmd/%s\n```\n"

type scaffoldInput struct {
	Dir     string `json:"dir"`
	Name    string `json:"name"`
	WithGit *bool  `json:"with_git"`
}

type scaffoldOutput struct {
	Dir     string          `json:"dir"`
	Created []string        `json:"created"`
	Git     *scaffoldGitRun `json:"git,omitempty"`
}

type scaffoldGitRun struct {
	Initialized bool   `json:"initialized"`
	Committed   bool   `json:"committed"`
	Error       string `json:"error,omitempty"`
}

func (l *Local) scaffoldTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "project_scaffold",
		Description: "Create a Go project skeleton (go.mod, cmd/, internal/, README). Optionally git init and commit.",
		InputSchema: registry.Object(map[string]string{
			"dir":      "string",
			"name":     "string",
			"with_git": "boolean",
		}, "with_git"),
		Handler: l.handleScaffold,
	}
}

func (l *Local) handleScaffold(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[scaffoldInput]("project_scaffold", input)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if !moduleName.MatchString(name) {
		return nil, errors.InvalidParams(fmt.Sprintf("project_scaffold: invalid project name %q", in.Name), nil)
	}

	root, err := l.sandbox.Resolve(in.Dir)
	if err != nil {
		return nil, fileError("project_scaffold", err)
	}

	bin := filepath.Base(name)

	files := []struct {
		rel     string
		content string
	}{
		{"go.mod", fmt.Sprintf("module %s\n\ngo 1.26\n", name)},
		{filepath.Join("cmd", bin, "main.go"), fmt.Sprintf(mainTemplate, name)},
		{filepath.Join("internal", ".keep"), ""},
		{filepath.Join("reports", ".keep"), ""},
		{".gitignore", gitignoreTemplate},
	}

	out := scaffoldOutput{Dir: root}

	for _, file := range files {
		path, err := l.sandbox.WriteFile(filepath.Join(root, file.rel), []byte(file.content))
		if err != nil {
			return nil, fileError("project_scaffold", err)
		}

		out.Created = append(out.Created, path)
	}

	tree, err := treeString(root)
	if err != nil {
		return nil, fmt.Errorf("project_scaffold: %w", err)
	}

	readme, err := l.sandbox.WriteFile(filepath.Join(root, "README.md"), fmt.Appendf(nil, readmeTemplate, name, tree, bin))
	if err != nil {
		return nil, fileError("project_scaffold", err)
	}

	out.Created = append(out.Created, readme)

	if in.WithGit == nil || *in.WithGit {
		out.Git = initRepo(ctx, root, name)
	}

	l.log.Info("project scaffolded", "dir", root, "files", len(out.Created))

	return out, nil
}

// initRepo runs git init, add and commit. Failures are reported in the
// result rather than failing the scaffold.
func initRepo(ctx context.Context, dir, name string) *scaffoldGitRun {
	res := &scaffoldGitRun{}

	if _, err := runGit(ctx, dir, "init"); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Initialized = true

	steps := [][]string{
		{"add", "."},
		{"-c", "user.name=toolhost", "-c", "user.email=toolhost@localhost", "commit", "-m", "scaffold: " + name},
	}

	for _, args := range steps {
		if _, err := runGit(ctx, dir, args...); err != nil {
			res.Error = err.Error()
			return res
		}
	}

	res.Committed = true

	return res
}

func treeString(root string) (string, error) {
	var lines []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == root {
			return nil
		}

		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}

		lines = append(lines, rel)

		return nil
	})
	if err != nil {
		return "", err
	}

	if len(lines) == 0 {
		return "(empty)", nil
	}

	return strings.Join(lines, "\n"), nil
}
