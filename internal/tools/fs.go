package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/wagiedev/toolhost-go/internal/registry"
	"github.com/wagiedev/toolhost-go/internal/sandbox"
)

// FS serves filesystem tools confined to a sandbox.
type FS struct {
	sandbox *sandbox.Sandbox
}

// NewFS creates filesystem tools.
func NewFS(sb *sandbox.Sandbox) *FS {
	return &FS{sandbox: sb}
}

// Descriptors returns the filesystem tools.
func (f *FS) Descriptors() []registry.Descriptor {
	return []registry.Descriptor{
		f.readTool(),
		f.writeTool(),
		f.listTool(),
		f.mkdirTool(),
		f.diffTool(),
	}
}

// --- fs_read ---

type readInput struct {
	Path string `json:"path"`
}

type readOutput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Bytes   int    `json:"bytes"`
}

func (f *FS) readTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "fs_read",
		Description: "Read a text file.",
		InputSchema: registry.Object(map[string]string{"path": "string"}),
		Handler:     f.handleRead,
	}
}

func (f *FS) handleRead(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[readInput]("fs_read", input)
	if err != nil {
		return nil, err
	}

	data, err := f.sandbox.ReadFile(in.Path)
	if err != nil {
		return nil, fileError("fs_read", err)
	}

	return readOutput{Path: in.Path, Content: string(data), Bytes: len(data)}, nil
}

// --- fs_write ---

type writeInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type writeOutput struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

func (f *FS) writeTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "fs_write",
		Description: "Write a text file, creating parent directories.",
		InputSchema: registry.Object(map[string]string{"path": "string", "content": "string"}),
		Handler:     f.handleWrite,
	}
}

func (f *FS) handleWrite(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[writeInput]("fs_write", input)
	if err != nil {
		return nil, err
	}

	path, err := f.sandbox.WriteFile(in.Path, []byte(in.Content))
	if err != nil {
		return nil, fileError("fs_write", err)
	}

	return writeOutput{Path: path, Bytes: len(in.Content)}, nil
}

// --- fs_list ---

type listInput struct {
	Path string `json:"path"`
}

type listEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type listOutput struct {
	Path    string      `json:"path"`
	Entries []listEntry `json:"entries"`
}

func (f *FS) listTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "fs_list",
		Description: "List a directory. Defaults to the sandbox base.",
		InputSchema: registry.Object(map[string]string{"path": "string"}, "path"),
		Handler:     f.handleList,
	}
}

func (f *FS) handleList(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[listInput]("fs_list", input)
	if err != nil {
		return nil, err
	}

	path := in.Path
	if path == "" {
		path = "."
	}

	abs, err := f.sandbox.Resolve(path)
	if err != nil {
		return nil, fileError("fs_list", err)
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fileError("fs_list", err)
	}

	entries := make([]listEntry, 0, len(dirEntries))

	for _, de := range dirEntries {
		e := listEntry{Name: de.Name(), Type: "file"}

		if de.IsDir() {
			e.Type = "dir"
		} else if info, err := de.Info(); err == nil {
			e.Size = info.Size()
		}

		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return listOutput{Path: abs, Entries: entries}, nil
}

// --- fs_mkdir ---

type mkdirInput struct {
	Path string `json:"path"`
}

type mkdirOutput struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

func (f *FS) mkdirTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "fs_mkdir",
		Description: "Create a directory and any missing parents.",
		InputSchema: registry.Object(map[string]string{"path": "string"}),
		Handler:     f.handleMkdir,
	}
}

func (f *FS) handleMkdir(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[mkdirInput]("fs_mkdir", input)
	if err != nil {
		return nil, err
	}

	abs, err := f.sandbox.Resolve(in.Path)
	if err != nil {
		return nil, fileError("fs_mkdir", err)
	}

	_, statErr := os.Stat(abs)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fileError("fs_mkdir", err)
	}

	return mkdirOutput{Path: abs, Created: created}, nil
}

// --- fs_diff ---

type fsDiffInput struct {
	FileA string `json:"file_a"`
	FileB string `json:"file_b"`
}

type fsDiffOutput struct {
	Identical bool   `json:"identical"`
	Diff      string `json:"diff"`
}

func (f *FS) diffTool() registry.Descriptor {
	return registry.Descriptor{
		Name:        "fs_diff",
		Description: "Show a unified diff between two files.",
		InputSchema: registry.Object(map[string]string{"file_a": "string", "file_b": "string"}),
		Handler:     f.handleDiff,
	}
}

func (f *FS) handleDiff(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decode[fsDiffInput]("fs_diff", input)
	if err != nil {
		return nil, err
	}

	dataA, err := f.sandbox.ReadFile(in.FileA)
	if err != nil {
		return nil, fileError("fs_diff", err)
	}

	dataB, err := f.sandbox.ReadFile(in.FileB)
	if err != nil {
		return nil, fileError("fs_diff", err)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(dataA)),
		B:        difflib.SplitLines(string(dataB)),
		FromFile: filepath.ToSlash(in.FileA),
		ToFile:   filepath.ToSlash(in.FileB),
		Context:  3,
	}

	result, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return nil, fmt.Errorf("fs_diff: %w", err)
	}

	return fsDiffOutput{Identical: result == "", Diff: result}, nil
}
