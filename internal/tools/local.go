package tools

import (
	"context"
	"log/slog"

	"github.com/wagiedev/toolhost-go/internal/llm"
	"github.com/wagiedev/toolhost-go/internal/registry"
	"github.com/wagiedev/toolhost-go/internal/sandbox"
)

// Chatter completes chat conversations.
type Chatter interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Response, error)
	Model() string
}

// LocalOptions configures the local tool set.
type LocalOptions struct {
	Sandbox      *sandbox.Sandbox
	LLM          Chatter
	SystemPrompt string
	ReportsDir   string
}

// Local holds dependencies of the host's own tools.
type Local struct {
	log          *slog.Logger
	sandbox      *sandbox.Sandbox
	llm          Chatter
	systemPrompt string
	reportsDir   string
}

// NewLocal creates the local tool set.
func NewLocal(log *slog.Logger, opts LocalOptions) *Local {
	reports := opts.ReportsDir
	if reports == "" {
		reports = "reports"
	}

	return &Local{
		log:          log.With("component", "tools"),
		sandbox:      opts.Sandbox,
		llm:          opts.LLM,
		systemPrompt: opts.SystemPrompt,
		reportsDir:   reports,
	}
}

// Descriptors returns every local tool.
func (l *Local) Descriptors() []registry.Descriptor {
	return []registry.Descriptor{
		sumTool(),
		l.chatTool(),
		l.pdfTool(),
		l.profileTool(),
		l.forecastTool(),
		l.reportTool(),
		l.scaffoldTool(),
	}
}
