package router

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/protocol"
)

const (
	wrapWidth      = 100
	maxDescription = 60
)

var (
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// Renderer writes router output. Styling and markdown rendering are only
// applied when the output is a terminal.
type Renderer struct {
	w        io.Writer
	styled   bool
	markdown *glamour.TermRenderer
}

// NewRenderer creates a renderer for w.
func NewRenderer(w io.Writer) *Renderer {
	r := &Renderer{w: w}

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		r.styled = true

		style := styles.LightStyleConfig
		if lipgloss.HasDarkBackground() {
			style = styles.DarkStyleConfig
		}

		if md, err := glamour.NewTermRenderer(glamour.WithStyles(style), glamour.WithWordWrap(wrapWidth)); err == nil {
			r.markdown = md
		}
	}

	return r
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}

	return s.Render(text)
}

// Info prints a status line.
func (r *Renderer) Info(format string, args ...any) {
	fmt.Fprintln(r.w, r.style(infoStyle, fmt.Sprintf(format, args...)))
}

// Plain prints text as is.
func (r *Renderer) Plain(text string) {
	fmt.Fprintln(r.w, text)
}

// JSON prints v as indented JSON.
func (r *Renderer) JSON(v any) {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			fmt.Fprintln(r.w, string(raw))
			return
		}

		v = decoded
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(r.w, "%v\n", v)
		return
	}

	fmt.Fprintln(r.w, string(data))
}

// Error prints err as "[CodeName] message".
func (r *Renderer) Error(err error) {
	fmt.Fprintln(r.w, r.style(errorStyle, FormatError(err)))
}

// FormatError renders err with the name of its protocol error code. Errors
// outside the protocol taxonomy show their own message; an attached cause is
// appended.
func FormatError(err error) string {
	rpcErr := errors.ToRPC(err)

	msg := rpcErr.Message
	if _, ok := stderrors.AsType[errors.ToolhostError](err); !ok {
		msg = err.Error()
	} else if data, ok := rpcErr.Data.(map[string]any); ok {
		if cause, ok := data["cause"].(string); ok && cause != "" {
			msg += ": " + cause
		}
	}

	return fmt.Sprintf("[%s] %s", errors.CodeName(rpcErr.Code), msg)
}

// Reply prints an assistant reply, rendering markdown on terminals.
func (r *Renderer) Reply(text string) {
	if r.markdown != nil {
		if out, err := r.markdown.Render(text); err == nil {
			fmt.Fprintln(r.w, strings.TrimRight(out, "\n"))
			return
		}
	}

	fmt.Fprintln(r.w, text)
}

// Tools prints a name/description table.
func (r *Renderer) Tools(title string, tools []*mcp.Tool) {
	fmt.Fprintln(r.w, r.style(headerStyle, fmt.Sprintf("%s (%d)", title, len(tools))))

	width := 0
	for _, t := range tools {
		width = max(width, runewidth.StringWidth(t.Name))
	}

	for _, t := range tools {
		name := runewidth.FillRight(t.Name, width)
		desc := runewidth.Truncate(strings.ReplaceAll(t.Description, "\n", " "), maxDescription, "...")

		fmt.Fprintf(r.w, "  %s  %s\n", r.style(toolStyle, name), r.style(mutedStyle, desc))
	}
}

// Peers prints one status line per peer.
func (r *Renderer) Peers(stats []protocol.Stats) {
	if len(stats) == 0 {
		fmt.Fprintln(r.w, r.style(mutedStyle, "no peers configured"))
		return
	}

	width := 0
	for _, s := range stats {
		width = max(width, runewidth.StringWidth(s.Alias))
	}

	for _, s := range stats {
		fmt.Fprintf(r.w, "  %s  %-11s pid=%-7d outstanding=%d last_id=%d anomalies=%d parse_errors=%d restarts=%d\n",
			r.style(toolStyle, runewidth.FillRight(s.Alias, width)),
			s.State, s.Pid, s.Outstanding, s.LastID, s.Anomalies, s.ParseErrors, s.Restarts)
	}
}
