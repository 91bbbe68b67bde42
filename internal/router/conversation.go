package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/toolhost-go/internal/llm"
)

// DefaultPromptChars caps the flattened prompt sent alongside the history.
const DefaultPromptChars = 4000

// Conversation is the ordered, append-only list of chat turns. Reset is the
// only way to drop turns.
type Conversation struct {
	mu    sync.Mutex
	turns []llm.Message
}

// Append adds a turn.
func (c *Conversation) Append(role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, llm.Message{Role: role, Content: content})
}

// Reset drops every turn.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = nil
}

// Turns returns a copy of the history.
func (c *Conversation) Turns() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]llm.Message(nil), c.turns...)
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.turns)
}

// Prompt flattens the history into "ROLE: text" lines. When the result is
// longer than maxChars, the oldest text is dropped and the cut is moved to
// the next line boundary.
func (c *Conversation) Prompt(maxChars int) string {
	turns := c.Turns()

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, strings.ToUpper(t.Role)+": "+strings.TrimSpace(t.Content))
	}

	prompt := strings.Join(lines, "\n")

	r := []rune(prompt)
	if maxChars <= 0 || len(r) <= maxChars {
		return prompt
	}

	prompt = string(r[len(r)-maxChars:])
	if idx := strings.IndexByte(prompt, '\n'); idx > 0 {
		prompt = prompt[idx+1:]
	}

	return prompt
}

// Transcript renders the history as markdown.
func (c *Conversation) Transcript(now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Transcript %s\n\n", now.Format("2006-01-02 15:04:05"))

	for _, t := range c.Turns() {
		heading := "Assistant"
		if t.Role == llm.RoleUser {
			heading = "User"
		}

		fmt.Fprintf(&b, "### %s\n\n%s\n\n", heading, strings.TrimSpace(t.Content))
	}

	return b.String()
}

// Save writes the transcript to path, creating parent directories.
func (c *Conversation) Save(path string, now time.Time) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create transcript dir: %w", err)
	}

	if err := os.WriteFile(path, []byte(c.Transcript(now)), 0o600); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil //nolint:nilerr // the file was written; fall back to the given path
	}

	return abs, nil
}
