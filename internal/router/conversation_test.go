package router

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolhost-go/internal/llm"
)

func TestConversation_Prompt(t *testing.T) {
	t.Parallel()

	var c Conversation

	c.Append(llm.RoleUser, "first question")
	c.Append(llm.RoleAssistant, " first answer ")
	c.Append(llm.RoleUser, "second question")

	require.Equal(t, 3, c.Len())
	require.Equal(t, "USER: first question\nASSISTANT: first answer\nUSER: second question", c.Prompt(0))

	// The cut lands on a line boundary so no turn is split.
	require.Equal(t, "USER: second question", c.Prompt(30))
}

func TestConversation_TurnsIsCopy(t *testing.T) {
	t.Parallel()

	var c Conversation

	c.Append(llm.RoleUser, "hi")

	turns := c.Turns()
	turns[0].Content = "changed"

	require.Equal(t, "hi", c.Turns()[0].Content)

	c.Reset()
	require.Zero(t, c.Len())
	require.Empty(t, c.Prompt(100))
}

func TestConversation_Save(t *testing.T) {
	t.Parallel()

	var c Conversation

	c.Append(llm.RoleUser, "hello")
	c.Append(llm.RoleAssistant, "hi there")

	path := filepath.Join(t.TempDir(), "nested", "chat.md")
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	written, err := c.Save(path, now)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(written))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(data)
	require.True(t, strings.HasPrefix(text, "# Transcript 2026-03-04 05:06:07"))
	require.Less(t, strings.Index(text, "### User\n\nhello"), strings.Index(text, "### Assistant\n\nhi there"))
}
