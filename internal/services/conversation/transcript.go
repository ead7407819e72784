package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/company-assistant-go/internal/models"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

// FormatTranscript renders a conversation as plain text for export.
//
//	Conversation ID: <id>
//
//	[2024-05-01 09:30:00] USER: question
//	[2024-05-01 09:30:04] ASSISTANT: answer
//	  - Wiki (chunk: 3, score: 0.91): excerpt
func FormatTranscript(id string, messages []models.Message) string {
	lines := make([]string, 0, len(messages)+2)
	lines = append(lines, "Conversation ID: "+id, "")

	for _, m := range messages {
		role := "ASSISTANT"
		if m.Role == models.RoleUser {
			role = "USER"
		}
		line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.UTC().Format(transcriptTimeLayout), role, m.Content)

		if m.Role == models.RoleAssistant && len(m.Sources) > 0 {
			parts := make([]string, 0, len(m.Sources)+1)
			parts = append(parts, line)
			for _, source := range m.Sources {
				parts = append(parts, formatSource(source))
			}
			line = strings.Join(parts, "\n")
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func formatSource(source models.SourceItem) string {
	var meta []string
	if source.Chunk != nil {
		meta = append(meta, "chunk: "+source.Chunk.String())
	}
	if source.Score != nil {
		meta = append(meta, "score: "+strconv.FormatFloat(*source.Score, 'f', -1, 64))
	}

	var b strings.Builder
	b.WriteString("  - ")
	b.WriteString(source.Source)
	if len(meta) > 0 {
		b.WriteString(" (" + strings.Join(meta, ", ") + ")")
	}
	if source.Text != "" {
		b.WriteString(": " + source.Text)
	}
	return b.String()
}
