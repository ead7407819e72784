package conversation

import (
	"strings"
	"time"

	"github.com/company-assistant-go/internal/models"
)

const (
	titleWords     = 8
	previewMaxRune = 120
)

// DeriveTitle builds a title from the first user message: its first
// eight words joined by single spaces. placeholder is used when there is
// no user message.
func DeriveTitle(messages []models.Message, placeholder string) string {
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		words := strings.Fields(m.Content)
		if len(words) > titleWords {
			words = words[:titleWords]
		}
		if title := strings.Join(words, " "); title != "" {
			return title
		}
		break
	}
	return placeholder
}

// DerivePreview returns the last message's content on one line, cut to
// 120 runes.
func DerivePreview(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}
	preview := strings.Join(strings.Fields(messages[len(messages)-1].Content), " ")
	runes := []rune(preview)
	if len(runes) > previewMaxRune {
		preview = string(runes[:previewMaxRune])
	}
	return preview
}

// Meta builds the index entry for a conversation
func Meta(id string, messages []models.Message, placeholder string, updatedAt time.Time) models.ConversationMeta {
	return models.ConversationMeta{
		ID:        id,
		Title:     DeriveTitle(messages, placeholder),
		UpdatedAt: updatedAt.UTC().Truncate(time.Millisecond),
		Preview:   DerivePreview(messages),
	}
}
