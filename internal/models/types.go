package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Role is the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Theme is the UI color scheme stored with the settings
type Theme string

const (
	ThemeDark   Theme = "dark"
	ThemeLight  Theme = "light"
	ThemeSystem Theme = "system"
)

// Valid reports whether t is one of the known themes
func (t Theme) Valid() bool {
	switch t {
	case ThemeDark, ThemeLight, ThemeSystem:
		return true
	}
	return false
}

// Settings is the single persisted settings record
type Settings struct {
	WebhookURL string `json:"webhookUrl"`
	APIToken   string `json:"apiToken"`
	Username   string `json:"username"`
	Theme      Theme  `json:"theme"`
}

// DefaultSettings returns the settings used before anything was saved
func DefaultSettings() Settings {
	return Settings{Theme: ThemeDark}
}

// SettingsState is what the shell needs to render the settings form
type SettingsState struct {
	Settings      Settings `json:"settings"`
	Locked        bool     `json:"locked"`
	WebhookLocked bool     `json:"webhookLocked"`
}

// Chunk identifies a fragment of a cited document. Webhooks send it
// either as a number or as a string; both forms survive a round trip.
type Chunk struct {
	value   string
	numeric bool
}

// NumericChunk builds a chunk reference sent as a JSON number
func NumericChunk(n float64) Chunk {
	return Chunk{value: strconv.FormatFloat(n, 'f', -1, 64), numeric: true}
}

// TextChunk builds a chunk reference sent as a JSON string
func TextChunk(s string) Chunk {
	return Chunk{value: s}
}

func (c Chunk) String() string { return c.value }

// IsNumeric reports whether the chunk was a JSON number
func (c Chunk) IsNumeric() bool { return c.numeric }

func (c Chunk) MarshalJSON() ([]byte, error) {
	if c.numeric {
		return []byte(c.value), nil
	}
	return json.Marshal(c.value)
}

func (c *Chunk) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextChunk(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Chunk{value: n.String(), numeric: true}
	return nil
}

// SourceItem is a citation returned next to an answer
type SourceItem struct {
	Source string   `json:"source"`
	Chunk  *Chunk   `json:"chunk,omitempty"`
	Score  *float64 `json:"score,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// RetryPayload carries what is needed to resend a failed question
type RetryPayload struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId"`
}

// Message represents a chat message
type Message struct {
	ID           string        `json:"id"`
	Role         Role          `json:"role"`
	Content      string        `json:"content"`
	CreatedAt    time.Time     `json:"createdAt"`
	Sources      []SourceItem  `json:"sources,omitempty"` // empty and absent are the same
	IsError      bool          `json:"isError,omitempty"`
	RetryPayload *RetryPayload `json:"retryPayload,omitempty"`
}

// ConversationMeta is an entry of the recency index
type ConversationMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
	Preview   string    `json:"preview,omitempty"`
}

// Conversation is a conversation id together with its messages
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// ClientInfo identifies this client to the webhook
type ClientInfo struct {
	AppVersion string `json:"app_version"`
	Platform   string `json:"platform"`
}
