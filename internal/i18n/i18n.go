package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/company-assistant-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the embedded message files
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Polish)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"pl", "en"}
	}

	for _, lang := range languages {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	defaultLanguage := cfg.DefaultLanguage
	if _, ok := localizers[defaultLanguage]; !ok {
		defaultLanguage = languages[0]
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}, nil
}

// DefaultLanguage returns the language used when none is requested
func (l *Localizer) DefaultLanguage() string {
	return l.defaultLanguage
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgErrorInvalidURL   = "error_invalid_url"
	MsgErrorNetwork      = "error_network"
	MsgErrorTimeout      = "error_timeout"
	MsgErrorCanceled     = "error_canceled"
	MsgErrorHTTP         = "error_http"
	MsgErrorUnauthorized = "error_unauthorized"
	MsgErrorMalformed    = "error_malformed"
	MsgErrorSaveFailed   = "error_save_failed"
	MsgTitlePlaceholder  = "title_placeholder"
	MsgMockAnswer        = "mock_answer"
	MsgMockSourceDocs    = "mock_source_docs"
	MsgMockSourceDocsTxt = "mock_source_docs_text"
	MsgMockSourceFAQ     = "mock_source_faq"
	MsgMockSourceFAQTxt  = "mock_source_faq_text"
)
