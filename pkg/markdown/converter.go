package markdown

import (
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy

	blankLines = regexp.MustCompile(`\n{3,}`)
)

// sanitizer allows the markup answers actually use and nothing that can
// run code in the shell's renderer
func sanitizer() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowURLSchemes("http", "https", "mailto")
		p.RequireNoFollowOnLinks(true)
		p.RequireNoReferrerOnLinks(true)
		p.AddTargetBlankToFullyQualifiedLinks(true)
		p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+-]+$`)).OnElements("code")
		policy = p
	})
	return policy
}

// ToHTML converts an answer written in markdown to sanitized HTML
func ToHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	html := blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions))

	clean := sanitizer().SanitizeBytes(html)
	return strings.TrimSpace(blankLines.ReplaceAllString(string(clean), "\n\n"))
}

// ToTerminal renders markdown for a terminal of the given width
func ToTerminal(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(markdown)
}
