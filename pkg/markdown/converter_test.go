package markdown

import (
	"strings"
	"testing"
)

func TestToHTML(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		contains []string
		absent   []string
	}{
		{"empty", "   ", nil, []string{"<p>"}},
		{"emphasis", "Użyj **portalu** i *VPN*.", []string{"<strong>portalu</strong>", "<em>VPN</em>"}, nil},
		{"list", "- jeden\n- dwa", []string{"<ul>", "<li>jeden</li>", "<li>dwa</li>"}, []string{"<br"}},
		{"paragraph lines", "pierwsza\ndruga", []string{"<p>pierwsza\ndruga</p>"}, []string{"<br"}},
		{"code block", "```go\nfmt.Println(1)\n```", []string{`<code class="language-go">`}, nil},
		{"script stripped", "hej <script>alert(1)</script>", []string{"hej"}, []string{"<script", "alert(1)</script>"}},
		{"javascript link", "[klik](javascript:alert(1))", nil, []string{"javascript:"}},
		{"external link", "[docs](https://intra.firma.pl/docs)", []string{`href="https://intra.firma.pl/docs"`, `target="_blank"`, "noopener"}, nil},
	}

	for _, tt := range tests {
		got := ToHTML(tt.in)
		for _, want := range tt.contains {
			if !strings.Contains(got, want) {
				t.Fatalf("%s: %q does not contain %q", tt.name, got, want)
			}
		}
		for _, bad := range tt.absent {
			if strings.Contains(got, bad) {
				t.Fatalf("%s: %q must not contain %q", tt.name, got, bad)
			}
		}
	}

	if got := ToHTML(""); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestToTerminal(t *testing.T) {
	out, err := ToTerminal("# Tytuł\n\nTreść odpowiedzi.", 60)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "odpowiedzi") {
		t.Fatalf("rendered output lost the text: %q", out)
	}
}
