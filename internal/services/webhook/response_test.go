package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/company-assistant-go/internal/models"
)

func TestDecodeSourcesShapes(t *testing.T) {
	raw := json.RawMessage(`[
		{"source":"Wiki","chunk":"intro","score":"0.5","text":"canonical"},
		{"title":"Old doc","url":"https://intra/doc","snippet":"legacy"},
		{"url":"https://intra/only-url"},
		"Bare name",
		42,
		{},
		null
	]`)

	sources := decodeSources(raw)
	if len(sources) != 4 {
		t.Fatalf("expected 4 sources, got %d: %+v", len(sources), sources)
	}

	if sources[0].Source != "Wiki" || sources[0].Text != "canonical" {
		t.Fatalf("canonical source decoded wrong: %+v", sources[0])
	}
	if sources[0].Chunk == nil || sources[0].Chunk.IsNumeric() || sources[0].Chunk.String() != "intro" {
		t.Fatalf("text chunk decoded wrong: %+v", sources[0].Chunk)
	}
	if sources[0].Score == nil || *sources[0].Score != 0.5 {
		t.Fatalf("string score decoded wrong: %+v", sources[0].Score)
	}
	if sources[1].Source != "Old doc" || sources[1].Text != "legacy" {
		t.Fatalf("legacy source decoded wrong: %+v", sources[1])
	}
	if sources[2].Source != "https://intra/only-url" {
		t.Fatalf("url fallback decoded wrong: %+v", sources[2])
	}
	if sources[3].Source != "Bare name" {
		t.Fatalf("bare string decoded wrong: %+v", sources[3])
	}
}

func TestDecodeSourcesNonArray(t *testing.T) {
	for _, raw := range []string{``, `null`, `{"source":"x"}`, `"x"`, `12`} {
		sources := decodeSources(json.RawMessage(raw))
		if sources == nil || len(sources) != 0 {
			t.Fatalf("%q: expected empty list, got %+v", raw, sources)
		}
	}
}

func TestDecodeReplyArrayEnvelope(t *testing.T) {
	reply, ok := decodeReply([]byte(`[{"answer":"from n8n","sources":["Doc"]}]`))
	if !ok {
		t.Fatalf("array envelope should decode")
	}
	if reply.Answer != "from n8n" || len(reply.Sources) != 1 {
		t.Fatalf("unexpected reply %+v", reply)
	}

	if _, ok := decodeReply([]byte(`[]`)); ok {
		t.Fatalf("empty array must be malformed")
	}
}

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		err       error
		kind      models.ErrorKind
		retryable bool
	}{
		{&net.DNSError{Err: "no such host", Name: "hook.local", IsNotFound: true}, models.ErrorNetwork, true},
		{&net.DNSError{Err: "timeout", Name: "hook.local", IsTimeout: true}, models.ErrorTimeout, false},
		{&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, models.ErrorNetwork, true},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), models.ErrorNetwork, true},
		{syscall.EHOSTUNREACH, models.ErrorNetwork, true},
		{syscall.ENETUNREACH, models.ErrorNetwork, true},
		{syscall.ETIMEDOUT, models.ErrorTimeout, false},
		{os.ErrDeadlineExceeded, models.ErrorTimeout, false},
		{errors.New("tls: handshake failure"), models.ErrorNetwork, false},
	}

	for _, tt := range tests {
		kind, retryable := classifyTransportError(tt.err)
		if kind != tt.kind || retryable != tt.retryable {
			t.Fatalf("%v: got (%s, %v), want (%s, %v)", tt.err, kind, retryable, tt.kind, tt.retryable)
		}
	}
}

func TestPlatformName(t *testing.T) {
	if platformName("windows") != "win32" {
		t.Fatalf("windows should report win32")
	}
	if platformName("darwin") != "darwin" {
		t.Fatalf("darwin should be unchanged")
	}
}
