package models

// ErrorKind classifies why an ask did not produce an answer
type ErrorKind string

const (
	ErrorInvalidURL        ErrorKind = "invalidUrl"
	ErrorNetwork           ErrorKind = "network"
	ErrorTimeout           ErrorKind = "timeout"
	ErrorCanceled          ErrorKind = "canceled"
	ErrorHTTP              ErrorKind = "httpError"
	ErrorMalformedResponse ErrorKind = "malformedResponse"
)

// Retryable reports whether the user should be offered a retry action
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorNetwork, ErrorTimeout, ErrorHTTP, ErrorMalformedResponse:
		return true
	}
	return false
}

// Surfaced reports whether the failure is shown to the user at all.
// Cancellation is the result of a deliberate action.
func (k ErrorKind) Surfaced() bool {
	return k != "" && k != ErrorCanceled
}

// AskResult is either an answer or a classified failure. A result with
// an empty Kind is an answer.
type AskResult struct {
	Answer     string       `json:"answer,omitempty"`
	Sources    []SourceItem `json:"sources"`
	Error      string       `json:"error,omitempty"`
	Kind       ErrorKind    `json:"errorType,omitempty"`
	HTTPStatus int          `json:"status,omitempty"`
}

// Answered builds a successful result
func Answered(text string, sources []SourceItem) AskResult {
	if sources == nil {
		sources = []SourceItem{}
	}
	return AskResult{Answer: text, Sources: sources}
}

// Failed builds a failure result
func Failed(kind ErrorKind, message string) AskResult {
	return AskResult{Kind: kind, Error: message, Sources: []SourceItem{}}
}

// OK reports whether the result carries an answer
func (r AskResult) OK() bool {
	return r.Kind == ""
}
