// Package generate produces chat completions. The current backend is a
// canned responder; a model-backed implementation plugs in behind the
// same Responder interface.
package generate

import (
	"context"
	"fmt"
	"strings"
)

type Request struct {
	Message    string
	Mode       string
	UseHistory bool
	SessionID  string
}

type Response struct {
	Text    string
	Sources []string
}

type Responder interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// CannedResponder answers every prompt from a fixed template. It keeps
// the API contract exercisable without a model behind it.
type CannedResponder struct{}

func NewCannedResponder() *CannedResponder {
	return &CannedResponder{}
}

func (r *CannedResponder) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = "chat"
	}

	text := fmt.Sprintf("[%s] I received your message: %q. A model backend is not configured, so this is a placeholder answer.", mode, strings.TrimSpace(req.Message))

	return &Response{Text: text, Sources: []string{}}, nil
}
