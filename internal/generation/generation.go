// Package generation defines the contract with the text generation backend.
package generation

import (
	"context"
	"strings"
	"time"
)

// Request is a rendered prompt for one page.
type Request struct {
	Prompt   string
	PageType string
	Language string
}

// Response is the backend's completion plus the metrics recorded on the page.
type Response struct {
	Content      string
	Model        string
	WordCount    int
	SectionCount int
	Duration     time.Duration
}

// Generator is an opaque text completion service. Any returned error fails the page
// and its text is stored as the page's error message.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// WordCount counts whitespace-separated fields.
func WordCount(content string) int {
	return len(strings.Fields(content))
}

// SectionCount counts markdown heading lines.
func SectionCount(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			n++
		}
	}
	return n
}

// Echo is a local generator for development runs without a backend.
// It returns the prompt wrapped in a single markdown section.
type Echo struct{}

func (Echo) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := "# " + firstLine(req.Prompt) + "\n\n" + req.Prompt
	return &Response{
		Content:      content,
		Model:        "echo",
		WordCount:    WordCount(content),
		SectionCount: SectionCount(content),
		Duration:     time.Since(start),
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
