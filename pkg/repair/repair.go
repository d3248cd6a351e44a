// Package repair asks the code generator for a corrected version of code
// that failed in a sandbox.
package repair

import (
	"context"
	"fmt"
	"strings"

	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/llm"
	"github.com/itsbakr/weave-tutor/pkg/observability"
)

// Preview bounds applied before code and logs are embedded in a prompt.
const (
	MaxCodePreview  = 2000
	MaxErrorPreview = 800

	truncatedMarker = "\n... (truncated)"
)

// Input is everything a repair request needs.
type Input struct {
	Code         string
	ErrorExcerpt string
	Topic        string

	// Attempt is the number of the attempt that failed, MaxAttempts the loop bound.
	Attempt     int
	MaxAttempts int
}

// Repairer produces a full replacement for failing code.
type Repairer interface {
	Repair(ctx context.Context, in Input) (string, error)
}

// RepairerFunc adapts a function to the Repairer interface.
type RepairerFunc func(ctx context.Context, in Input) (string, error)

// Repair calls f.
func (f RepairerFunc) Repair(ctx context.Context, in Input) (string, error) {
	return f(ctx, in)
}

// Generator implements Repairer on top of an llm.Client.
type Generator struct {
	client      llm.Client
	temperature float32
	maxTokens   int
}

// NewGenerator creates a Generator with temperature 0.2 and a 6000 token limit.
func NewGenerator(client llm.Client) *Generator {
	return &Generator{client: client, temperature: 0.2, maxTokens: 6000}
}

// Repair returns the corrected code. When the response holds no
// extractable code, the original code is returned unchanged and err is nil.
// A generator failure is returned as an error.
func (g *Generator) Repair(ctx context.Context, in Input) (string, error) {
	prompt := BuildPrompt(in)
	resp, err := g.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Purpose:     llm.PurposeRepair,
	})
	if err != nil {
		observability.RepairsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("repair attempt %d: %w", in.Attempt, err)
	}

	fixed := ExtractCode(resp.Text)
	if fixed == "" {
		observability.RepairsTotal.WithLabelValues("empty").Inc()
		debug.Log("repair", "no code in repair response, keeping original", "attempt", in.Attempt)
		return in.Code, nil
	}
	observability.RepairsTotal.WithLabelValues("ok").Inc()
	debug.Log("repair", "repair generated", "attempt", in.Attempt, "original_bytes", len(in.Code), "fixed_bytes", len(fixed))
	return fixed, nil
}

const systemPrompt = "You are an expert React developer who debugs generated educational activities."

// BuildPrompt renders the repair prompt with bounded code and error previews.
func BuildPrompt(in Input) string {
	code := debug.Clip(in.Code, MaxCodePreview)
	if len(in.Code) > MaxCodePreview {
		code += truncatedMarker
	}
	errText := debug.Clip(in.ErrorExcerpt, MaxErrorPreview)

	maxAttempts := in.MaxAttempts
	if maxAttempts < in.Attempt {
		maxAttempts = in.Attempt
	}

	var b strings.Builder
	b.WriteString("React code deployed to a sandbox failed with the errors below.\n\n")
	fmt.Fprintf(&b, "TOPIC: %s\n", in.Topic)
	fmt.Fprintf(&b, "ATTEMPT NUMBER: %d/%d\n\n", in.Attempt, maxAttempts)
	b.WriteString("DEPLOYED CODE (preview):\n```jsx\n")
	b.WriteString(code)
	b.WriteString("\n```\n\nERROR LOGS FROM SANDBOX:\n```\n")
	b.WriteString(errText)
	b.WriteString("\n```\n\n")
	b.WriteString(`Fix the root cause with minimal changes. Check for syntax errors such as
missing semicolons, unclosed tags and unescaped quotes in JSX, incorrect hook
usage, undefined variables and missing imports. Keep every educational and
interactive feature and the Tailwind styling.

Return the COMPLETE fixed component as a single file, from the imports to
"export default". No explanations.
`)
	return b.String()
}

// fenceLanguages are tried in order, then any other fenced block.
var fenceLanguages = []string{"jsx", "javascript", "js", "tsx", "typescript", "ts", ""}

// ExtractCode returns the body of a fenced block, preferring jsx,
// javascript and js fences over TypeScript, bare and other fences.
// Without a complete fence it returns the trimmed text.
func ExtractCode(text string) string {
	blocks := fencedBlocks(text)
	for _, lang := range fenceLanguages {
		for _, b := range blocks {
			if b.lang == lang {
				return b.body
			}
		}
	}
	if len(blocks) > 0 {
		return blocks[0].body
	}
	return strings.TrimSpace(text)
}

type fenced struct {
	lang string
	body string
}

// fencedBlocks splits out every closed ``` block. The language is the
// first word of the opening line, lower-cased.
func fencedBlocks(text string) []fenced {
	var blocks []fenced
	for {
		start := strings.Index(text, "```")
		if start < 0 {
			return blocks
		}
		rest := text[start+3:]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return blocks
		}
		var lang string
		if f := strings.Fields(rest[:nl]); len(f) > 0 {
			lang = strings.ToLower(f[0])
		}
		rest = rest[nl+1:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}
		blocks = append(blocks, fenced{lang: lang, body: strings.TrimSpace(rest[:end])})
		text = rest[end+3:]
	}
}
