// Package evaluate asks the generator to grade a generated activity and
// parses its answer into an api.Evaluation.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/itsbakr/weave-tutor/pkg/api"
	"github.com/itsbakr/weave-tutor/pkg/debug"
	"github.com/itsbakr/weave-tutor/pkg/llm"
)

// Fallback values used when the generator's answer cannot be parsed.
const (
	FallbackScore      = 7.0
	FallbackConfidence = 0.5
)

const maxActivityPreview = 2000

// Input describes the activity under evaluation.
type Input struct {
	Topic            string
	Description      string
	Code             string
	Language         string
	DeploymentStatus string
	Student          *api.Student
}

// Evaluator grades activities with an llm.Client.
type Evaluator struct {
	client llm.Client
}

// New creates an Evaluator.
func New(client llm.Client) *Evaluator {
	return &Evaluator{client: client}
}

// Evaluate returns the generator's evaluation of the activity. An answer
// that cannot be parsed yields Fallback(); only a generator failure is
// returned as an error.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (*api.Evaluation, error) {
	resp, err := e.client.Complete(ctx, llm.Request{
		Prompt:      buildPrompt(in),
		Temperature: 0.3,
		MaxTokens:   1500,
		Purpose:     llm.PurposeEvaluate,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating activity: %w", err)
	}

	eval, ok := Parse(resp.Text)
	if !ok {
		slog.Warn("could not parse evaluation, using fallback", "topic", in.Topic, "preview", debug.Truncate(resp.Text, 200))
		return Fallback(), nil
	}
	debug.Log("evaluate", "activity evaluated", "topic", in.Topic, "overall_score", eval.OverallScore, "criteria", len(eval.Criteria))
	return eval, nil
}

// Fallback is the evaluation used when no usable answer is available.
func Fallback() *api.Evaluation {
	return &api.Evaluation{
		OverallScore: FallbackScore,
		Criteria: map[string]api.CriterionScore{
			"overall_quality": {Score: FallbackScore, Reasoning: "Could not parse detailed evaluation"},
		},
		Weaknesses:   []string{"Evaluation parsing failed"},
		Improvements: []string{"Ensure the evaluation is returned as valid JSON"},
		Confidence:   FallbackConfidence,
	}
}

type rawEvaluation struct {
	OverallScore *float64                   `json:"overall_score"`
	Criteria     map[string]json.RawMessage `json:"criteria"`
	Weaknesses   json.RawMessage            `json:"weaknesses"`
	Improvements json.RawMessage            `json:"improvements"`
	Confidence   float64                    `json:"confidence"`
	Evaluation   json.RawMessage            `json:"evaluation"`
}

// Parse extracts an evaluation from free-form generator output. It looks
// inside a fenced block when present, tries every top-level JSON object in
// order and unwraps an "evaluation" envelope. An object must carry
// overall_score and criteria to be accepted.
func Parse(text string) (*api.Evaluation, bool) {
	cleaned := strings.TrimSpace(text)
	if body, ok := fenced(cleaned); ok {
		cleaned = body
	}

	for _, candidate := range objects(cleaned) {
		var raw rawEvaluation
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		if len(raw.Evaluation) > 0 && raw.Evaluation[0] == '{' {
			var inner rawEvaluation
			if err := json.Unmarshal(raw.Evaluation, &inner); err == nil {
				raw = inner
			}
		}
		if raw.OverallScore == nil || raw.Criteria == nil {
			continue
		}
		return raw.normalize(), true
	}
	return nil, false
}

func (r rawEvaluation) normalize() *api.Evaluation {
	eval := &api.Evaluation{
		OverallScore: *r.OverallScore,
		Criteria:     make(map[string]api.CriterionScore, len(r.Criteria)),
		Weaknesses:   stringList(r.Weaknesses),
		Improvements: stringList(r.Improvements),
		Confidence:   r.Confidence,
	}
	for name, value := range r.Criteria {
		var c struct {
			Score     *float64 `json:"score"`
			Reasoning string   `json:"reasoning"`
		}
		if err := json.Unmarshal(value, &c); err == nil && c.Score != nil {
			eval.Criteria[name] = api.CriterionScore{Score: *c.Score, Reasoning: c.Reasoning}
			continue
		}
		var score float64
		if err := json.Unmarshal(value, &score); err == nil {
			eval.Criteria[name] = api.CriterionScore{Score: score, Reasoning: "No reasoning provided"}
		}
	}
	return eval
}

func stringList(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil || list == nil {
		return []string{}
	}
	return list
}

// fenced returns the body of the first ``` or ```json block.
func fenced(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := strings.TrimPrefix(text[start+3:], "json")
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// objects returns the balanced top-level {...} spans of text. Braces inside
// JSON strings are ignored.
func objects(text string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, text[start:i+1])
			}
		}
	}
	return out
}

func buildPrompt(in Input) string {
	activity := fmt.Sprintf("TOPIC: %s\nDESCRIPTION: %s\nCODE:\n%s", in.Topic, in.Description, in.Code)
	activity = debug.Clip(activity, maxActivityPreview)

	language := in.Language
	if language == "" {
		language = api.LanguageJavaScript
	}

	var grade, style, interests string
	if in.Student != nil {
		grade = in.Student.Grade
		style = in.Student.LearningStyle
		interests = strings.Join(in.Student.Interests, ", ")
	}
	if style == "" {
		style = "Mixed"
	}

	return fmt.Sprintf(`You are a pedagogical expert evaluating an AI-generated educational activity.

ACTIVITY TO EVALUATE:
%s...

CODE QUALITY CONTEXT:
- Deployment Status: %s
- Language: %s
- Code Length: %d characters

STUDENT CONTEXT:
- Grade: %s
- Learning Style: %s
- Interests: %s

Rate each criterion from 1 to 10 with one or two sentences of reasoning:
educational_value, engagement, interactivity, creativity, code_quality, feasibility.
Most activities score 6-8. Be critical and concrete.

Return ONLY valid JSON:
{
  "overall_score": 7.5,
  "criteria": {
    "educational_value": {"score": 8, "reasoning": "..."},
    "engagement": {"score": 7, "reasoning": "..."}
  },
  "weaknesses": ["..."],
  "improvements": ["..."],
  "confidence": 0.85
}
`, activity, in.DeploymentStatus, language, len(in.Code), grade, style, interests)
}
