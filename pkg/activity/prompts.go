package activity

import (
	"fmt"
	"strings"

	"github.com/itsbakr/weave-tutor/pkg/debug"
)

const (
	maxExplanationPreview = 1000
	maxSummaryPreview     = 500
	maxPromptInterests    = 3
)

const generateSystemPrompt = "You are an expert React developer who builds polished, interactive educational web activities."

func buildGeneratePrompt(r *request) string {
	var grade string
	var interests []string
	if r.student != nil {
		grade = r.student.Grade
		interests = r.student.Interests
	}
	if len(interests) > maxPromptInterests {
		interests = interests[:maxPromptInterests]
	}

	var explanation string
	var sources []string
	if r.knowledge != nil {
		explanation = debug.Clip(r.knowledge.Explanation, maxExplanationPreview)
		for _, s := range r.knowledge.Sources {
			sources = append(sources, fmt.Sprintf("- %s (%s)", s.Title, s.URL))
		}
	}

	var b strings.Builder
	b.WriteString("Generate a beautiful, interactive React web page for an educational activity.\n\n")
	fmt.Fprintf(&b, "TOPIC: %s\n", r.topic)
	fmt.Fprintf(&b, "STUDENT GRADE: %s\n", grade)
	fmt.Fprintf(&b, "STUDENT INTERESTS: %s\n", strings.Join(interests, ", "))
	fmt.Fprintf(&b, "DURATION: %d minutes\n\n", r.duration)
	fmt.Fprintf(&b, "ACTIVITY DESCRIPTION: %s\n\n", r.description)
	if explanation != "" {
		fmt.Fprintf(&b, "EDUCATIONAL CONTEXT:\n%s\n\n", explanation)
	}
	if len(sources) > 0 {
		fmt.Fprintf(&b, "SOURCES:\n%s\n\n", strings.Join(sources, "\n"))
	}
	b.WriteString(`REQUIREMENTS:
- A single default-exported function component in src/App.jsx using React hooks.
- Only react and react-dom are installed. Do not import any other package.
- Style with Tailwind CSS utility classes (loaded from a CDN): gradient
  backgrounds, rounded cards, generous spacing and clear typography.
- Interactive elements with immediate feedback, progress and a clear goal.
- Content must be accurate and appropriate for the student's grade.

Return the COMPLETE component in a single fenced block:
` + "```jsx\n[code from the imports to export default]\n```\n")
	return b.String()
}

func buildChatPrompt(code, message, topic string) string {
	return fmt.Sprintf(`You are iterating on an educational React activity.

CURRENT FULL CODE:
`+"```jsx\n%s\n```"+`

TUTOR'S REQUEST:
"%s"

TOPIC: %s

Modify the ENTIRE component to implement the tutor's request. Return the
complete file, from the imports to export default, keeping the activity
interactive and styled with Tailwind CSS. It must deploy as-is.

Return ONLY the code in a single `+"```jsx"+` block. No explanations, no placeholders.
`, code, message, topic)
}

func buildSummaryPrompt(oldCode, newCode, message string) string {
	return fmt.Sprintf(`Briefly describe what changed between these two code versions in 1-2 sentences.

OLD CODE:
%s...

NEW CODE:
%s...

TUTOR'S REQUEST: %s

Provide a concise summary of the changes made:
`, debug.Clip(oldCode, maxSummaryPreview), debug.Clip(newCode, maxSummaryPreview), message)
}
