package classify

import "strings"

// strongMarkers flag an error wherever they appear.
var strongMarkers = []string{
	"syntaxerror",
	"typeerror",
	"referenceerror",
	"unexpected token",
	"parse error",
	"missing semicolon",
	"failed to compile",
	"module not found",
	"cannot find",
	"uncaught",
	"enoent",
	"npm err!",
	"error:",
}

// weakMarkers flag an error only on lines without a benign phrase.
var weakMarkers = []string{
	"error",
	"exception",
	"failed",
	"undefined",
}

// benignPhrases suppress weak markers on the same line. Vite prints
// "ready in 300 ms" once the dev server is listening.
var benignPhrases = []string{
	"ready in",
	"error handling",
}

// categoryRules are checked in order; the first match wins.
var categoryRules = []struct {
	category Category
	markers  []string
}{
	{CategorySyntax, []string{"syntaxerror", "unexpected token", "parse error", "missing semicolon"}},
	{CategoryType, []string{"typeerror"}},
	{CategoryReference, []string{"referenceerror", "is not defined"}},
	{CategoryCompilation, []string{"failed to compile", "module not found", "cannot find module", "failed to resolve import"}},
}

// Keyword is the default case-insensitive keyword Classifier.
type Keyword struct{}

var _ Classifier = Keyword{}

// New returns the default keyword classifier.
func New() Keyword { return Keyword{} }

// HasError reports whether any line of logText carries an error marker.
func (Keyword) HasError(logText string) bool {
	if strings.TrimSpace(logText) == "" {
		return false
	}
	for _, line := range strings.Split(strings.ToLower(logText), "\n") {
		if lineHasError(line) {
			return true
		}
	}
	return false
}

// Classify returns CategoryNone for error-free text and CategoryUnknown
// when an error is present but matches no specific rule.
func (k Keyword) Classify(logText string) Category {
	if !k.HasError(logText) {
		return CategoryNone
	}
	lower := strings.ToLower(logText)
	for _, rule := range categoryRules {
		if containsAny(lower, rule.markers) {
			return rule.category
		}
	}
	return CategoryUnknown
}

func lineHasError(line string) bool {
	if containsAny(line, strongMarkers) {
		return true
	}
	if containsAny(line, benignPhrases) {
		return false
	}
	return containsAny(line, weakMarkers)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
