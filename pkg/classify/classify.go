// Package classify decides whether captured build or dev-server output
// indicates a failure, and assigns a coarse category to the failure.
//
// The default implementation is a keyword heuristic. False positives and
// false negatives are expected; the signal only has to be good enough to
// decide between accepting a deployment and attempting a repair.
package classify

// Category is a coarse failure category derived from log text.
type Category string

const (
	CategoryNone        Category = "none"
	CategorySyntax      Category = "syntax"
	CategoryType        Category = "type"
	CategoryReference   Category = "reference"
	CategoryCompilation Category = "compilation"
	CategoryUnknown     Category = "unknown"
)

// Classifier inspects log output. Implementations must be safe for
// concurrent use and must treat empty input as error-free.
type Classifier interface {
	HasError(logText string) bool
	Classify(logText string) Category
}
