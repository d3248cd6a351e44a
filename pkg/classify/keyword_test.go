package classify

import "testing"

func TestKeywordHasError(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want bool
	}{
		{"empty", "", false},
		{"whitespace only", "  \n\t ", false},
		{"vite ready banner", "Server ready in 300ms", false},
		{"vite full banner", "  VITE v5.0.0  ready in 412 ms\n\n  ➜  Local:   http://localhost:3000/", false},
		{"benign error handling phrase", "added error handling middleware", false},
		{"uncaught type error", "Uncaught TypeError: x is undefined", true},
		{"syntax error", "SyntaxError: Unexpected token '<'", true},
		{"failed to compile", "Failed to compile.\n./src/App.jsx", true},
		{"module not found", "Module not found: Can't resolve 'lodash'", true},
		{"npm enoent", "npm ERR! enoent ENOENT: no such file or directory", true},
		{"npm missing script", `npm ERR! Missing script: "dev"`, true},
		// "0 errors" contains "error": the keyword policy flags it.
		{"npm summary false positive", "npm install completed successfully, 0 errors", true},
		{"error on a later line", "VITE v5.0.0 ready in 300 ms\n[vite] Internal server error: Transform failed", true},
		{"strong marker beats benign phrase", "ready in 200ms\nReferenceError: foo is not defined", true},
		{"mixed case", "FAILED to start dev server", true},
		{"clean install", "added 120 packages in 4s", false},
	}

	k := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := k.HasError(tt.log); got != tt.want {
				t.Errorf("HasError(%q) = %v, want %v", tt.log, got, tt.want)
			}
		})
	}
}

func TestKeywordClassify(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want Category
	}{
		{"empty", "", CategoryNone},
		{"ready", "ready in 120 ms", CategoryNone},
		{"syntax", "SyntaxError: Unexpected token", CategorySyntax},
		{"missing semicolon", "[plugin:vite:react-babel] Missing semicolon. (12:4)", CategorySyntax},
		{"type", "Uncaught TypeError: x is undefined", CategoryType},
		{"reference", "ReferenceError: useState is not defined", CategoryReference},
		{"compilation", "Failed to compile", CategoryCompilation},
		{"unresolved import", `[vite] Internal server error: Failed to resolve import "three"`, CategoryCompilation},
		{"unknown", "npm install completed successfully, 0 errors", CategoryUnknown},
	}

	k := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := k.Classify(tt.log); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.log, got, tt.want)
			}
		})
	}
}
