// Command tutorctl runs the tutorpilot building blocks from a terminal:
// classify captured dev server output, or push a component through the
// deploy and repair loop against the configured sandbox runtime.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var code exitCodeError
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
