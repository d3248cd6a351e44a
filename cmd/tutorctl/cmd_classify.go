package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/itsbakr/weave-tutor/pkg/classify"
)

// exitCodeError ends the process with the given status and no message.
type exitCodeError int

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

type classification struct {
	HasError bool              `json:"has_error"`
	Category classify.Category `json:"category"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading logs: %w", err)
	}

	c := classify.New()
	text := string(data)
	out := classification{HasError: c.HasError(text), Category: c.Classify(text)}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if out.HasError {
		return exitCodeError(2)
	}
	return nil
}
