package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"contentforge/internal/llm"
)

var editFile string

func editOutput(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var raw []byte
	var err error
	if editFile != "" {
		raw, err = os.ReadFile(editFile)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}
	text := strings.TrimRight(string(raw), "\n")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("replacement text is empty")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.runner.EditStepOutput(ctx, args[0], args[1], text)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func revertOutput(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.runner.RevertStepOutput(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return printJSON(out)
}

func suggestEdit(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	suggestion, err := a.runner.SuggestEdit(ctx, args[0], args[1], args[2])
	if err != nil {
		if !llm.CanRetry(err) {
			return err
		}
		return printFailure(err, "")
	}
	fmt.Fprintf(os.Stderr, "suggested by %s (%d tokens); apply with: forge edit %s %s\n",
		suggestion.ModelUsed, suggestion.Tokens, args[0], args[1])
	fmt.Println(suggestion.Suggestion)
	return nil
}
