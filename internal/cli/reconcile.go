package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/airouter/internal/reconcile"
)

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [file|-]",
		Short: "Extract the assistant text from a saved response",
		Long: `Read a JSON chat response (router envelope, raw Gemini or raw
OpenAI-compatible body) from a file or stdin and print the assistant text.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				body []byte
				err  error
			)
			if len(args) == 0 || args[0] == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}

			text, err := reconcile.ExtractJSON(body)
			if err != nil {
				return describeFormatError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

// describeFormatError adds a hint for the errors a user can act on.
func describeFormatError(err error) error {
	switch {
	case errors.Is(err, reconcile.ErrTruncated):
		return fmt.Errorf("%w\n%s", err, noteStyle.Render("hint: raise max_tokens or send less input"))
	case errors.Is(err, reconcile.ErrIncompleteResponse):
		return fmt.Errorf("%w\n%s", err, noteStyle.Render("hint: the provider may have blocked the answer, check finishReason"))
	}
	return err
}
