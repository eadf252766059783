// Package cli is the airouterctl command tree.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/airouter/internal/client"
)

// DefaultEndpoint is used when neither --endpoint nor AIROUTER_ENDPOINT
// is set.
const DefaultEndpoint = "http://localhost:8080/v1/chat"

var (
	version = "dev"
	commit  = "unknown"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	endpoint string
	timeout  time.Duration
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.endpoint, client.WithTimeout(o.timeout))
}

// NewRootCommand builds a fresh command tree. Tests build one per case so
// flag state never leaks between them.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "airouterctl",
		Short: "Talk to an airouter instance from the terminal",
		Long: `airouterctl sends chat requests to a running airouter and prints the
reconciled answer, the same way the browser extension reads it.

Quick Start:
  airouterctl models                              # List routable models
  airouterctl ask "explain this diff" < diff.txt  # One-shot question
  airouterctl ask --stream --model kimi-k2 "hi"   # Stream raw SSE
  curl ... | airouterctl reconcile -              # Extract text from any response`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	endpoint := os.Getenv("AIROUTER_ENDPOINT")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", endpoint, "Router URL (env AIROUTER_ENDPOINT)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall request timeout")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newAskCommand(opts),
		newReconcileCommand(),
		newModelsCommand(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
