package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/airouter/internal/config"
	"github.com/howard-nolan/airouter/internal/provider"
)

func newModelsCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models the router can dispatch to",
		Long: `List the built-in model table. With --config, entries from that
config file's models section are merged in the same way the server does.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := provider.BuiltinCatalog()
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				extra, err := cfg.ModelEntries()
				if err != nil {
					return err
				}
				if catalog, err = provider.NewCatalog(extra...); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d models", len(catalog.Models()))))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, m := range catalog.Models() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n",
					keyStyle.Render(m.Key),
					providerStyle.Render(m.Provider.DisplayName()),
					idStyle.Render(m.ProviderModelID),
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Server config file whose models section to include")
	return cmd
}
