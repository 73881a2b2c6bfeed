package run

import "github.com/spf13/cobra"

// Actions defines host lifecycle operations.
type Actions interface {
	Run(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
}

// Commands builds the host command set (run, list, inspect).
func Commands(h Actions) []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "run",
			Short: "Run every configured app slot until interrupted",
			Args:  cobra.NoArgs,
			RunE:  h.Run,
		},
		{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List configured apps with their last recorded instance",
			Args:    cobra.NoArgs,
			RunE:    h.List,
		},
		{
			Use:   "inspect APP",
			Short: "Show the last recorded instance of an app (JSON)",
			Args:  cobra.ExactArgs(1),
			RunE:  h.Inspect,
		},
	}
}
