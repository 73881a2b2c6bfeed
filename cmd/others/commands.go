package others

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Actions defines host-independent maintenance operations.
type Actions interface {
	GC(cmd *cobra.Command, args []string) error
	Version(cmd *cobra.Command, args []string) error
}

// Commands builds the maintenance command set (gc, version, completion).
func Commands(h Actions) []*cobra.Command {
	return []*cobra.Command{
		{
			Use:   "gc",
			Short: "Remove runtime state of app slots no longer configured (host must be stopped)",
			Args:  cobra.NoArgs,
			RunE:  h.GC,
		},
		{
			Use:   "version",
			Short: "Show version, git revision, and build timestamp",
			Args:  cobra.NoArgs,
			RunE:  h.Version,
		},
		completionCommand(),
	}
}

func completionCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion script",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		// Completion must work without a readable config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
