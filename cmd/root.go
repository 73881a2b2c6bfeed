package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/projecteru2/appslot/cmd/core"
	cmdothers "github.com/projecteru2/appslot/cmd/others"
	cmdrun "github.com/projecteru2/appslot/cmd/run"
	"github.com/projecteru2/appslot/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "appslot",
		Short:         "appslot - supervise hosted apps in isolated slots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(commandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root-dir", "", "root data directory")
	cmd.PersistentFlags().Int("pool-size", 0, "max concurrent slot operations")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("pool_size", cmd.PersistentFlags().Lookup("pool-size"))

	viper.SetEnvPrefix("APPSLOT")
	viper.AutomaticEnv()

	base := cmdcore.BaseHandler{ConfProvider: func() *config.Config { return conf }}

	for _, c := range cmdrun.Commands(cmdrun.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}
	for _, c := range cmdothers.Commands(cmdothers.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}

	return cmd
}()

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	conf.Normalize()

	return log.SetupLog(ctx, &conf.Log, "")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// newCommandContext returns a context cancelled on SIGINT or SIGTERM.
func newCommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
