// Command kore boots the kernel core inside a simulated machine and runs it
// for a bounded number of timer ticks, printing whatever the machine's
// console produced.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kore/machine"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kore",
		Short:         "kore boots a simulated kernel core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		ticks      uint64
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the machine and run it for a bounded number of ticks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := machine.DefaultConfig()
			if configPath != "" {
				loaded, err := machine.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			log := zap.NewNop()
			if verbose {
				dev, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				defer dev.Sync()
				log = dev
			}

			m, err := machine.New(cfg, log)
			if err != nil {
				return err
			}

			runErr := m.Run(ticks)
			fmt.Fprint(cmd.OutOrStdout(), m.ConsoleOutput())
			return runErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "machine description YAML")
	cmd.Flags().Uint64Var(&ticks, "ticks", 1000, "maximum number of timer ticks to run")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable kernel trace logging")
	return cmd
}
