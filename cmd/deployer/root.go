package main

import (
	"io"

	"github.com/haatos/guardrails-deployer/internal"
	"github.com/spf13/cobra"
)

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}
	rootCmd := &cobra.Command{
		Use:           "deployer",
		Short:         "Deploy the guardrails server to the ML platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", internal.ConfigPath, "configuration file")
	rootCmd.PersistentFlags().StringVarP(&a.manifestPath, "manifest", "m", "", "deployment manifest (.yaml, .yml or .hcl)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(deployCmd(a))
	rootCmd.AddCommand(resolveCmd(a))
	rootCmd.AddCommand(jobsCmd(a))
	rootCmd.AddCommand(promoteCmd(a))
	rootCmd.AddCommand(historyCmd(a))
	rootCmd.AddCommand(serveCmd(a))
	rootCmd.AddCommand(startServerCmd(a))
	rootCmd.AddCommand(classifyCmd(a))
	rootCmd.AddCommand(configCmd(a))
	return rootCmd
}
