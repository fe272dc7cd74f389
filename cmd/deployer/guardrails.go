package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/haatos/guardrails-deployer/internal"
	"github.com/haatos/guardrails-deployer/internal/command"
	"github.com/haatos/guardrails-deployer/internal/ctxlog"
	"github.com/haatos/guardrails-deployer/internal/guardrails"
	"github.com/spf13/cobra"
)

func startServerCmd(a *app) *cobra.Command {
	var opts guardrails.ServerOptions
	cmd := &cobra.Command{
		Use:   "start-server",
		Short: "Run the guardrails server in the foreground",
		Long: "Run the guardrails server in the foreground. This is the application's " +
			"startup command; the port defaults to CDSW_APP_PORT and the configuration " +
			"directory to GUARDRAILS_CONFIG_PATH.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Binary == "" {
				opts.Binary = a.settings.GuardrailsCommand
			}
			if opts.ConfigDir == "" {
				opts.ConfigDir = a.settings.GuardrailsConfigPath
			}
			if opts.Port == "" {
				opts.Port = a.settings.AppPort
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = ctxlog.WithLogger(ctx, a.logger)
			return guardrails.StartServer(ctx, command.NewLocalRunner(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Binary, "binary", "", "guardrails server executable (default GUARDRAILS_COMMAND)")
	cmd.Flags().StringVar(&opts.ConfigDir, "config-dir", "", "guardrails configuration directory")
	cmd.Flags().StringVar(&opts.Port, "port", "", "port to serve on")
	return cmd
}

func classifyCmd(a *app) *cobra.Command {
	var model string
	var health bool
	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Classify texts with the local model service",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := guardrails.NewClassifier(a.settings.ModelServiceURL, a.config.RequestTimeout.Duration())
			if err != nil {
				return err
			}
			if health {
				h, err := c.Health(cmd.Context())
				if err != nil {
					return err
				}
				b, err := json.MarshalIndent(h, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, string(b))
				return nil
			}
			if len(args) == 0 {
				return errors.New("at least one text is required")
			}
			predictions, err := c.Classify(cmd.Context(), model, args...)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "LABEL\tSCORE\tTEXT")
			for i, p := range predictions {
				fmt.Fprintf(tw, "%s\t%.4f\t%s\n", p.Label, p.Score, args[i])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&model, "model", guardrails.DefaultModelName, "model to classify with")
	cmd.Flags().BoolVar(&health, "health", false, "print the model service health instead")
	return cmd
}

func configCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := json.MarshalIndent(internal.Config, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, string(b))
			return nil
		},
	}
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value (redeploy_schedule, history_limit, requests_per_second, manifest_path, connection_info_path)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			config := *internal.Config
			switch key {
			case "redeploy_schedule":
				config.RedeploySchedule = value
			case "history_limit":
				n, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid value for history_limit: %s", value)
				}
				config.HistoryLimit = n
			case "requests_per_second":
				f, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return fmt.Errorf("invalid value for requests_per_second: %s", value)
				}
				config.RequestsPerSecond = f
			case "manifest_path":
				config.ManifestPath = value
			case "connection_info_path":
				config.ConnectionInfoPath = value
			default:
				return fmt.Errorf("unknown config key: %s", key)
			}
			if err := internal.UpdateConfiguration(a.configPath, &config); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s = %s\n", key, value)
			return nil
		},
	}
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(setCmd)
	return configCmd
}
