package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"paycore/config"
	"paycore/internal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "paycore",
		Short: "Payment gateway core and recurring membership billing",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "config.yml", "path to config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(renewCmd())
	rootCmd.AddCommand(expireCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	conf     *config.Config
	billing  *internal.Billing
	shutdown func(context.Context) error
}

func (a *app) close() {
	if err := a.shutdown(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
	}
}

func boot() (*app, error) {
	logger := internal.NewLogger("internal", false, nil)
	logger.Info("using config file: " + configPath)

	conf, err := config.GetConfig(configPath)
	if err != nil {
		return nil, err
	}
	shutdown, err := internal.InitTelemetry(context.Background(), conf.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if !conf.Mongo.Enabled {
		return nil, fmt.Errorf("mongo storage is not enabled")
	}
	mongo, err := internal.NewMongoClient(conf)
	if err != nil {
		return nil, fmt.Errorf("mongo client: %w", err)
	}
	if err = mongo.EnsureIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	logger.Info("mongo client initialized")

	catalog, err := internal.NewCatalog(conf.Plans)
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}

	client := internal.NewRedsysClient(conf, internal.NewLogger("redsys", conf.IsDebug, mongo))
	billingLogger := internal.NewLogger("billing", conf.IsDebug, mongo)
	if conf.DisablePayment {
		billingLogger.Warn("service disabled")
	} else {
		billingLogger.Info("service enabled")
	}
	return &app{
		conf:     conf,
		billing:  internal.NewBilling(conf, mongo, client, catalog, billingLogger),
		shutdown: shutdown,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger and notification endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot()
			if err != nil {
				return err
			}
			defer a.close()
			server := internal.NewServer(a.conf)
			server.SetLogger(internal.NewLogger("server", a.conf.IsDebug, nil))
			server.SetPaymentsService(a.billing)
			return server.Start()
		},
	}
}

func renewCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Charge due subscriptions once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot()
			if err != nil {
				return err
			}
			defer a.close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			report, err := a.billing.RunRenewals(ctx, dryRun)
			if report != nil {
				printReport(cmd, report)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be charged without charging")
	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire canceled subscriptions whose period has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := boot()
			if err != nil {
				return err
			}
			defer a.close()
			report, err := a.billing.ExpireCanceled(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd, report)
			return nil
		},
	}
}

func printReport(cmd *cobra.Command, report interface{}) {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(report)
}
