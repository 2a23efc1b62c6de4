package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/rental-checkout/internal/config"
	"github.com/yourorg/rental-checkout/internal/ledger"
	"github.com/yourorg/rental-checkout/internal/quote"
	"github.com/yourorg/rental-checkout/internal/reporting"
	"github.com/yourorg/rental-checkout/internal/tracing"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rental-checkout",
		Short:         "Car rental booking and Pesapal checkout service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "optional YAML config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded into the environment if present")

	root.AddCommand(serveCmd())
	root.AddCommand(ipnCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(reportCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	return config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile, Flags: cmd.Flags()})
}

// withApp loads the configuration, wires the app, and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the booking and checkout HTTP API.

Examples:
  rental-checkout serve --addr :8080
  rental-checkout serve --trace --config config.yaml`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().String("currency", "", "pricing currency (overrides BOOKING_CURRENCY)")
	cmd.Flags().String("redis", "", "Redis address for booking sessions (overrides REDIS_ADDR)")
	cmd.Flags().String("database", "", "Postgres DSN for the payment ledger (overrides DATABASE_URL)")
	cmd.Flags().Bool("trace", false, "export OpenTelemetry spans to stdout")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.LogSummary()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		_, shutdown, err := tracing.NewProvider(os.Stdout, true)
		if err != nil {
			return fmt.Errorf("failed to start tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	router := setupRouter(newServer(a.svc, a.monitor, a.ledger, cfg.Booking.SessionTTL))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to run server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func ipnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ipn",
		Short: "Manage Pesapal IPN registrations",
	}

	register := &cobra.Command{
		Use:   "register [url]",
		Short: "Register an IPN URL (defaults to PESAPAL_IPN_URL)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notificationType, _ := cmd.Flags().GetString("type")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				url := a.cfg.Pesapal.IPNURL
				if len(args) == 1 {
					url = args[0]
				}
				if url == "" {
					return errors.New("no IPN URL given and PESAPAL_IPN_URL is not set")
				}
				if notificationType == "" {
					notificationType = a.cfg.Pesapal.IPNNotificationType
				}
				reg, err := a.client.RegisterIPN(ctx, url, notificationType)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n  ipn_id: %s\n  type:   %s\n", reg.URL, reg.IPNID, notificationType)
				fmt.Fprintf(cmd.OutOrStdout(), "Set PESAPAL_IPN_ID=%s to skip registration at startup.\n", reg.IPNID)
				return nil
			})
		},
	}
	register.Flags().String("type", "", "notification type, GET or POST (defaults to PESAPAL_IPN_NOTIFICATION_TYPE)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered IPN URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ipns, err := a.client.ListIPNs(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "IPN ID\tURL\tTYPE\tSTATUS\tCREATED")
				for _, ipn := range ipns {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ipn.IPNID, ipn.URL, ipn.NotificationType, ipn.IPNStatusDescription, ipn.CreatedDate)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(register, list)
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <orderTrackingId>",
		Short: "Fetch the normalized status of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.gateway.GetTransactionStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize recorded payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f ledger.Filter
			for flag, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
				v, _ := cmd.Flags().GetString(flag)
				if v == "" {
					continue
				}
				t, err := quote.ParseDate(v)
				if err != nil {
					return fmt.Errorf("--%s: %w", flag, err)
				}
				*dst = t
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				records, err := a.ledger.List(ctx, f)
				if err != nil {
					return err
				}
				report, err := reporting.NewRetrospectiveReporter().GenerateRetrospective(records)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().String("since", "", "only orders created at or after this date")
	cmd.Flags().String("until", "", "only orders created before this date")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
