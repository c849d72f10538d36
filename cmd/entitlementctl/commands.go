package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/wekeepgrowing/entitlement-service/internal/app"
	"github.com/wekeepgrowing/entitlement-service/internal/catalog"
	"github.com/wekeepgrowing/entitlement-service/internal/config"
	"github.com/wekeepgrowing/entitlement-service/internal/domain/entity"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/database"
	"github.com/wekeepgrowing/entitlement-service/internal/infrastructure/provider"
	"github.com/wekeepgrowing/entitlement-service/pkg/messaging"
	"go.uber.org/zap"
)

type entitlementView struct {
	entity.Entitlement
	EffectiveTier entity.PlanTier `json:"effective_tier"`
	Features      []string        `json:"features"`
}

func newEntitlementView(a *app.App, e entity.Entitlement) entitlementView {
	tier := a.Gate.EffectiveTier(e)
	return entitlementView{Entitlement: e, EffectiveTier: tier, Features: a.Catalog.Features(tier)}
}

func (v entitlementView) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	periodEnd := "-"
	if v.CurrentPeriodEnd != nil {
		periodEnd = v.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(tw, "user\t%s\n", v.UserID)
	fmt.Fprintf(tw, "status\t%s\n", v.Status)
	fmt.Fprintf(tw, "plan tier\t%s\n", v.PlanTier)
	fmt.Fprintf(tw, "effective tier\t%s\n", v.EffectiveTier)
	fmt.Fprintf(tw, "subscription\t%s\n", orDash(v.BillingSubscriptionID))
	fmt.Fprintf(tw, "customer\t%s\n", orDash(v.BillingCustomerID))
	fmt.Fprintf(tw, "period end\t%s\n", periodEnd)
	fmt.Fprintf(tw, "pending\t%t\n", v.PendingOptimistic)
	fmt.Fprintf(tw, "revision\t%d\n", v.Revision)
	fmt.Fprintf(tw, "features\t%s\n", strings.Join(v.Features, ", "))
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func parseUserID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q: %w", arg, err)
	}
	return id, nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires database.driver %q, got %q", config.DriverPostgres, cfg.Database.Driver)
			}

			db, err := database.NewConnection(&cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(db, log); err != nil {
					log.Error("Failed to close database connection", zap.Error(err))
				}
			}()

			if err := database.Migrate(db, log); err != nil {
				return fmt.Errorf("failed to run database migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's stored entitlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Service.Get(cmd.Context(), userID)
			if err != nil {
				return err
			}
			view := newEntitlementView(a, e)
			return opts.print(cmd.OutOrStdout(), view, view.writeText)
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user-id>",
		Short: "Rebuild a user's entitlement from the billing provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Service.Reconcile(cmd.Context(), userID)
			if err != nil {
				return err
			}
			view := newEntitlementView(a, e)
			return opts.print(cmd.OutOrStdout(), view, view.writeText)
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweeper pass and print what it did",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), report, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "expired=%d reconciled=%d failed=%d pruned=%d\n",
					report.Expired, report.Reconciled, report.Failed, report.Pruned)
				return err
			})
		},
	}
}

func newPlansCmd(opts *rootOptions) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List the plan catalog",
		Long: `List the plan catalog. With --check, compare it against the billing
provider's active recurring prices and exit non-zero on any drift.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			plans, err := catalog.LoadFile(cfg.PlansFile)
			if err != nil {
				return fmt.Errorf("failed to load plan catalog: %w", err)
			}

			if !check {
				list := plans.Plans()
				return opts.print(cmd.OutOrStdout(), list, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "CODE\tPRICE\tTIER\tAMOUNT\tINTERVAL")
					for _, p := range list {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\n", p.Code, p.PriceID, p.Tier, p.Amount.StringFixed(2), p.Currency, p.Interval)
					}
					return tw.Flush()
				})
			}

			billing, err := provider.NewFactory(cfg.Billing, log).Create()
			if err != nil {
				return fmt.Errorf("failed to create billing provider: %w", err)
			}
			prices, err := billing.ListPrices(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list provider prices: %w", err)
			}

			drift := plans.Diff(prices)
			if drift == nil {
				drift = []catalog.Drift{}
			}
			if err := opts.print(cmd.OutOrStdout(), drift, func(w io.Writer) error {
				if len(drift) == 0 {
					_, err := fmt.Fprintf(w, "catalog matches %d provider prices\n", len(prices))
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "KIND\tPRICE\tPLAN\tTIER\tDETAIL")
				for _, d := range drift {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Kind, d.PriceID, orDash(d.PlanCode), d.Tier, d.Detail)
				}
				return tw.Flush()
			}); err != nil {
				return err
			}
			if len(drift) > 0 {
				return fmt.Errorf("plan catalog drift: %d difference(s)", len(drift))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "compare the catalog with the billing provider")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print entitlement change messages from the redis feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.Events.Driver != config.EventsRedis {
				return fmt.Errorf("watch requires events.driver %q, got %q", config.EventsRedis, cfg.Events.Driver)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := messaging.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer client.Close()

			return watch(ctx, client, cfg.Events.Channel, cmd.OutOrStdout())
		},
	}
}

// watch copies every message on channel to w, one JSON document per line,
// until ctx is done.
func watch(ctx context.Context, client messaging.RedisClient, channel string, w io.Writer) error {
	messages, err := client.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	for msg := range messages {
		if _, err := fmt.Fprintf(w, "%s\n", msg.Payload); err != nil {
			return err
		}
	}
	return nil
}
