package tenantcmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mutare-labs/fleetpay-saas/domains/tenants/be/repo"
	"github.com/mutare-labs/fleetpay-saas/domains/tenants/be/service"
	"github.com/mutare-labs/fleetpay-saas/platform/go/audit"
	"github.com/mutare-labs/fleetpay-saas/platform/go/persistence"
)

// Command groups tenant registry helpers. Every mutation goes through the
// same audited service the API uses; the CLI never writes rows directly.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant registry utilities (create/list/suspend/reactivate)",
	}

	cmd.AddCommand(createCommand())
	cmd.AddCommand(listCommand())
	cmd.AddCommand(suspendCommand())
	cmd.AddCommand(reactivateCommand())
	return cmd
}

func newService(ctx context.Context, databaseURL string) (*service.Service, func(), error) {
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	svc := service.New(repo.NewPostgresRepository(pool), audit.NewStore(pool))
	return svc, func() { persistence.ClosePool(pool) }, nil
}

func createCommand() *cobra.Command {
	var (
		databaseURL string
		actor       string
		name        string
		plan        string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cleanup, err := newService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer cleanup()

			planTier := service.PlanTier(plan)
			if plan != "" {
				if planTier, err = service.ParsePlanTier(plan); err != nil {
					return err
				}
			}

			created, err := svc.Create(ctx, actor, service.CreateInput{Name: name, PlanTier: planTier})
			if err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", created.ID, created.Name, created.PlanTier, created.Status)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	c.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the audit trail")
	c.Flags().StringVar(&name, "name", "", "tenant display name")
	c.Flags().StringVar(&plan, "plan", "", "plan tier (STARTER, GROWTH, ENTERPRISE)")
	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("name")

	return c
}

func listCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cleanup, err := newService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := svc.List(ctx, service.ListOptions{PageSize: 100})
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}

			for _, t := range result.Tenants {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.PlanTier, t.Status)
			}
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	_ = c.MarkFlagRequired("database-url")

	return c
}

func suspendCommand() *cobra.Command {
	var (
		databaseURL string
		actor       string
	)

	c := &cobra.Command{
		Use:   "suspend <tenant-id>",
		Short: "Suspend a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cleanup, err := newService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer cleanup()

			suspended, err := svc.Suspend(ctx, actor, args[0])
			if err != nil {
				return fmt.Errorf("suspend tenant: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", suspended.ID, suspended.Status)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	c.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the audit trail")
	_ = c.MarkFlagRequired("database-url")

	return c
}

func reactivateCommand() *cobra.Command {
	var (
		databaseURL string
		actor       string
	)

	c := &cobra.Command{
		Use:   "reactivate <tenant-id>",
		Short: "Reactivate a suspended tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, cleanup, err := newService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer cleanup()

			reactivated, err := svc.Reactivate(ctx, actor, args[0])
			if err != nil {
				return fmt.Errorf("reactivate tenant: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", reactivated.ID, reactivated.Status)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	c.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the audit trail")
	_ = c.MarkFlagRequired("database-url")

	return c
}
