package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yairfalse/allot/bundle"
)

func newBundleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Validate and load YAML rule and policy bundles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a bundle without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bundle.Load(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "bundle valid: tenant %d, %d rules, %d policies\n",
				b.TenantID, len(b.Rules), len(b.Policies))
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load <file>",
		Short: "Store every rule and policy of a bundle, replacing items with the same id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bundle.Load(args[0])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				ctx := cmd.Context()
				for _, r := range b.Rules {
					if resp := a.svc.CreateRule(ctx, b.TenantID, r); !resp.Success {
						return fmt.Errorf("rule %s: %s", r.ID, resp.Error)
					}
				}
				for _, p := range b.GovernancePolicies() {
					if resp := a.svc.CreatePolicy(ctx, b.TenantID, p); !resp.Success {
						return fmt.Errorf("policy %s: %s", p.ID, resp.Error)
					}
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rules and %d policies for tenant %d\n",
					len(b.Rules), len(b.Policies), b.TenantID)
				return err
			})
		},
	})

	return cmd
}
