package main

import (
	"github.com/spf13/cobra"
	"github.com/yairfalse/allot/types"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var (
		tenant int64
		period string
		date   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate and manage chargeback reports",
		Long: `Generate a chargeback report for the period containing --date.

Periods: daily, weekly (Sunday to Saturday), monthly, quarterly, yearly.
Reports are stored and can be listed or exported to S3 afterwards.`,
		Example: `  allot report --tenant 1 --period monthly --date 2024-03-15
  allot report list --tenant 1
  allot report export --tenant 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				resp := a.svc.GenerateReport(cmd.Context(), tenant, period, date)
				return printResponse(cmd.OutOrStdout(), resp.Status, resp)
			})
		},
	}

	cmd.PersistentFlags().Int64VarP(&tenant, "tenant", "t", 0, "Tenant id")
	cmd.Flags().StringVarP(&period, "period", "p", types.ReportMonthly, "Report period")
	cmd.Flags().StringVarP(&date, "date", "d", "", "Report date (YYYY-MM-DD), defaults to today")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List a tenant's reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				resp := a.svc.ListReports(cmd.Context(), tenant)
				return printResponse(cmd.OutOrStdout(), resp.Status, resp)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export [report-id...]",
		Short: "Export reports to S3 (all of the tenant's reports when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				resp := a.svc.ExportReports(cmd.Context(), tenant, args)
				return printResponse(cmd.OutOrStdout(), resp.Status, resp)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <report-id>...",
		Short: "Delete reports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				resp := a.svc.DeleteReports(cmd.Context(), tenant, args)
				return printResponse(cmd.OutOrStdout(), resp.Status, resp)
			})
		},
	})

	return cmd
}
