package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/yairfalse/allot/types"
)

func newImportCmd(opts *rootOptions) *cobra.Command {
	var tenant int64

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import billing records from a JSON file",
		Long: `Import billing records for one tenant.

The file holds a JSON array of cost records, or an object with a
"records" array. Use "-" to read from standard input.`,
		Example: `  allot import --tenant 1 march.json
  cat export.json | allot import --tenant 1 -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				resp := a.svc.ImportRecords(cmd.Context(), tenant, records)
				return printResponse(cmd.OutOrStdout(), resp.Status, resp)
			})
		},
	}

	cmd.Flags().Int64VarP(&tenant, "tenant", "t", 0, "Tenant id")
	return cmd
}

// readRecords accepts a bare array or a {"records": [...]} object
func readRecords(stdin io.Reader, path string) ([]types.CostRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) // #nosec G304 -- path is intentional user input
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []types.CostRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse records: %w", err)
		}
		return records, nil
	}

	var wrapped struct {
		Records []types.CostRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}
	return wrapped.Records, nil
}

func newAllocateCmd(opts *rootOptions) *cobra.Command {
	var (
		tenant   int64
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate a tenant's stored records and print the result",
		Example: `  allot allocate --tenant 1
  allot allocate --tenant 1 --from 2024-03-01 --to 2024-03-31`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				resp := a.svc.Allocate(cmd.Context(), tenant, from, to)
				return printResponse(cmd.OutOrStdout(), resp.Status, resp)
			})
		},
	}

	cmd.Flags().Int64VarP(&tenant, "tenant", "t", 0, "Tenant id")
	cmd.Flags().StringVar(&from, "from", "", "First billing date (YYYY-MM-DD), inclusive")
	cmd.Flags().StringVar(&to, "to", "", "Last billing date (YYYY-MM-DD), inclusive")
	return cmd
}

func newEnforceCmd(opts *rootOptions) *cobra.Command {
	var tenant int64

	cmd := &cobra.Command{
		Use:     "enforce",
		Short:   "Evaluate a tenant's active governance policies",
		Example: `  allot enforce --tenant 1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				resp := a.svc.Enforce(cmd.Context(), tenant)
				return printResponse(cmd.OutOrStdout(), resp.Status, resp)
			})
		},
	}

	cmd.Flags().Int64VarP(&tenant, "tenant", "t", 0, "Tenant id")
	return cmd
}
