package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/automationservice/flowengine/internal/types"
	"github.com/automationservice/flowengine/internal/workflow"
)

var validateTenant string

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Validate workflow definition files",
	Long: `Validate one or more workflow YAML files: node payload typing, edge
references, guard placement, acyclicity, and reachability from trigger
entry points.

Exit code is non-zero when any file fails validation.

Examples:
  flowengine validate examples/workflows/welcome.yaml
  flowengine validate examples/workflows/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateTenant, "tenant", "", "Tenant ID to validate under (generated when omitted)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	tenantID := types.ID(validateTenant)
	if tenantID.IsZero() {
		tenantID = types.NewID()
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	failed := 0
	for _, path := range args {
		w, err := workflow.ParseYAMLFile(tenantID, path)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", red("FAIL"), path)
			fmt.Fprintf(cmd.OutOrStdout(), "     %v\n", err)
			continue
		}

		validator := workflow.NewValidator()
		if err := validator.Validate(w); err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", red("FAIL"), path)
			fmt.Fprintf(cmd.OutOrStdout(), "     %v\n", err)
			continue
		}

		order, err := validator.TopologicalSort(w)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", red("FAIL"), path)
			fmt.Fprintf(cmd.OutOrStdout(), "     %v\n", err)
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %d nodes, %d edges)\n",
			green("OK"), path, w.Name, len(w.Nodes), len(w.Edges))
		if verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "     entry points: %s\n", strings.Join(w.EntryPoints, ", "))
			fmt.Fprintf(cmd.OutOrStdout(), "     execution order: %s\n", strings.Join(order, " -> "))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d workflow file(s) failed validation", failed, len(args))
	}
	return nil
}
