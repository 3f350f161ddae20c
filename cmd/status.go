package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"rudder/internal/admin"
	"rudder/internal/automaton"
)

// statusTenant narrows the listing to one tenant.
var statusTenant string

var statusCmd = &cobra.Command{
	Use:   "status [RESOURCE_ID]",
	Short: "Show router states",
	Long: `Lists every router the orchestrator is tracking, or one router's full
snapshot when a resource ID is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := admin.NewClient(adminURL)
	ctx := cmd.Context()

	if len(args) == 1 {
		st, err := client.GetStatus(ctx, args[0])
		if err != nil {
			return err
		}
		printStatusDetail(cmd, st)
		return nil
	}

	var statuses []automaton.Status
	var err error
	if statusTenant != "" {
		statuses, err = client.TenantStatuses(ctx, statusTenant)
	} else {
		statuses, err = client.ListStatuses(ctx)
	}
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"RESOURCE", "TENANT", "STATE", "MANAGED", "FAILURES", "PENDING", "LAST TRANSITION"})
	for _, st := range statuses {
		t.AppendRow(table.Row{
			st.ResourceID,
			st.TenantID,
			st.State,
			st.Managed,
			st.ConsecutiveFailures,
			st.PendingEvents,
			st.LastTransition.Format(time.RFC3339),
		})
	}
	t.Render()
	return nil
}

func printStatusDetail(cmd *cobra.Command, st automaton.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Resource:        %s\n", st.ResourceID)
	fmt.Fprintf(out, "Tenant:          %s\n", st.TenantID)
	fmt.Fprintf(out, "State:           %s\n", st.State)
	fmt.Fprintf(out, "Managed:         %t\n", st.Managed)
	fmt.Fprintf(out, "Failures:        %d\n", st.ConsecutiveFailures)
	fmt.Fprintf(out, "Pending events:  %d\n", st.PendingEvents)
	if st.InstanceRef != "" {
		fmt.Fprintf(out, "Instance:        %s\n", st.InstanceRef)
	}
	if st.LastAppliedHash != "" {
		fmt.Fprintf(out, "Applied config:  %s\n", st.LastAppliedHash)
	}
	if st.LastError != "" {
		fmt.Fprintf(out, "Last error:      %s\n", st.LastError)
	}
	fmt.Fprintf(out, "Created:         %s\n", st.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Last transition: %s\n", st.LastTransition.Format(time.RFC3339))
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusTenant, "tenant", "", "Only show routers of this tenant")
}
