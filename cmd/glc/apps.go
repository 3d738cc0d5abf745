package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAppsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List the apps you can upload builds to",
		Long: `List the apps visible to the logged-in account, with their build counts.
Use the ID with glc upload --app-id.`,
		Example: `  glc apps
  glc apps --env staging`,
		RunE: appsRun,
	}

	return cmd
}

func appsRun(cmd *cobra.Command, args []string) error {
	if globalClient == nil {
		return fmt.Errorf("api client not initialized")
	}

	ctx, cancel := signalContext()
	defer cancel()

	list, err := globalClient.ListTargets(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list.Apps) == 0 {
		fmt.Fprintln(out, "No apps found. Create one in the dashboard: "+globalCfg.DashboardURL())
		return nil
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Apps (%d, plan %s)", list.TotalApps, list.PlanName)))
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "%-8s %-32s %8s %6s\n", "ID", "Name", "Builds", "Owner")
	fmt.Fprintln(out, strings.Repeat("-", 58))
	for _, app := range list.Apps {
		owner := "no"
		if app.IsOwnedByUser {
			owner = "yes"
		}
		fmt.Fprintf(out, "%-8d %-32s %8d %6s\n", app.ID, truncate(app.Name, 32), app.BuildCount, owner)
	}
	fmt.Fprintln(out, "")

	return nil
}
