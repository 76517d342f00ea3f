package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/attendance-kiosk/internal/database"
	"github.com/kozaktomas/attendance-kiosk/internal/facematch"
	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage enrolled employees",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled employees of this kiosk's scope",
	Long: `List enrolled employees of the configured organization and branch.
The name filter ignores case and diacritics.

Examples:
  attendance-kiosk identities list --q novak
  attendance-kiosk identities list --all --json`,
	RunE: runIdentitiesList,
}

var identitiesActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Allow an employee to be matched again",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setIdentityActive(args[0], true) },
}

var identitiesDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Stop matching an employee without deleting their references",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setIdentityActive(args[0], false) },
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd, identitiesActivateCmd, identitiesDeactivateCmd)

	identitiesListCmd.Flags().String("q", "", "Filter by name")
	identitiesListCmd.Flags().Bool("all", false, "Include deactivated employees")
	identitiesListCmd.Flags().Bool("json", false, "Output as JSON")
}

type identityRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	OrgID    string `json:"org_id,omitempty"`
	BranchID string `json:"branch_id,omitempty"`
	Active   bool   `json:"active"`
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	query := mustGetString(cmd, "q")
	includeInactive := mustGetBool(cmd, "all")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	reader, err := database.GetIdentityReader(ctx)
	if err != nil {
		return err
	}
	all, err := reader.List(ctx, cfg.Kiosk.Scope())
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	var identities []database.EnrolledIdentity
	for i := range all {
		if !includeInactive && !all[i].Active {
			continue
		}
		if !facematch.NameContains(all[i].Name, query) {
			continue
		}
		identities = append(identities, all[i])
	}

	if jsonOutput {
		rows := make([]identityRow, len(identities))
		for i := range identities {
			rows[i] = identityRow{
				ID:       identities[i].ID,
				Name:     identities[i].Name,
				OrgID:    identities[i].OrgID,
				BranchID: identities[i].BranchID,
				Active:   identities[i].Active,
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(identities) == 0 {
		fmt.Println("No employees found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tORG\tBRANCH\tACTIVE")
	fmt.Fprintln(w, "--\t----\t---\t------\t------")
	for i := range identities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", identities[i].ID, identities[i].Name,
			identities[i].OrgID, identities[i].BranchID, identities[i].Active)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d employees\n", len(identities))
	return nil
}

func setIdentityActive(id string, active bool) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	writer, err := database.GetIdentityWriter(ctx)
	if err != nil {
		return err
	}
	if err := writer.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("failed to update %s: %w", id, err)
	}

	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Printf("Employee %s %s\n", id, state)
	return nil
}
