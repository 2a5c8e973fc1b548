package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/charleshuang3/onboard/internal/invite"
	"github.com/charleshuang3/onboard/internal/models"
	"github.com/charleshuang3/onboard/internal/storage"
)

var (
	migrateCmd = &cobra.Command{
		Use:               "migrate",
		Short:             "Migrate the database to the latest models",
		PersistentPreRunE: initBackend,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := db.Migrate(); err != nil {
				return fmt.Errorf("migration: %w", err)
			}
			return nil
		},
	}

	orgCmd = &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
	}

	orgCreateCmd = &cobra.Command{
		Use:               "create NAME",
		Short:             "Create an organization",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: initBackend,
		RunE: func(cmd *cobra.Command, args []string) error {
			org := &models.Organization{Name: args[0]}
			if err := storage.CreateOrganization(cmd.Context(), db, org); err != nil {
				return fmt.Errorf("create organization: %w", err)
			}
			cmd.Println(org.ID)
			return nil
		},
	}

	adminCmd = &cobra.Command{
		Use:   "admin",
		Short: "Manage organization admins",
	}

	adminBootstrapCmd = &cobra.Command{
		Use:                "bootstrap",
		Short:              "Provision the first admin of an organization",
		Long:               "Issues an admin invite for the organization and redeems it right away, the same way an invitee signing up would.",
		PersistentPreRunE:  initBackend,
		PersistentPostRunE: waitBackend,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			orgID, _ := cmd.Flags().GetString("org")
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			password, _ := cmd.Flags().GetString("password")

			if _, err := storage.GetOrganizationByID(ctx, db, orgID); err != nil {
				return fmt.Errorf("organization %s: %w", orgID, err)
			}

			email, err := invite.NormalizeEmail(email)
			if err != nil {
				return err
			}
			token, err := invite.RandomTokens.Issue()
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			inv := &models.Invite{
				OrganizationID: orgID,
				Email:          email,
				Role:           models.RoleAdmin,
				Token:          token,
				InvitedBy:      "onboardctl",
				CreatedAt:      now,
				ExpiresAt:      now.Add(models.InviteTTL),
			}
			if err := storage.NewInviteStore(db).Create(ctx, inv); err != nil {
				return fmt.Errorf("create invite: %w", err)
			}

			p, err := coordinator.Redeem(ctx, token, name, password)
			if err != nil {
				return fmt.Errorf("redeem admin invite %s: %w", inv.ID, err)
			}
			cmd.Println(p.ID)
			return nil
		},
	}

	inviteCmd = &cobra.Command{
		Use:   "invite",
		Short: "Inspect and repair invites",
	}

	invitePendingCmd = &cobra.Command{
		Use:                "pending ORG_ID",
		Short:              "List pending invites of an organization",
		Args:               cobra.ExactArgs(1),
		PersistentPreRunE:  initBackend,
		PersistentPostRunE: waitBackend,
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := manager.ListPending(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tROLE\tEXPIRES")
			for _, inv := range pending {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", inv.ID, inv.Email, inv.Role, inv.ExpiresAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	inviteRepairCmd = &cobra.Command{
		Use:               "repair INVITE_ID",
		Short:             "Mark an invite stuck in pending as used",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: initBackend,
		RunE: func(cmd *cobra.Command, args []string) error {
			as, _ := cmd.Flags().GetString("as")
			outcome, err := manager.Repair(cmd.Context(), as, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s: %s\n", outcome.Action, outcome.Message)
			return nil
		},
	}
)

func init() {
	orgCmd.AddCommand(orgCreateCmd)

	adminBootstrapCmd.Flags().String("org", "", "Organization id")
	adminBootstrapCmd.Flags().String("email", "", "Admin email")
	adminBootstrapCmd.Flags().String("name", "", "Admin display name")
	adminBootstrapCmd.Flags().String("password", "", "Admin password")
	for _, f := range []string{"org", "email", "name", "password"} {
		_ = adminBootstrapCmd.MarkFlagRequired(f)
	}
	adminCmd.AddCommand(adminBootstrapCmd)

	inviteRepairCmd.Flags().String("as", "", "Identity id of the admin performing the repair")
	_ = inviteRepairCmd.MarkFlagRequired("as")
	inviteCmd.AddCommand(invitePendingCmd, inviteRepairCmd)
}
