package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/charleshuang3/onboard/internal/config"
	"github.com/charleshuang3/onboard/internal/gormw"
	"github.com/charleshuang3/onboard/internal/identity"
	"github.com/charleshuang3/onboard/internal/invite"
	"github.com/charleshuang3/onboard/internal/notify"
	"github.com/charleshuang3/onboard/internal/storage"
)

var (
	configPath string

	cfg         *config.Config
	db          *gormw.DB
	manager     *invite.Manager
	identities  *identity.LocalProvider
	coordinator *invite.Coordinator

	rootCmd = &cobra.Command{
		Use:          "onboardctl",
		Short:        "Administrate organization onboarding",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to configuration file")

	rootCmd.AddCommand(
		migrateCmd,
		orgCmd,
		adminCmd,
		inviteCmd,
	)
}

// initBackend opens the database and wires the invite services.
func initBackend(cmd *cobra.Command, _ []string) error {
	if configPath == "" {
		log.Fatal().Msg("Config path must be provided via CONFIG_PATH env var or -c flag")
	}
	cfg = config.LoadConfig(configPath)

	var err error
	db, err = gormw.Open(&cfg.DB)
	if err != nil {
		return err
	}

	manager = invite.NewManager(invite.ManagerConfig{
		WebOrigin: cfg.WebOrigin,
		Invites:   storage.NewInviteStore(db),
		Profiles:  storage.NewProfileStore(db),
		Notifier:  notify.New(&cfg.SMTP),
		Directory: storage.NewDirectory(db),
	})
	identities = identity.NewLocalProvider(&cfg.Identity, db)
	coordinator = invite.NewCoordinator(manager, identities, cfg.Redeem.Policy())
	return nil
}

func waitBackend(cmd *cobra.Command, _ []string) error {
	manager.Wait()
	identities.Wait()
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
