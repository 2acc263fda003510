package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"emojipapertrail/relay/internal/app"
	"emojipapertrail/relay/internal/model"
	"emojipapertrail/relay/internal/repository"
)

var (
	enterpriseID      string
	teamID            string
	enterpriseInstall bool
	showTokens        bool
)

var errNoWorkspace = errors.New("--team or --enterprise is required")

var installationCmd = &cobra.Command{
	Use:   "installation",
	Short: "Inspect and remove stored workspace installations",
}

var installationShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the latest installation for a workspace",
	RunE: withInstallationStore(func(cmd *cobra.Command, store *repository.InstallationStore) error {
		inst, err := store.FindInstallation(cmd.Context(), enterpriseID, teamID, enterpriseInstall)
		if err != nil {
			return err
		}
		if inst == nil {
			return fmt.Errorf("no installation for %s", store.WorkspaceKey(enterpriseID, teamID, enterpriseInstall))
		}
		return printJSON(cmd.OutOrStdout(), redact(*inst))
	}),
}

var installationHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Print every recorded installation for a workspace, oldest first",
	RunE: withInstallationStore(func(cmd *cobra.Command, store *repository.InstallationStore) error {
		history, err := store.History(cmd.Context(), enterpriseID, teamID, enterpriseInstall)
		if err != nil {
			return err
		}
		for i := range history {
			history[i] = redact(history[i])
		}
		return printJSON(cmd.OutOrStdout(), history)
	}),
}

var installationDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the latest installation and bot records; history is kept",
	RunE: withInstallationStore(func(cmd *cobra.Command, store *repository.InstallationStore) error {
		if err := store.DeleteAll(cmd.Context(), enterpriseID, teamID, enterpriseInstall); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", store.WorkspaceKey(enterpriseID, teamID, enterpriseInstall))
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{installationShowCmd, installationHistoryCmd, installationDeleteCmd} {
		c.Flags().StringVar(&enterpriseID, "enterprise", "", "enterprise id")
		c.Flags().StringVar(&teamID, "team", "", "team (workspace) id")
		c.Flags().BoolVar(&enterpriseInstall, "enterprise-install", false, "org-wide install; --team is ignored")
		installationCmd.AddCommand(c)
	}
	installationShowCmd.Flags().BoolVar(&showTokens, "show-tokens", false, "print tokens instead of redacting them")
	installationHistoryCmd.Flags().BoolVar(&showTokens, "show-tokens", false, "print tokens instead of redacting them")
	rootCmd.AddCommand(installationCmd)
}

func withInstallationStore(run func(*cobra.Command, *repository.InstallationStore) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		if enterpriseID == "" && teamID == "" {
			return errNoWorkspace
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		kv, err := app.OpenStore(cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := kv.Close(); err != nil {
				logger.Warn("close state store", zap.Error(err))
			}
		}()

		return run(cmd, app.NewInstallationStore(cfg, kv))
	}
}

func redact(inst model.Installation) model.Installation {
	if showTokens {
		return inst
	}
	if inst.BotToken != "" {
		inst.BotToken = "[redacted]"
	}
	if inst.UserToken != "" {
		inst.UserToken = "[redacted]"
	}
	return inst
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
