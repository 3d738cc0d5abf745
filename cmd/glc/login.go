package main

import (
	"fmt"
	"strings"

	"github.com/BadgerOps/glc/internal/failure"
	"github.com/spf13/cobra"
)

var (
	loginAPIKey string
	loginNoSave bool
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange an API key for a session token",
		Long: `Log in to Game Launcher Cloud with an API key. The key is taken from
--api-key, the per-environment api_keys entry in the config file, api_key,
or the GLC_API_KEY environment variable, in that order.

The returned token is saved to the config file unless --no-save is given.`,
		Example: `  glc login --api-key glc_live_xxx
  GLC_API_KEY=glc_live_xxx glc login
  glc login --env staging`,
		RunE: loginRun,
	}

	cmd.Flags().StringVar(&loginAPIKey, "api-key", "", "API key (defaults to config or GLC_API_KEY)")
	cmd.Flags().BoolVar(&loginNoSave, "no-save", false, "do not write the token to the config file")

	return cmd
}

func loginRun(cmd *cobra.Command, args []string) error {
	if globalClient == nil {
		return fmt.Errorf("api client not initialized")
	}

	key := strings.TrimSpace(loginAPIKey)
	if key == "" {
		key = globalCfg.ResolvedAPIKey()
	}
	if key == "" {
		return failure.Errorf(failure.KindValidation, "login", "no API key given; use --api-key or set GLC_API_KEY")
	}

	ctx, cancel := signalContext()
	defer cancel()

	id, err := globalClient.Login(ctx, key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, successStyle.Render("Logged in"))
	field(out, "User", firstNonEmpty(id.Username, id.Email, id.ID))
	if id.PlanName != "" {
		field(out, "Plan", id.PlanName)
	}
	field(out, "Environment", globalCfg.API.Environment)

	if loginNoSave {
		return nil
	}
	globalCfg.API.Token = id.Token
	path := configSavePath()
	if path == "" {
		logger.Warn("no config path available, token not saved")
		return nil
	}
	if err := globalCfg.Save(path); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	logger.Info("token saved", "path", path)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
