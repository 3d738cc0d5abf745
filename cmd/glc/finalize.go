package main

import (
	"fmt"

	"github.com/BadgerOps/glc/internal/engine"
	"github.com/spf13/cobra"
)

func newFinalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize RUN_ID",
		Short: "Retry finalizing a run whose bytes were already uploaded",
		Long: `Re-send the finalize call for a recorded run that failed after every part
was acknowledged. The stored upload id and part entity tags are used;
nothing is uploaded again. Runs with missing parts must be uploaded again.`,
		Example: `  glc history --state failed
  glc finalize 2b1c6a0e-5d1f-4a57-9a43-6a8f0f3c9d11`,
		Args: cobra.ExactArgs(1),
		RunE: finalizeRun,
	}

	return cmd
}

func finalizeRun(cmd *cobra.Command, args []string) error {
	if globalClient == nil {
		return fmt.Errorf("api client not initialized")
	}
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	publisher, err := newPublisher()
	if err != nil {
		return err
	}
	opts := []engine.Option{engine.WithRecorder(globalStore), engine.WithDashboardURL(globalCfg.DashboardURL())}
	if publisher != nil {
		defer publisher.Close()
		opts = append(opts, engine.WithPublisher(publisher))
	}
	orch := engine.New(globalClient, nil, logger, opts...)

	ctx, cancel := signalContext()
	defer cancel()

	outcome := orch.RetryFinalize(ctx, args[0])
	printOutcome(cmd.OutOrStdout(), outcome)
	if !outcome.Success {
		return outcome.Err
	}
	return nil
}
