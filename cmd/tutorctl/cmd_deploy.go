package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsbakr/weave-tutor/pkg/classify"
	"github.com/itsbakr/weave-tutor/pkg/config"
	"github.com/itsbakr/weave-tutor/pkg/deploy"
	"github.com/itsbakr/weave-tutor/pkg/llm"
	"github.com/itsbakr/weave-tutor/pkg/repair"
	"github.com/itsbakr/weave-tutor/pkg/sandbox"
	"github.com/itsbakr/weave-tutor/pkg/sandbox/setup"
)

func runDeploy(cmd *cobra.Command, _ []string) error {
	code, err := os.ReadFile(deployFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	generator, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:        cfg.Generator.BaseURL,
		APIKey:         cfg.Generator.APIKey,
		Model:          cfg.Generator.Model,
		Timeout:        cfg.Generator.Timeout,
		MaxRetries:     cfg.Generator.MaxRetries,
		InitialBackoff: cfg.Generator.InitialBackoff,
	})
	if err != nil {
		return fmt.Errorf("creating generator client: %w", err)
	}

	rt, err := setup.NewRuntime(ctx, cfg.Sandbox)
	if err != nil {
		return err
	}
	classifier := classify.New()
	driver := setup.NewDriver(rt, classifier, cfg.Sandbox)

	orchestrator, err := deploy.New(driver, repair.NewGenerator(generator), deploy.Config{
		Classifier: classifier,
		Observers:  []deploy.Observer{progress(cmd)},
	})
	if err != nil {
		return err
	}

	attempts := maxAttempts
	if attempts <= 0 {
		attempts = cfg.Sandbox.MaxAttempts
	}
	result, err := orchestrator.Run(ctx, string(code), deploy.Context{Topic: deployTopic, SessionKey: sessionKey}, attempts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Succeeded() {
		return exitCodeError(2)
	}
	if keepSandbox {
		return nil
	}

	cmd.PrintErrf("preview live at %s; press Ctrl-C to tear it down\n", result.PreviewAddress)
	<-ctx.Done()

	tctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := driver.Teardown(tctx, &sandbox.Handle{SandboxID: result.SandboxID}); err != nil {
		return fmt.Errorf("tearing down %s: %w", result.SandboxID, err)
	}
	cmd.PrintErrln("sandbox removed")
	return nil
}

// progress prints loop events to stderr as they happen.
func progress(cmd *cobra.Command) deploy.Observer {
	return deploy.ObserverFuncs{
		OnAttempt: func(_ context.Context, _ deploy.Context, a deploy.Attempt) {
			if a.Outcome.Failed() {
				cmd.PrintErrf("attempt %d: %s (%s)\n", a.Number, a.Outcome, a.Category)
				return
			}
			cmd.PrintErrf("attempt %d: %s\n", a.Number, a.Outcome)
		},
		OnRepair: func(_ context.Context, _ deploy.Context, ev deploy.RepairEvent) {
			switch {
			case ev.Err != nil:
				cmd.PrintErrf("repair after attempt %d failed: %v\n", ev.Attempt, ev.Err)
			case ev.Changed():
				cmd.PrintErrf("repaired %s error from attempt %d\n", ev.Category, ev.Attempt)
			default:
				cmd.PrintErrf("repair after attempt %d returned unchanged code\n", ev.Attempt)
			}
		},
	}
}
