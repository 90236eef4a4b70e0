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

	"wqbot/internal/app"
	"wqbot/internal/config"
	"wqbot/internal/scheduler"
	logx "wqbot/pkg/logx"
)

const stopTimeout = 40 * time.Second

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot (long polling + daily schedule)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, configPath(cmd))
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			fatal := a.Err()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			return fatal
		},
	}
}

func newCycleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one delivery cycle now and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, configPath(cmd))
			if err != nil {
				return err
			}
			rep, cycleErr := a.RunCycle(ctx)

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.Stop(stopCtx, app.StopOneShot)

			if err := printJSON(cmd, rep); err != nil {
				return err
			}
			return cycleErr
		},
	}
}

func newStateCommand() *cobra.Command {
	st := &cobra.Command{Use: "state", Short: "Inspect persisted subscriber state"}
	st.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted snapshot as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(configPath(cmd)).Load()
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cmd.Context(), cfg, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			defer store.Close()
			b, err := store.Snapshot().Encode()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	})
	return st
}

func newConfigCommand() *cobra.Command {
	cc := &cobra.Command{Use: "config", Short: "Config helpers"}
	cc.AddCommand(
		&cobra.Command{
			Use:   "check",
			Short: "Parse and validate the config file",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.NewConfigManager(configPath(cmd)).Load()
				if err != nil {
					return err
				}
				sched := scheduler.Describe(scheduler.Config{
					Enabled:  cfg.Schedule.Enabled,
					At:       cfg.Schedule.At,
					Cron:     cfg.Schedule.Cron,
					Timezone: cfg.Schedule.Timezone,
				})
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok: state=%s schedule=%s\n", cfg.State.Driver, sched)
				return err
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the config JSON Schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				b, err := config.Schema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			},
		},
	)
	return cc
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
