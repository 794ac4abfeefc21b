/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/folio-press/apiserver/config"
	"github.com/folio-press/apiserver/internal/mq"
	"github.com/folio-press/apiserver/types"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect account lifecycle events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print account events as they are published",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, err := mq.Open(ctx, cfg)
		if err != nil {
			return err
		}
		if backend == nil {
			return errors.New("events need MQ_BACKEND=rabbitmq or MQ_BACKEND=pubsub")
		}
		defer backend.Close()

		out := cmd.OutOrStdout()
		events := mq.NewAccountEvents(backend, cfg.MQ.AccountEventsChannel)
		err = events.SubscribeAccountEvents(ctx, func(_ context.Context, evt types.AccountEvent) error {
			_, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\n",
				evt.OccurredAt.Format(time.RFC3339), evt.Type, evt.AccountID, evt.Email)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("tail %s: %w", events.Channel(), err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
