/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/healwise/apiserver/internal/events"
	"github.com/healwise/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

// eventsCmd groups commands for account events.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect account events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Subscribe to the account events channel and log every event",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is not set")
		}
		defer broker.Close()

		slog.Info("tailing account events", "backend", cfg.MQ.Backend, "channel", cfg.MQ.Channel)
		err = broker.Subscribe(ctx, cfg.MQ.Channel, func(ctx context.Context, msg mq.Message) error {
			event, err := events.Decode(msg)
			if err != nil {
				// Redelivering a body that cannot be decoded would loop forever.
				slog.Warn("skipping malformed event", "message_id", msg.ID, "error", err)
				return nil
			}
			slog.Info("account event",
				"type", event.Type,
				"user_id", event.UserID,
				"email", event.Email,
				"role", event.Role,
				"provider", event.Provider,
				"occurred_at", event.OccurredAt,
			)
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
