package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dw2kim/job-scheduler/internal/core"
	natsbackend "github.com/dw2kim/job-scheduler/internal/nats"
)

var eventsCmd = &cobra.Command{
	Use:   "events [job-id]",
	Short: "Stream lifecycle events published over NATS",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		conn, err := natsbackend.Connect(natsURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		broker := natsbackend.NewEventBroker(conn.NATS(), nil)
		defer broker.Close()

		subscribe := broker.SubscribeAll
		if len(args) == 1 {
			jobID := args[0]
			subscribe = func() (<-chan core.Event, func(), error) { return broker.SubscribeJob(jobID) }
		}
		ch, unsubscribe, err := subscribe()
		if err != nil {
			return err
		}
		defer unsubscribe()

		ctx := cmd.Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-ch:
				if !ok {
					return errors.New("event subscription closed")
				}
				if err := printJSON(cmd.OutOrStdout(), ev); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	eventsCmd.Flags().String("nats-url", envOr("NATS_URL", "nats://localhost:4222"), "NATS server URL")
}
