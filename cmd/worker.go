package cmd

import (
	"context"
	"time"

	"github.com/spf13/viper"

	"github.com/optcgph/marketplace/escrow"
	"github.com/optcgph/marketplace/logging"
)

func init() {
	ServeCmd.Flags().String("notify-webhook", "", "endpoint notifications are delivered to")
	Must(viper.BindPFlag("notify-webhook", ServeCmd.Flags().Lookup("notify-webhook")))
	Must(viper.BindEnv("notify-webhook", "NOTIFY_WEBHOOK"))
}

// runNotificationWorker drains the notification outbox one job at a time.
// Failed intents are pushed back behind a per-row retry delay, so a poison
// row cannot starve the loop.
func runNotificationWorker(ctx context.Context, service *escrow.Service) {
	logger := logging.Logger(ctx, "cmd.notification-worker")

	var worker escrow.NotificationWorker = escrow.LogNotifier{}
	if url := viper.GetString("notify-webhook"); url != "" {
		worker = escrow.NewWebhookNotifier(url)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		attempted, err := service.RunNextNotificationJob(ctx, worker)
		if err != nil {
			logger.Warn().Err(err).Msg("notification delivery failed")
			time.Sleep(10 * time.Second)
			continue
		}

		if !attempted {
			time.Sleep(5 * time.Second)
		}
	}
}
