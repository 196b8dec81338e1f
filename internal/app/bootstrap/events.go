package bootstrap

import (
	"fmt"

	appconfig "github.com/wolfman30/sara-leads/internal/config"
	"github.com/wolfman30/sara-leads/internal/events"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

// BuildOutboxDeliverer fans outbox entries out to the AMQP exchange. It
// returns nil when AMQP_URL is unset; entries then stay pending.
func BuildOutboxDeliverer(cfg *appconfig.Config, outbox events.PendingQueue, logger *logging.Logger) (*events.Deliverer, func(), error) {
	if cfg == nil || cfg.AMQPURL == "" || outbox == nil {
		return nil, func() {}, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		return nil, func() {}, fmt.Errorf("bootstrap: amqp publisher: %w", err)
	}
	deliverer := events.NewDeliverer(outbox, publisher, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval)
	logger.Info("outbox delivery enabled", "exchange", cfg.AMQPExchange)
	return deliverer, func() { _ = publisher.Close() }, nil
}
