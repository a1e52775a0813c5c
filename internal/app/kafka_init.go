package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы.
// Пустой список брокеров возвращает nil, nil: сервис работает без Kafka.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafka.Producer, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, cfg.KafkaClientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initPaymentConsumer подписывается на отчёты платёжного шлюза.
// Сообщения, которые не удалось применить, уходят в DLQ через тот же producer.
func initPaymentConsumer(cfg Config, applier kafka.PaymentApplier, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if producer == nil {
		return nil, nil
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.Brokers(),
		GroupID:    cfg.KafkaGroupID,
		Topics:     []string{cfg.PaymentReportsTopic},
		DLQTopic:   cfg.DLQTopic,
		MaxRetries: cfg.ConsumerMaxRetries,
		RetryDelay: cfg.ConsumerRetryDelay,
	}, kafka.NewPaymentReportHandler(applier, logger.WithField("layer", "payment-reports")), producer)
	if err != nil {
		logger.WithError(err).Warn("failed to create payment reports consumer")
		return nil, err
	}
	return consumer, nil
}

// closeKafka останавливает consumer и закрывает producer; nil допустимы.
func closeKafka(consumer *kafka.Consumer, producer *kafka.Producer, logger *log.Entry) {
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
