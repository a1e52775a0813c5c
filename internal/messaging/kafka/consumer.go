package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// DeadLetterPublisher принимает сообщения, которые consumer не смог обработать.
// *Producer удовлетворяет интерфейсу.
type DeadLetterPublisher interface {
	Publish(topic, key string, value []byte, headers map[string]string) error
}

// ConsumerConfig задаёт параметры consumer group.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	DLQTopic   string
	MaxRetries int
	RetryDelay time.Duration
}

type deliveryOutcome int

const (
	deliveryHandled deliveryOutcome = iota
	deliveryDeadLettered
	deliveryFailed
)

// Consumer читает топики consumer group. Временные ошибки обработчика
// повторяются, остальные сообщения уходят в DLQ.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	dlq        DeadLetterPublisher
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
	logger     *log.Entry
	wg         sync.WaitGroup
}

func consumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	return config
}

// NewConsumer подключается к consumer group. dlq может быть nil: тогда
// необработанное сообщение остаётся непомеченным и будет прочитано снова.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlq DeadLetterPublisher) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return newConsumer(group, cfg, handler, dlq), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq DeadLetterPublisher) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     cfg.Topics,
		handler:    handler,
		dlq:        dlq,
		dlqTopic:   cfg.DLQTopic,
		maxRetries: max(cfg.MaxRetries, 0),
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
		logger:     log.WithField("component", "kafka-consumer"),
	}
	if c.dlqTopic == "" {
		c.dlqTopic = TopicDeadLetterQueue
	}
	return c
}

// Start запускает чтение и сбор ошибок группы в фоне до отмены ctx или Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go c.consume(ctx)
	go c.drainErrors()
	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()
	// Consume возвращается после каждого rebalance.
	for ctx.Err() == nil {
		err := c.group.Consume(ctx, c.topics, c)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		if err != nil {
			c.logger.WithError(err).Error("consume session failed")
		}
	}
}

func (c *Consumer) drainErrors() {
	defer c.wg.Done()
	for err := range c.group.Errors() {
		c.logger.WithError(err).Error("consumer group error")
	}
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции. Offset сдвигается,
// только если сообщение обработано или сохранено в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.deliver(ctx, message) != deliveryFailed {
				session.MarkMessage(message, "")
			}
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, message *sarama.ConsumerMessage) deliveryOutcome {
	entry := c.logger.WithFields(log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	})
	entry.Debug("received message")

	attempts, err := c.process(ctx, message)
	if err == nil {
		return deliveryHandled
	}
	entry = entry.WithError(err).WithField("retry_count", attempts)
	if c.dlq == nil || ctx.Err() != nil {
		entry.Error("message processing failed, leaving offset uncommitted")
		return deliveryFailed
	}
	if dlqErr := c.dlq.Publish(c.dlqTopic, string(message.Key), message.Value, deadLetterHeaders(message, err, attempts, c.now())); dlqErr != nil {
		entry.WithField("dlq_error", dlqErr.Error()).Error("failed to send message to DLQ")
		return deliveryFailed
	}
	entry.Warn("message sent to DLQ")
	return deliveryDeadLettered
}

// process вызывает обработчик, пока ошибка временная и суммарное число
// повторов, включая записанные в заголовке, не превысило maxRetries.
// Возвращает итоговое число повторов и последнюю ошибку.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) (int, error) {
	retries := retryCountOf(message)
	for {
		err := c.handler(ctx, message)
		if err == nil || errors.Is(err, ErrPermanent) || retries >= c.maxRetries {
			return retries, err
		}
		retries++
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retries,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, retrying")

		if c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return retries, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func retryCountOf(message *sarama.ConsumerMessage) int {
	raw, ok := header(message, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func deadLetterHeaders(message *sarama.ConsumerMessage, cause error, retries int, failedAt time.Time) map[string]string {
	return map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt.UTC().Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(retries),
	}
}
