package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

func placedMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            "msg-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderPlaced,
		Payload:       []byte(`{"order_id":"order-1"}`),
	}
}

func TestNewOutboxEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 15, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	envelope, err := NewOutboxEnvelope(placedMessage(), at)
	require.NoError(t, err)
	assert.Equal(t, "order-1", envelope.Key())
	assert.Equal(t, time.UTC, envelope.PublishedAt.Location())
	assert.Equal(t, map[string]string{HeaderEventType: domain.EventOrderPlaced, HeaderOutboxID: "msg-1"}, envelope.Headers())

	orphan := placedMessage()
	orphan.AggregateID = ""
	envelope, err = NewOutboxEnvelope(orphan, at)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", envelope.Key())

	broken := placedMessage()
	broken.Payload = []byte(`not-json`)
	_, err = NewOutboxEnvelope(broken, at)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestOutboxPublisherPublish(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		if m.Topic != TopicOrderEvents {
			return fmt.Errorf("unexpected topic %s", m.Topic)
		}
		key, _ := m.Key.Encode()
		if string(key) != "order-1" {
			return fmt.Errorf("message must be keyed by aggregate id, got %s", key)
		}
		value, _ := m.Value.Encode()
		var envelope OutboxEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.EventType != domain.EventOrderPlaced || string(envelope.Payload) != `{"order_id":"order-1"}` {
			return fmt.Errorf("unexpected envelope %+v", envelope)
		}
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(sync), "")
	assert.Equal(t, TopicOrderEvents, publisher.Topic())
	require.NoError(t, publisher.Publish(context.Background(), placedMessage()))
	require.NoError(t, sync.Close())
}

func TestOutboxPublisherErrors(t *testing.T) {
	var nilPublisher *OutboxTopicPublisher
	assert.Error(t, nilPublisher.Publish(context.Background(), placedMessage()))

	sync := mocks.NewSyncProducer(t, nil)
	publisher := NewOutboxPublisher(NewProducerFromSync(sync), TopicDeadLetterQueue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, publisher.Publish(ctx, placedMessage()), context.Canceled)

	broken := placedMessage()
	broken.Payload = []byte(`{`)
	assert.ErrorIs(t, publisher.Publish(context.Background(), broken), ErrPermanent)
	require.NoError(t, sync.Close())
}
