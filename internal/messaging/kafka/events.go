package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

// Topics по умолчанию.
const (
	TopicOrderEvents     = "retail.order.events"
	TopicPaymentReports  = "retail.payment.reports"
	TopicDeadLetterQueue = "retail.dlq"
)

// Kafka headers.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
)

// ErrPermanent помечает ошибку обработки, которую бессмысленно повторять.
var ErrPermanent = errors.New("permanent message failure")

// Permanent оборачивает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// OutboxEnvelope — тело сообщения в топике событий заказов.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOutboxEnvelope упаковывает outbox-сообщение для топика событий.
// Payload должен быть валидным JSON: он встраивается в конверт как есть.
func NewOutboxEnvelope(msg domain.OutboxMessage, publishedAt time.Time) (OutboxEnvelope, error) {
	if !json.Valid(msg.Payload) {
		return OutboxEnvelope{}, Permanent(fmt.Errorf("outbox message %s has invalid json payload", msg.ID))
	}
	return OutboxEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt.UTC(),
	}, nil
}

// Key возвращает ключ партиционирования: все события одного заказа идут в одну партицию.
func (e OutboxEnvelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// Headers возвращает заголовки, по которым consumer'ы фильтруют события без разбора тела.
func (e OutboxEnvelope) Headers() map[string]string {
	return map[string]string{HeaderEventType: e.EventType, HeaderOutboxID: e.ID}
}

// PaymentReport описывает отчёт платёжного шлюза о статусе оплаты заказа.
type PaymentReport struct {
	OrderID       string               `json:"order_id"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Reference     string               `json:"reference,omitempty"`
	ReportedAt    time.Time            `json:"reported_at,omitempty"`
}

// ParsePaymentReport разбирает и проверяет отчёт. Ошибки разбора неповторяемы.
func ParsePaymentReport(message *sarama.ConsumerMessage) (PaymentReport, error) {
	var report PaymentReport
	if err := json.Unmarshal(message.Value, &report); err != nil {
		return PaymentReport{}, Permanent(fmt.Errorf("unmarshal payment report: %w", err))
	}
	report.OrderID = strings.TrimSpace(report.OrderID)
	if report.OrderID == "" {
		return PaymentReport{}, Permanent(errors.New("payment report without order_id"))
	}
	if !report.PaymentStatus.Valid() {
		return PaymentReport{}, Permanent(fmt.Errorf("%w: %q", domain.ErrUnknownPaymentStatus, report.PaymentStatus))
	}
	return report, nil
}

// ParseOutboxEnvelope разбирает событие из топика заказов.
func ParseOutboxEnvelope(message *sarama.ConsumerMessage) (OutboxEnvelope, error) {
	var envelope OutboxEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return OutboxEnvelope{}, fmt.Errorf("unmarshal outbox envelope: %w", err)
	}
	return envelope, nil
}

func header(message *sarama.ConsumerMessage, key string) (string, bool) {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}
