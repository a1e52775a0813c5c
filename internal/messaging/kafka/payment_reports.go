package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

// GatewayActorID — идентификатор, от имени которого применяются отчёты шлюза.
const GatewayActorID = "payment-gateway"

// PaymentApplier применяет статус оплаты к заказу.
type PaymentApplier interface {
	ReportPayment(ctx context.Context, orderID string, status domain.PaymentStatus, actor domain.Actor) (domain.Order, error)
}

// NewPaymentReportHandler возвращает обработчик топика отчётов платёжного шлюза.
// Повторная доставка того же статуса считается успешной.
func NewPaymentReportHandler(applier PaymentApplier, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-reports")
	}
	actor := domain.Actor{UserID: GatewayActorID, Role: domain.RoleGateway}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		report, err := ParsePaymentReport(message)
		if err != nil {
			return err
		}

		_, err = applier.ReportPayment(ctx, report.OrderID, report.PaymentStatus, actor)
		switch {
		case err == nil:
			logger.WithFields(log.Fields{
				"order_id":       report.OrderID,
				"payment_status": report.PaymentStatus,
				"reference":      report.Reference,
			}).Info("payment report applied")
			return nil
		case errors.Is(err, domain.ErrNoChanges):
			return nil
		case errors.Is(err, domain.ErrOrderNotFound),
			errors.Is(err, domain.ErrForbidden),
			domain.IsValidation(err):
			return Permanent(err)
		default:
			return err
		}
	}
}
