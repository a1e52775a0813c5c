package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
	"github.com/vladislavdragonenkov/retail-orders/internal/metrics"
)

// DefaultTTL задаёт срок хранения ответа по ключу.
const DefaultTTL = 24 * time.Hour

// Response — сохранённый ответ на запрос с ключом идемпотентности.
type Response struct {
	HTTPStatus int
	Body       []byte
}

// Guard не даёт повторному запросу с тем же ключом оформить второй заказ.
// Тот же ключ и то же тело возвращают сохранённый ответ, другое тело даёт
// ErrIdempotencyHashMismatch, незавершённый запрос даёт ErrIdempotencyKeyAlreadyExists.
type Guard struct {
	repo    domain.IdempotencyRepository
	ttl     time.Duration
	metrics *metrics.IdempotencyMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewGuard создаёт guard. ttl <= 0 заменяется на DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, m *metrics.IdempotencyMetrics, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.New().WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:    repo,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HashRequest строит отпечаток запроса: ключ одного пользователя не должен
// совпасть с ключом другого.
func HashRequest(userID string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(strings.TrimSpace(userID)))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// Begin резервирует ключ. nil-ответ без ошибки означает, что запрос нужно
// выполнить и затем вызвать Complete.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (*Response, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		g.metrics.RecordRequest("new")
		return nil, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		g.metrics.RecordRequest("conflict")
		return nil, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Replayable() {
			g.metrics.RecordRequest("in_progress")
			return nil, err
		}
		g.metrics.RecordRequest("replayed")
		g.logger.WithFields(log.Fields{
			"idempotency_key": key,
			"http_status":     record.HTTPStatus,
		}).Debug("replaying stored response")
		return &Response{HTTPStatus: record.HTTPStatus, Body: record.ResponseBody}, nil
	case errors.Is(err, domain.ErrIdempotencyKeyRequired), errors.Is(err, domain.ErrIdempotencyRequestHashRequired):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
}

// Complete сохраняет ответ. Ответы 5xx помечаются failed, но тоже
// воспроизводятся: повтор с новым ключом решает клиент.
func (g *Guard) Complete(ctx context.Context, key string, httpStatus int, body []byte) {
	key = strings.TrimSpace(key)
	mark := g.repo.MarkDone
	if domain.IdempotencyStatusFor(httpStatus) == domain.IdempotencyStatusFailed {
		mark = g.repo.MarkFailed
	}
	if err := mark(ctx, key, body, httpStatus); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
