package domain

import (
	"net/http"
	"time"
)

// IdempotencyStatus описывает состояние ключа Idempotency-Key.
type IdempotencyStatus string

const (
	// Запрос оформления выполняется прямо сейчас.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// Заказ оформлен или отклонён бизнес-правилом, ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// Оформление упало на инфраструктуре, ответ 5xx сохранён.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к известным значениям.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyStatusFor выбирает итоговый статус ключа по HTTP-коду ответа.
func IdempotencyStatusFor(httpStatus int) IdempotencyStatus {
	if httpStatus >= http.StatusInternalServerError {
		return IdempotencyStatusFailed
	}
	return IdempotencyStatusDone
}

// IdempotencyRecord связывает ключ с отпечатком запроса и сохранённым ответом.
// RequestHash включает пользователя, поэтому один ключ разных покупателей не пересекается.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       IdempotencyStatus
	HTTPStatus   int
	ResponseBody []byte
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Replayable сообщает, что по записи можно вернуть сохранённый ответ.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// ExpiredAt сообщает, что срок хранения записи истёк к моменту now.
func (r IdempotencyRecord) ExpiredAt(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}
