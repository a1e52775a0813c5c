package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Ошибка пустой корзины.
	ErrEmptyCart = errors.New("cart must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrInvalidQuantity = errors.New("item quantity must be greater than zero")
	// Отрицательная цена позиции.
	ErrInvalidPrice = errors.New("item price must be non-negative")
	// Сумма позиций не помещается в int64.
	ErrTotalOverflow = errors.New("order total exceeds the supported amount")
	// Позиция без идентификатора товара.
	ErrProductIDRequired = errors.New("item product_id is required")
	// Не передан идентификатор владельца заказа.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка незаполненного или частично заполненного адреса доставки.
	ErrShippingAddressInvalid = errors.New("shipping address is incomplete")
	// Ошибка неизвестного способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method must be COD or gateway")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match items sum")

	// ErrVoucherNotFound — ваучер с таким кодом не существует.
	ErrVoucherNotFound = errors.New("voucher not found")
	// Ошибка для отключённого или уже помеченного expired ваучера.
	ErrVoucherInactive = errors.New("voucher is not active")
	// Ошибка истёкшего срока действия ваучера.
	ErrVoucherExpired = errors.New("voucher has expired")
	// ErrVoucherGlobalLimitReached — исчерпан общий лимит использований.
	ErrVoucherGlobalLimitReached = errors.New("voucher usage limit reached")
	// ErrVoucherPerUserLimitReached — исчерпан лимит использований для пользователя.
	ErrVoucherPerUserLimitReached = errors.New("voucher per-user usage limit reached")

	// ErrProductNotFound — товар отсутствует в складском учёте.
	ErrProductNotFound = errors.New("product not found")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderNumberTaken — номер заказа уже занят параллельной вставкой (unique violation).
	ErrOrderNumberTaken = errors.New("order number already taken")
	// ErrSequenceConflict — номер заказа не удалось выделить за отведённое число попыток.
	ErrSequenceConflict = errors.New("order number allocation conflict, retry later")
	// ErrTxConflict — транзакция прервана хранилищем (deadlock/serialization), можно повторить.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrInfrastructure — сбой хранилища или окружения; ничего не было зафиксировано.
	ErrInfrastructure = errors.New("infrastructure failure")

	// Запрос на изменение заказа ничего не меняет.
	ErrNoChanges = errors.New("change request does not modify the order")
	// Статус заказа вне допустимого набора.
	ErrUnknownStatus = errors.New("unknown order status")
	// Статус оплаты вне допустимого набора.
	ErrUnknownPaymentStatus = errors.New("unknown payment status")
	// ErrForbidden — у вызывающего нет прав на операцию.
	ErrForbidden = errors.New("operation is not allowed for caller")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибка пустого idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// Ошибка отсутствующего хэша запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// Запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// Ключ уже использован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ повторно использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// OutOfStockError сообщает, каких товаров не хватило для резерва.
type OutOfStockError struct {
	ProductIDs []string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for products: %s", strings.Join(e.ProductIDs, ", "))
}

// InvalidTransitionError — переход между статусами запрещён таблицей переходов.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsRetryable сообщает, стоит ли повторить атомарную операцию целиком.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOrderNumberTaken) || errors.Is(err, ErrTxConflict)
}

// IsVoucherRejection проверяет, что ошибка является отказом валидатора ваучеров.
func IsVoucherRejection(err error) bool {
	return errors.Is(err, ErrVoucherNotFound) ||
		errors.Is(err, ErrVoucherInactive) ||
		errors.Is(err, ErrVoucherExpired) ||
		errors.Is(err, ErrVoucherGlobalLimitReached) ||
		errors.Is(err, ErrVoucherPerUserLimitReached)
}

// IsValidation проверяет, что ошибка относится к валидации входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrTotalOverflow) ||
		errors.Is(err, ErrProductIDRequired) ||
		errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrShippingAddressInvalid) ||
		errors.Is(err, ErrPaymentMethodInvalid) ||
		errors.Is(err, ErrUnknownStatus) ||
		errors.Is(err, ErrUnknownPaymentStatus)
}

// IsIdempotencyConflict проверяет конфликт повторного использования idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// errorCodes: стабильные машиночитаемые коды ошибок для API и метрик.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrEmptyCart, "empty_cart"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInvalidPrice, "invalid_price"},
	{ErrTotalOverflow, "total_overflow"},
	{ErrProductIDRequired, "product_id_required"},
	{ErrUserRequired, "user_required"},
	{ErrShippingAddressInvalid, "invalid_shipping_address"},
	{ErrPaymentMethodInvalid, "invalid_payment_method"},
	{ErrUnknownStatus, "unknown_status"},
	{ErrUnknownPaymentStatus, "unknown_payment_status"},
	{ErrVoucherNotFound, "voucher_not_found"},
	{ErrVoucherInactive, "voucher_inactive"},
	{ErrVoucherExpired, "voucher_expired"},
	{ErrVoucherGlobalLimitReached, "voucher_global_limit_reached"},
	{ErrVoucherPerUserLimitReached, "voucher_per_user_limit_reached"},
	{ErrProductNotFound, "product_not_found"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrOrderVersionConflict, "version_conflict"},
	{ErrSequenceConflict, "sequence_conflict"},
	{ErrOrderNumberTaken, "order_number_taken"},
	{ErrTxConflict, "tx_conflict"},
	{ErrNoChanges, "no_changes"},
	{ErrForbidden, "forbidden"},
	{ErrIdempotencyKeyRequired, "idempotency_key_required"},
	{ErrIdempotencyHashMismatch, "idempotency_key_reused"},
	{ErrIdempotencyKeyAlreadyExists, "idempotency_key_in_progress"},
	{ErrInfrastructure, "infrastructure_failure"},
}

// ErrorCode возвращает код ошибки; неизвестные ошибки считаются инфраструктурными.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var stockErr *OutOfStockError
	if errors.As(err, &stockErr) {
		return "out_of_stock"
	}
	var transitionErr *InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return "invalid_transition"
	}
	for _, candidate := range errorCodes {
		if errors.Is(err, candidate.err) {
			return candidate.code
		}
	}
	return "infrastructure_failure"
}

// IsBusinessRejection проверяет отказ по бизнес-правилам: ваучер, склад, переход.
func IsBusinessRejection(err error) bool {
	var stockErr *OutOfStockError
	var transitionErr *InvalidTransitionError
	return IsVoucherRejection(err) ||
		errors.As(err, &stockErr) ||
		errors.As(err, &transitionErr) ||
		errors.Is(err, ErrNoChanges)
}
