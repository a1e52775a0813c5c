package domain

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// OrderFilter — параметры выборки заказов для админки и истории покупателя.
// Пустые поля не фильтруют.
type OrderFilter struct {
	UserID        string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Page          int
	PageSize      int
}

// Normalize приводит пагинацию к допустимым границам и проверяет статусы.
func (f OrderFilter) Normalize() (OrderFilter, error) {
	if f.Status != "" && !f.Status.Valid() {
		return f, ErrUnknownStatus
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return f, ErrUnknownPaymentStatus
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f, nil
}

// Offset возвращает смещение для текущей страницы.
func (f OrderFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// Matches проверяет заказ на соответствие фильтру (используется in-memory хранилищем).
func (f OrderFilter) Matches(o Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
		return false
	}
	return true
}

// OrderPage содержит страницу результатов и общее количество совпадений.
type OrderPage struct {
	Orders   []Order
	Total    int
	Page     int
	PageSize int
}
