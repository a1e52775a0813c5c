package domain

import "time"

// Role — роль вызывающего, которую передаёт внешний слой аутентификации.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleGateway  Role = "gateway"
)

// Valid проверяет роль.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin || r == RoleGateway
}

// Actor хранит проверенную личность вызывающего.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// FieldChange описывает изменение одного поля заказа.
type FieldChange struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// HistoryEntry — запись журнала изменений заказа. Журнал только дополняется.
type HistoryEntry struct {
	OrderID    string
	Actor      Actor
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Changes    []FieldChange
	Occurred   time.Time
}

func (e HistoryEntry) clone() HistoryEntry {
	e.Changes = append([]FieldChange(nil), e.Changes...)
	return e
}
