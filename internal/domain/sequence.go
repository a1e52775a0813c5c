package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	orderNumberDateLayout = "20060102"
	orderNumberSeqWidth   = 5
)

// OrderNumberDayPrefix возвращает общую часть номеров за день: "ORD-20261014-".
func OrderNumberDayPrefix(prefix string, day time.Time) string {
	return fmt.Sprintf("%s-%s-", prefix, day.Format(orderNumberDateLayout))
}

// FormatOrderNumber собирает номер заказа: префикс, дата и порядковый номер с ведущими нулями.
func FormatOrderNumber(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s%0*d", OrderNumberDayPrefix(prefix, day), orderNumberSeqWidth, seq)
}

// ParseOrderSequence извлекает порядковый номер из номера заказа с заданным дневным префиксом.
func ParseOrderSequence(number, dayPrefix string) (int, error) {
	if !strings.HasPrefix(number, dayPrefix) {
		return 0, fmt.Errorf("order number %q does not start with %q", number, dayPrefix)
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(number, dayPrefix))
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("order number %q has malformed sequence", number)
	}
	return seq, nil
}
