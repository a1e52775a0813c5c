package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

type historyRepository struct {
	q querier
}

func (r *historyRepository) Append(ctx context.Context, entry domain.HistoryEntry) error {
	if entry.Occurred.IsZero() {
		entry.Occurred = time.Now().UTC()
	}
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal history changes: %w", err)
	}

	if _, err := r.q.Exec(ctx, `
		INSERT INTO order_history (order_id, actor_id, actor_role, from_status, to_status, changes, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		entry.OrderID, entry.Actor.UserID, string(entry.Actor.Role),
		string(entry.FromStatus), string(entry.ToStatus), changes, entry.Occurred,
	); err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("append order history: %w", err)
	}
	return nil
}

func (r *historyRepository) List(ctx context.Context, orderID string) ([]domain.HistoryEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT order_id, actor_id, actor_role, from_status, to_status, changes, occurred_at
		FROM order_history
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.HistoryEntry, 0)
	for rows.Next() {
		var (
			entry          domain.HistoryEntry
			role, from, to string
			changes        []byte
		)
		if err := rows.Scan(&entry.OrderID, &entry.Actor.UserID, &role, &from, &to, &changes, &entry.Occurred); err != nil {
			return nil, fmt.Errorf("scan order history: %w", err)
		}
		entry.Actor.Role = domain.Role(role)
		entry.FromStatus = domain.OrderStatus(from)
		entry.ToStatus = domain.OrderStatus(to)
		entry.Occurred = entry.Occurred.UTC()
		if err := json.Unmarshal(changes, &entry.Changes); err != nil {
			return nil, fmt.Errorf("decode history changes: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order history: %w", err)
	}
	return entries, nil
}

var _ domain.HistoryRepository = (*historyRepository)(nil)
