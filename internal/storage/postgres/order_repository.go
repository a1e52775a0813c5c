package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

const orderColumns = `
	id, number, user_id, status, payment_status, payment_method,
	total_minor, discount_minor, payable_minor, COALESCE(voucher_code, ''),
	shipping, tracking_number, note, version, created_at, updated_at`

type orderRepository struct {
	q querier
}

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	shipping, err := json.Marshal(order.Shipping)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	if order.Version == 0 {
		order.Version = 1
	}

	var voucherCode *string
	if order.VoucherCode != "" {
		voucherCode = &order.VoucherCode
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO orders (
			id, number, user_id, status, payment_status, payment_method,
			total_minor, discount_minor, payable_minor, voucher_code,
			shipping, tracking_number, note, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		order.ID, order.Number, order.UserID, string(order.Status), string(order.PaymentStatus), string(order.PaymentMethod),
		order.TotalMinor, order.DiscountMinor, order.PayableMinor, voucherCode,
		shipping, order.TrackingNumber, order.Note, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderNumberTaken
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, qty, price_minor, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, order.ID, item.ProductID, item.Name, item.Qty, item.PriceMinor, i); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// LastNumberWithPrefix сортирует сначала по длине: суффикс шире паддинга
// должен оставаться наибольшим и при строковом сравнении.
func (r *orderRepository) LastNumberWithPrefix(ctx context.Context, prefix string) (string, error) {
	var number string
	err := r.q.QueryRow(ctx, `
		SELECT number
		FROM orders
		WHERE starts_with(number, $1)
		ORDER BY length(number) DESC, number DESC
		LIMIT 1
	`, prefix).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select last order number: %w", err)
	}
	return number, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, "")
}

func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *orderRepository) get(ctx context.Context, id, lock string) (domain.Order, error) {
	order, err := scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 `+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]

	history, err := (&historyRepository{q: r.q}).List(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.History = history
	return order, nil
}

// Update меняет только изменяемые поля заказа; история пишется отдельно.
func (r *orderRepository) Update(ctx context.Context, order domain.Order) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE orders
		SET status = $2,
		    payment_status = $3,
		    tracking_number = $4,
		    note = $5,
		    updated_at = $6,
		    version = version + 1
		WHERE id = $1 AND version = $7
	`,
		order.ID, string(order.Status), string(order.PaymentStatus),
		order.TrackingNumber, order.Note, order.UpdatedAt, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check order existence: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) (domain.OrderPage, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return domain.OrderPage{}, err
	}

	where, args := filterClause(filter)
	page := domain.OrderPage{Page: filter.Page, PageSize: filter.PageSize, Orders: []domain.Order{}}

	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&page.Total); err != nil {
		return domain.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}
	if page.Total == 0 || filter.Offset() >= page.Total {
		return page, nil
	}

	args = append(args, filter.PageSize, filter.Offset())
	rows, err := r.q.Query(ctx, fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, number DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, filter.PageSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, fmt.Errorf("scan order: %w", err)
		}
		page.Orders = append(page.Orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return domain.OrderPage{}, err
	}
	for i := range page.Orders {
		page.Orders[i].Items = items[page.Orders[i].ID]
	}
	return page, nil
}

func filterClause(filter domain.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.UserID != "" {
		add("user_id", filter.UserID)
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		add("payment_status", string(filter.PaymentStatus))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	result := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := r.q.Query(ctx, `
		SELECT order_id, id, product_id, name, qty, price_minor
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ID, &item.ProductID, &item.Name, &item.Qty, &item.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result[orderID] = append(result[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return result, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order                         domain.Order
		status, paymentStatus, method string
		shipping                      []byte
	)
	if err := row.Scan(
		&order.ID, &order.Number, &order.UserID, &status, &paymentStatus, &method,
		&order.TotalMinor, &order.DiscountMinor, &order.PayableMinor, &order.VoucherCode,
		&shipping, &order.TrackingNumber, &order.Note, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.PaymentMethod = domain.PaymentMethod(method)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &order.Shipping); err != nil {
			return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	return order, nil
}

var (
	_ domain.OrderRepository = (*orderRepository)(nil)
	_ domain.OrderReader     = (*orderRepository)(nil)
)
