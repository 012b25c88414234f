// Package db provides the append-only event journal backing the dashboard's
// audit views.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrOrderIDRequired = errors.New("order_id is required")

// OrderEvent is one row of the order audit trail.
type OrderEvent struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id,omitempty"`
	Event     string    `json:"event"`
	Asset     string    `json:"asset,omitempty"`
	Side      string    `json:"side,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NodeEvent records an upstream node going down or recovering.
type NodeEvent struct {
	ID        int64     `json:"id"`
	Node      string    `json:"node"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Queries is the journal query layer.
type Queries struct {
	db *sql.DB
}

// InsertOrderEvent appends one order lifecycle event.
func (q *Queries) InsertOrderEvent(ctx context.Context, ev OrderEvent) error {
	if ev.OrderID == "" {
		return ErrOrderIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO order_events (order_id, user_id, event, asset, side, kind, amount, price, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.OrderID, ev.UserID, ev.Event, ev.Asset, ev.Side, ev.Kind, ev.Amount, ev.Price, ev.Detail)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// InsertNodeEvent appends one node health transition.
func (q *Queries) InsertNodeEvent(ctx context.Context, ev NodeEvent) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO node_events (node, event, detail)
		VALUES (?, ?, ?)
	`, ev.Node, ev.Event, ev.Detail)
	if err != nil {
		return fmt.Errorf("insert node event: %w", err)
	}
	return nil
}

// RecentOrderEvents returns the newest order events, optionally filtered by
// order ID. limit <= 0 defaults to 100.
func (q *Queries) RecentOrderEvents(ctx context.Context, orderID string, limit int) ([]OrderEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, order_id, COALESCE(user_id, ''), event, COALESCE(asset, ''),
		       COALESCE(side, ''), COALESCE(kind, ''), COALESCE(amount, 0),
		       COALESCE(price, 0), COALESCE(detail, ''), created_at
		FROM order_events`
	args := []any{}
	if orderID != "" {
		query += ` WHERE order_id = ?`
		args = append(args, orderID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var out []OrderEvent
	for rows.Next() {
		var ev OrderEvent
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.UserID, &ev.Event, &ev.Asset,
			&ev.Side, &ev.Kind, &ev.Amount, &ev.Price, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecentNodeEvents returns the newest node health transitions.
func (q *Queries) RecentNodeEvents(ctx context.Context, limit int) ([]NodeEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, node, event, COALESCE(detail, ''), created_at
		FROM node_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query node events: %w", err)
	}
	defer rows.Close()

	var out []NodeEvent
	for rows.Next() {
		var ev NodeEvent
		if err := rows.Scan(&ev.ID, &ev.Node, &ev.Event, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan node event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
