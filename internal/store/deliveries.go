package store

import (
	"context"
	"fmt"
	"time"
)

// RecordDelivery stores a webhook delivery id and reports whether it was new.
func (d *DB) RecordDelivery(ctx context.Context, id, event string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, event, received_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, event, formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("recording delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading delivery insert result: %w", err)
	}
	return n == 1, nil
}

// ForgetDelivery removes a recorded delivery so a redelivery is processed again.
func (d *DB) ForgetDelivery(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM deliveries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("forgetting delivery: %w", err)
	}
	return nil
}
