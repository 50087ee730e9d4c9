package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrHandleClosed is returned when a Handle is used after Close.
var ErrHandleClosed = errors.New("write handle is closed")

// Handle is a write session bound to one pooled connection. Appended rows are
// buffered and written in one transaction per flush; a failed flush discards
// the whole buffer and leaves nothing from it visible.
type Handle struct {
	store *Store
	conn  *sql.Conn
	buf   []Row

	written int64
	closed  bool
}

// Append buffers row, flushing once the buffer reaches the store batch size.
func (h *Handle) Append(ctx context.Context, row Row) error {
	if h.closed {
		return ErrHandleClosed
	}
	h.buf = append(h.buf, row)
	if len(h.buf) >= h.store.batchSize {
		return h.Flush(ctx)
	}
	return nil
}

// AppendBatch writes rows in a single transaction, independent of anything
// still buffered by Append. Either every row becomes visible or none do.
func (h *Handle) AppendBatch(ctx context.Context, rows []Row) error {
	if h.closed {
		return ErrHandleClosed
	}
	if err := h.store.writeRows(ctx, h.conn, rows); err != nil {
		return err
	}
	h.written += int64(len(rows))
	return nil
}

// Flush writes buffered rows in one transaction. Rows are visible to readers
// once Flush returns nil.
func (h *Handle) Flush(ctx context.Context) error {
	if h.closed {
		return ErrHandleClosed
	}
	if len(h.buf) == 0 {
		return nil
	}

	n := len(h.buf)
	err := h.store.writeRows(ctx, h.conn, h.buf)
	clear(h.buf)
	h.buf = h.buf[:0]
	if err != nil {
		return fmt.Errorf("flush %d rows: %w", n, err)
	}
	h.written += int64(n)
	return nil
}

// Pending returns the number of buffered rows not yet written.
func (h *Handle) Pending() int {
	return len(h.buf)
}

// Written returns the number of rows this handle has committed.
func (h *Handle) Written() int64 {
	return h.written
}

// Close flushes pending rows and releases the connection back to the pool.
// The connection is released even when the final flush fails.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	flushErr := h.Flush(context.Background())
	h.closed = true
	closeErr := h.conn.Close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("release write connection: %w", closeErr)
	}
	return nil
}

// Discard drops buffered rows without writing them and returns how many were
// dropped.
func (h *Handle) Discard() int {
	n := len(h.buf)
	clear(h.buf)
	h.buf = h.buf[:0]
	return n
}
