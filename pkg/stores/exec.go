package stores

import (
	"context"
	"database/sql"
	"fmt"
)

// queryOn runs st on h and collects every row it returns.
func queryOn(ctx context.Context, h *Handle, st Statement) ([]Row, error) {
	var rows []Row
	err := h.WithConn(ctx, func(conn *sql.Conn) error {
		rs, err := conn.QueryContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return err
		}
		defer rs.Close()

		rows, err = scanRows(rs)
		return err
	})
	return rows, err
}

// execOn runs a write statement on h.
func execOn(ctx context.Context, h *Handle, st Statement) error {
	return h.WithConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, st.SQL, st.Args...)
		return err
	})
}

// txOn runs stmts in one transaction on a single pooled connection. Any
// failure rolls back the whole batch.
func txOn(ctx context.Context, h *Handle, stmts []Statement) error {
	return h.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for i, st := range stmts {
			if _, err := tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
				return fmt.Errorf("statement %d of %d: %w", i+1, len(stmts), err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

// scanRows converts a result set to column-keyed rows. Byte slices become
// strings so rows marshal cleanly.
func scanRows(rs *sql.Rows) ([]Row, error) {
	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}

	out := []Row{}
	for rs.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rs.Err()
}
