package exporter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"pricereturns/internal/returns"
)

// TableName is the table the sqlite exporter (re)populates
const TableName = "norm_returns"

const schema = `
CREATE TABLE IF NOT EXISTS norm_returns (
	symbol TEXT NOT NULL,
	effective_date TEXT NOT NULL,
	previous_date TEXT NOT NULL,
	end_price REAL,
	start_price REAL,
	norm_return REAL,
	norm_return_cumulative REAL,
	PRIMARY KEY (symbol, effective_date)
);
`

// SQLiteExporter writes the returns table into a SQLite database
type SQLiteExporter struct {
	logger *slog.Logger
}

// NewSQLiteExporter creates a new database exporter
func NewSQLiteExporter(logger *slog.Logger) *SQLiteExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteExporter{logger: logger}
}

// Format implements Exporter
func (e *SQLiteExporter) Format() string { return FormatSQLite }

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, nil
}

// Export implements Exporter. The table is replaced in a single transaction,
// absent values are stored as NULL.
func (e *SQLiteExporter) Export(ctx context.Context, path string, rows []returns.ResolvedReturnRow) error {
	e.logger.InfoContext(ctx, "Writing database",
		slog.String("file_path", path),
		slog.Int("record_count", len(rows)))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+TableName); err != nil {
		return fmt.Errorf("failed to clear table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO norm_returns
		(symbol, effective_date, previous_date, end_price, start_price, norm_return, norm_return_cumulative)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.Symbol,
			formatDate(r.EffectiveDate),
			formatDate(r.PreviousDate),
			r.EndPrice,
			r.StartPrice,
			r.NormReturn,
			r.NormReturnCumulative,
		); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// ReadSQLite loads a table written by SQLiteExporter ordered by symbol and date
func ReadSQLite(ctx context.Context, path string) ([]returns.ResolvedReturnRow, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rs, err := db.QueryContext(ctx, `SELECT symbol, effective_date, previous_date,
		end_price, start_price, norm_return, norm_return_cumulative
		FROM norm_returns ORDER BY symbol, effective_date`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var rows []returns.ResolvedReturnRow
	for rs.Next() {
		var r returns.ResolvedReturnRow
		var effective, previous string
		if err := rs.Scan(&r.Symbol, &effective, &previous,
			&r.EndPrice, &r.StartPrice, &r.NormReturn, &r.NormReturnCumulative); err != nil {
			return nil, err
		}
		if r.EffectiveDate, err = returns.ParseDay(effective); err != nil {
			return nil, err
		}
		if r.PreviousDate, err = returns.ParseDay(previous); err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, rs.Err()
}
