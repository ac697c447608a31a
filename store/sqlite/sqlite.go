/*
Package sqlite provides a SQLite-backed implementation of the cash storage
interfaces.

PURPOSE:
  One database file holds both the append-only transaction log and the
  materialized balance index. Because both live in the same database the
  Store also implements cash.Committer: the engine can append a record and
  upsert the balance in one SQL transaction.

INTERFACES IMPLEMENTED:
  cash.TransactionLog: Append, Records
  cash.BalanceStore:   Get, Put, List, Keys
  cash.Committer:      Commit

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - No DELETE statements on the transactions table
  - The balances table is a rebuildable index; it is upserted per key

KEY TABLES:
  schema_meta:  format marker (log format version, column list)
  transactions: immutable log, seq = acceptance order
  balances:     one row per (cashier, currency)

TIMESTAMPS:
  Stored as fixed-width UTC text (nanosecond precision) so that string
  comparison in SQL orders the same way as time comparison.

WAL MODE:
  Opened with journal_mode=WAL, a busy timeout and immediate transactions:
  - Readers don't block the writer
  - Concurrent writers queue on the busy timeout instead of failing

USAGE:
  store, err := sqlite.New("./data/cashdesk.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - cash/log.go, cash/store.go: interface definitions
  - cash/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"iter"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/cashdesk/cash"
)

const (
	// LogFormatVersion is written to schema_meta on first open.
	LogFormatVersion = "1"

	logColumns = "timestamp,cashier,operation,currency,amount,denominations"
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store implements the cash storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_synchronous=FULL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		accepted_at TEXT NOT NULL,
		cashier_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount TEXT NOT NULL,
		denominations_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_cashier_currency
		ON transactions(cashier_id, currency, seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_accepted_at
		ON transactions(cashier_id, accepted_at);

	-- Balances (materialized index, rebuildable from transactions)
	CREATE TABLE IF NOT EXISTS balances (
		cashier_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		total TEXT NOT NULL,
		denominations_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (cashier_id, currency)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_meta (key, value) VALUES ('log_format', ?), ('log_columns', ?)`,
		LogFormatVersion, logColumns)
	return err
}

// FormatVersion returns the log format marker written when the database
// was created.
func (s *Store) FormatVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'log_format'`).Scan(&v)
	if err != nil {
		return "", errors.Wrap(err, "failed to read log format")
	}
	return v, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// TRANSACTION LOG (cash.TransactionLog interface)
// =============================================================================

// Append adds a record to the log.
func (s *Store) Append(ctx context.Context, r cash.TransactionRecord) (cash.TransactionRecord, error) {
	return s.appendTx(ctx, s.db, r)
}

func (s *Store) appendTx(ctx context.Context, db execer, r cash.TransactionRecord) (cash.TransactionRecord, error) {
	denomsJSON, err := json.Marshal(r.Denominations)
	if err != nil {
		return r, errors.Wrap(err, "failed to encode denominations")
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, accepted_at, cashier_id, operation, currency, amount, denominations_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.AcceptedAt.UTC().Format(timeLayout),
		r.CashierID,
		string(r.Kind),
		string(r.Currency),
		r.Amount.String(),
		string(denomsJSON),
	)
	if err != nil {
		return r, errors.Wrap(err, "failed to append transaction")
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return r, errors.Wrap(err, "failed to read transaction seq")
	}
	r.Seq = uint64(seq)
	r.AcceptedAt = r.AcceptedAt.UTC()
	return r, nil
}

// Records streams matching records ordered by seq. Rows are scanned as the
// caller ranges; breaking out of the loop closes the cursor.
func (s *Store) Records(ctx context.Context, f cash.Filter) iter.Seq2[cash.TransactionRecord, error] {
	query, args := recordsQuery(f)
	return func(yield func(cash.TransactionRecord, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(cash.TransactionRecord{}, errors.Wrap(err, "failed to query transactions"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				yield(cash.TransactionRecord{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(cash.TransactionRecord{}, errors.Wrap(err, "failed to iterate transactions"))
		}
	}
}

func recordsQuery(f cash.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.CashierID != "" {
		where = append(where, "cashier_id = ?")
		args = append(args, f.CashierID)
	}
	if f.Currency != "" {
		where = append(where, "currency = ?")
		args = append(args, string(f.Currency))
	}
	if !f.From.IsZero() {
		where = append(where, "accepted_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if !f.Until.IsZero() {
		where = append(where, "accepted_at < ?")
		args = append(args, f.Until.UTC().Format(timeLayout))
	}

	query := `SELECT seq, id, accepted_at, cashier_id, operation, currency, amount, denominations_json FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY seq ASC", args
}

func scanRecord(rows *sql.Rows) (cash.TransactionRecord, error) {
	var (
		r                                     cash.TransactionRecord
		acceptedAt, op, cur, amount, denomsJS string
	)
	if err := rows.Scan(&r.Seq, &r.ID, &acceptedAt, &r.CashierID, &op, &cur, &amount, &denomsJS); err != nil {
		return r, errors.Wrap(err, "failed to scan transaction")
	}

	t, err := time.Parse(timeLayout, acceptedAt)
	if err != nil {
		return r, errors.Wrapf(err, "bad timestamp on transaction %s", r.ID)
	}
	r.AcceptedAt = t
	r.Kind = cash.OperationKind(op)
	r.Currency = cash.Currency(cur)

	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return r, errors.Wrapf(err, "bad amount on transaction %s", r.ID)
	}
	if r.Denominations, err = decodeDenominations(denomsJS); err != nil {
		return r, errors.Wrapf(err, "bad denominations on transaction %s", r.ID)
	}
	return r, nil
}

// =============================================================================
// BALANCE INDEX (cash.BalanceStore interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, key cash.Key) (cash.Balance, error) {
	var total, denomsJS string
	err := s.db.QueryRowContext(ctx,
		`SELECT total, denominations_json FROM balances WHERE cashier_id = ? AND currency = ?`,
		key.CashierID, string(key.Currency),
	).Scan(&total, &denomsJS)
	if errors.Is(err, sql.ErrNoRows) {
		return cash.ZeroBalance(key.Currency), nil
	}
	if err != nil {
		return cash.Balance{}, errors.Wrapf(err, "failed to get balance %s", key)
	}
	return decodeBalance(key.Currency, total, denomsJS)
}

func (s *Store) Put(ctx context.Context, key cash.Key, b cash.Balance) error {
	return s.putTx(ctx, s.db, key, b)
}

func (s *Store) putTx(ctx context.Context, db execer, key cash.Key, b cash.Balance) error {
	denomsJSON, err := json.Marshal(b.Denominations.Clone())
	if err != nil {
		return errors.Wrap(err, "failed to encode denominations")
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO balances (cashier_id, currency, total, denominations_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cashier_id, currency) DO UPDATE SET
			total = excluded.total,
			denominations_json = excluded.denominations_json,
			updated_at = excluded.updated_at
	`,
		key.CashierID,
		string(key.Currency),
		b.Total.String(),
		string(denomsJSON),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to put balance %s", key)
	}
	return nil
}

func (s *Store) List(ctx context.Context, cashierID string) ([]cash.Balance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT currency, total, denominations_json FROM balances WHERE cashier_id = ? ORDER BY currency`,
		cashierID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list balances")
	}
	defer rows.Close()

	var out []cash.Balance
	for rows.Next() {
		var cur, total, denomsJS string
		if err := rows.Scan(&cur, &total, &denomsJS); err != nil {
			return nil, errors.Wrap(err, "failed to scan balance")
		}
		b, err := decodeBalance(cash.Currency(cur), total, denomsJS)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate balances")
}

func (s *Store) Keys(ctx context.Context) ([]cash.Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cashier_id, currency FROM balances ORDER BY cashier_id, currency`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list balance keys")
	}
	defer rows.Close()

	var out []cash.Key
	for rows.Next() {
		var k cash.Key
		var cur string
		if err := rows.Scan(&k.CashierID, &cur); err != nil {
			return nil, errors.Wrap(err, "failed to scan balance key")
		}
		k.Currency = cash.Currency(cur)
		out = append(out, k)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate balance keys")
}

// =============================================================================
// ATOMIC COMMIT (cash.Committer interface)
// =============================================================================

// Commit appends the record and upserts its key's balance in one
// transaction. Either both are visible afterwards or neither is.
func (s *Store) Commit(ctx context.Context, r cash.TransactionRecord, b cash.Balance) (cash.TransactionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return r, errors.Wrap(err, "failed to begin transaction")
	}

	if err := s.putTx(ctx, tx, r.Key(), b); err != nil {
		tx.Rollback()
		return r, err
	}
	stored, err := s.appendTx(ctx, tx, r)
	if err != nil {
		tx.Rollback()
		return r, err
	}
	if err := tx.Commit(); err != nil {
		return r, errors.Wrap(err, "failed to commit transaction")
	}
	return stored, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBalance(cur cash.Currency, total, denomsJS string) (cash.Balance, error) {
	t, err := decimal.NewFromString(total)
	if err != nil {
		return cash.Balance{}, errors.Wrapf(err, "bad balance total for %s", cur)
	}
	d, err := decodeDenominations(denomsJS)
	if err != nil {
		return cash.Balance{}, errors.Wrapf(err, "bad balance denominations for %s", cur)
	}
	return cash.Balance{Currency: cur, Total: t, Denominations: d}, nil
}

func decodeDenominations(s string) (cash.DenominationCount, error) {
	d := cash.DenominationCount{}
	if s == "" || s == "null" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, err
	}
	return d, nil
}
