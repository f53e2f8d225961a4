package journal

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"coinbot/internal/game"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id           TEXT PRIMARY KEY,
	tx_group     TEXT NOT NULL,
	op           TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	wallet_delta INTEGER NOT NULL,
	bank_delta   INTEGER NOT NULL,
	at           TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_user_id ON entries (user_id, id);
`

// Entry is one stored balance movement. IDs are ULIDs, so ordering by id is
// ordering by insertion time.
type Entry struct {
	ID          string    `db:"id" json:"id"`
	TxGroup     string    `db:"tx_group" json:"tx_group"`
	Op          string    `db:"op" json:"op"`
	UserID      string    `db:"user_id" json:"user_id"`
	WalletDelta int64     `db:"wallet_delta" json:"wallet_delta"`
	BankDelta   int64     `db:"bank_delta" json:"bank_delta"`
	At          time.Time `db:"at" json:"at"`
}

// SQLite is an append-only audit journal of committed balance changes.
type SQLite struct {
	db *sqlx.DB

	mu   sync.Mutex
	mono io.Reader
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	var seed int64
	_ = binary.Read(cryptorand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SQLite{db: db, mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}, nil
}

func (j *SQLite) newID(at time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), j.mono)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Record implements game.Journal. All entries of one call land in one
// transaction.
func (j *SQLite) Record(ctx context.Context, entries []game.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]Entry, 0, len(entries))
	for _, e := range entries {
		id, err := j.newID(time.Now().UTC())
		if err != nil {
			return fmt.Errorf("journal id: %w", err)
		}
		rows = append(rows, Entry{
			ID:          id,
			TxGroup:     e.TxGroup,
			Op:          e.Op,
			UserID:      e.UserID,
			WalletDelta: e.WalletDelta,
			BankDelta:   e.BankDelta,
			At:          e.At.UTC(),
		})
	}

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO entries (id, tx_group, op, user_id, wallet_delta, bank_delta, at)
		VALUES (:id, :tx_group, :op, :user_id, :wallet_delta, :bank_delta, :at)`, rows)
	if err != nil {
		return fmt.Errorf("insert journal entries: %w", err)
	}
	return tx.Commit()
}

// Recent returns the newest entries for a user, newest first. An empty user
// returns entries for everyone.
func (j *SQLite) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out := []Entry{}
	var err error
	if userID == "" {
		err = j.db.SelectContext(ctx, &out, `SELECT * FROM entries ORDER BY id DESC LIMIT ?`, limit)
	} else {
		err = j.db.SelectContext(ctx, &out, `SELECT * FROM entries WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return out, nil
}

// Net sums a user's wallet and bank deltas across the whole journal.
func (j *SQLite) Net(ctx context.Context, userID string) (wallet, bank int64, err error) {
	var row struct {
		Wallet int64 `db:"wallet"`
		Bank   int64 `db:"bank"`
	}
	err = j.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(wallet_delta), 0) AS wallet, COALESCE(SUM(bank_delta), 0) AS bank
		FROM entries WHERE user_id = ?`, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("sum journal: %w", err)
	}
	return row.Wallet, row.Bank, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
