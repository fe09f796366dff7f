package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/tipbot-hq/settler/pkg/models"
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("store: database path must be configured")

const schema = `
CREATE TABLE IF NOT EXISTS intent_records (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    kind             TEXT NOT NULL,
    event_id         TEXT NOT NULL DEFAULT '',
    sender_id        TEXT NOT NULL DEFAULT '',
    recipient_id     TEXT NOT NULL DEFAULT '',
    parent_hash      TEXT NOT NULL DEFAULT '',
    wallet_address   TEXT NOT NULL DEFAULT '',
    handle           TEXT NOT NULL DEFAULT '',
    display_name     TEXT NOT NULL DEFAULT '',
    amount           TEXT NOT NULL DEFAULT '',
    message          TEXT NOT NULL DEFAULT '',
    token_address    TEXT NOT NULL DEFAULT '',
    chain_id         INTEGER NOT NULL DEFAULT 0,
    status           TEXT NOT NULL,
    transaction_hash TEXT NOT NULL DEFAULT '',
    user_op_hash     TEXT NOT NULL DEFAULT '',
    date_added       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_intent_records_identity
    ON intent_records(kind, event_id);
CREATE INDEX IF NOT EXISTS idx_intent_records_recipient
    ON intent_records(kind, recipient_id, status);
CREATE TABLE IF NOT EXISTS user_identities (
    user_id        TEXT PRIMARY KEY,
    wallet_address TEXT NOT NULL DEFAULT '',
    handle         TEXT NOT NULL DEFAULT '',
    display_name   TEXT NOT NULL DEFAULT '',
    date_added     INTEGER NOT NULL
);
`

// Storage wraps the settlement record persistence layer. All mutations are
// single-row upserts keyed by business identity; no transactions or locks
// are assumed.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// Open initialises the backing store using a sqlite-compatible DSN.
// Tests may pass ":memory:".
func Open(path string) (*Storage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock overrides the timestamp source. Intended for tests.
func (s *Storage) SetClock(now func() time.Time) {
	s.now = now
}

// Ping verifies the backing store is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	return s.db.PingContext(ctx)
}

// Key identifies a record inside a kind's logical collection. EventID is the
// primary deduplication key when present; the remaining fields narrow the
// match for kinds whose intents may arrive without one.
type Key struct {
	EventID       string
	SenderID      string
	RecipientID   string
	ParentHash    string
	WalletAddress string
}

// Patch carries a partial record update. Nil pointers leave the stored value
// untouched; a pointer to the zero value clears it.
type Patch struct {
	Status          *models.Status
	TransactionHash *string
	UserOpHash      *string
	Snapshot        *models.Snapshot
}

// FindByIdentity returns the record matching the intent's identity, or nil
// when no record exists.
func (s *Storage) FindByIdentity(ctx context.Context, kind models.Kind, key Key) (*models.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	where, args := identityClause(kind, key)
	row := s.db.QueryRowContext(ctx, `
        SELECT id, kind, event_id, sender_id, recipient_id, parent_hash,
               wallet_address, handle, display_name, amount, message,
               token_address, chain_id, status, transaction_hash,
               user_op_hash, date_added
        FROM intent_records
        WHERE `+where+`
        ORDER BY id DESC
        LIMIT 1
    `, args...)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query record: %w", err)
	}
	return rec, nil
}

// Upsert merges patch into the record matching key, creating it when absent.
// Fields not present in patch are preserved. DateAdded is set once, at first
// persistence, and drives the resolution timeout.
func (s *Storage) Upsert(ctx context.Context, kind models.Kind, key Key, patch Patch) (*models.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	existing, err := s.FindByIdentity(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return s.insert(ctx, kind, key, patch)
	}

	if patch.Snapshot != nil {
		applySnapshot(existing, *patch.Snapshot)
	}
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.TransactionHash != nil {
		existing.TransactionHash = *patch.TransactionHash
	}
	if patch.UserOpHash != nil {
		existing.UserOpHash = *patch.UserOpHash
	}

	_, err = s.db.ExecContext(ctx, `
        UPDATE intent_records
        SET sender_id = ?, recipient_id = ?, parent_hash = ?,
            wallet_address = ?, handle = ?, display_name = ?, amount = ?,
            message = ?, token_address = ?, chain_id = ?, status = ?,
            transaction_hash = ?, user_op_hash = ?
        WHERE id = ?
    `, existing.SenderID, existing.RecipientID, existing.ParentHash,
		existing.WalletAddress, existing.Handle, existing.DisplayName,
		existing.Amount, existing.Message, existing.TokenAddress,
		existing.ChainID, string(existing.Status), existing.TransactionHash,
		existing.UserOpHash, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	return existing, nil
}

func (s *Storage) insert(ctx context.Context, kind models.Kind, key Key, patch Patch) (*models.Record, error) {
	rec := &models.Record{
		Kind:          kind,
		EventID:       key.EventID,
		SenderID:      key.SenderID,
		RecipientID:   key.RecipientID,
		ParentHash:    key.ParentHash,
		WalletAddress: key.WalletAddress,
		Status:        models.StatusPending,
		DateAdded:     s.now().UTC(),
	}
	if patch.Snapshot != nil {
		applySnapshot(rec, *patch.Snapshot)
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.TransactionHash != nil {
		rec.TransactionHash = *patch.TransactionHash
	}
	if patch.UserOpHash != nil {
		rec.UserOpHash = *patch.UserOpHash
	}

	result, err := s.db.ExecContext(ctx, `
        INSERT INTO intent_records(kind, event_id, sender_id, recipient_id,
            parent_hash, wallet_address, handle, display_name, amount,
            message, token_address, chain_id, status, transaction_hash,
            user_op_hash, date_added)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, string(rec.Kind), rec.EventID, rec.SenderID, rec.RecipientID,
		rec.ParentHash, rec.WalletAddress, rec.Handle, rec.DisplayName,
		rec.Amount, rec.Message, rec.TokenAddress, rec.ChainID,
		string(rec.Status), rec.TransactionHash, rec.UserOpHash,
		rec.DateAdded.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	rec.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return rec, nil
}

// FindTransfersTo returns the confirmed transfers whose recipient matches
// the given user. Referral fan-out derives its candidates from these.
func (s *Storage) FindTransfersTo(ctx context.Context, recipientID string) ([]models.TransferEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT transaction_hash, sender_id, recipient_id, amount, date_added
        FROM intent_records
        WHERE kind = ? AND recipient_id = ? AND status = ?
        ORDER BY id ASC
    `, string(models.KindTransfer), recipientID, string(models.StatusSuccess))
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []models.TransferEvent
	for rows.Next() {
		var t models.TransferEvent
		var added int64
		if err := rows.Scan(&t.TransactionHash, &t.SenderID, &t.RecipientID, &t.Amount, &added); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.DateAdded = time.Unix(added, 0).UTC()
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return transfers, nil
}

func identityClause(kind models.Kind, key Key) (string, []interface{}) {
	clauses := []string{"kind = ?"}
	args := []interface{}{string(kind)}

	if key.EventID != "" {
		clauses = append(clauses, "event_id = ?")
		args = append(args, key.EventID)
	}
	if key.SenderID != "" {
		clauses = append(clauses, "sender_id = ?")
		args = append(args, key.SenderID)
	}
	if key.RecipientID != "" {
		clauses = append(clauses, "recipient_id = ?")
		args = append(args, key.RecipientID)
	}
	if key.ParentHash != "" {
		clauses = append(clauses, "parent_hash = ?")
		args = append(args, key.ParentHash)
	}
	if key.WalletAddress != "" {
		clauses = append(clauses, "wallet_address = ?")
		args = append(args, key.WalletAddress)
	}

	return strings.Join(clauses, " AND "), args
}

func applySnapshot(rec *models.Record, snap models.Snapshot) {
	if snap.SenderID != "" {
		rec.SenderID = snap.SenderID
	}
	if snap.RecipientID != "" {
		rec.RecipientID = snap.RecipientID
	}
	if snap.ParentHash != "" {
		rec.ParentHash = snap.ParentHash
	}
	if snap.WalletAddress != "" {
		rec.WalletAddress = snap.WalletAddress
	}
	if snap.Handle != "" {
		rec.Handle = snap.Handle
	}
	if snap.DisplayName != "" {
		rec.DisplayName = snap.DisplayName
	}
	if snap.Amount != "" {
		rec.Amount = snap.Amount
	}
	if snap.Message != "" {
		rec.Message = snap.Message
	}
	if snap.TokenAddress != "" {
		rec.TokenAddress = snap.TokenAddress
	}
	if snap.ChainID != 0 {
		rec.ChainID = snap.ChainID
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var kind, status string
	var added int64
	err := row.Scan(&rec.ID, &kind, &rec.EventID, &rec.SenderID,
		&rec.RecipientID, &rec.ParentHash, &rec.WalletAddress, &rec.Handle,
		&rec.DisplayName, &rec.Amount, &rec.Message, &rec.TokenAddress,
		&rec.ChainID, &status, &rec.TransactionHash, &rec.UserOpHash, &added)
	if err != nil {
		return nil, err
	}
	rec.Kind = models.Kind(kind)
	rec.Status = models.Status(status)
	rec.DateAdded = time.Unix(added, 0).UTC()
	return &rec, nil
}
