package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tipbot-hq/settler/pkg/models"
)

// UserIdentity maps a chat-platform user id to its custodial wallet and the
// display fields carried into notification snapshots.
type UserIdentity struct {
	UserID        string
	WalletAddress string
	Handle        string
	DisplayName   string
	DateAdded     time.Time
}

// UpsertUser registers or refreshes a user identity.
func (s *Storage) UpsertUser(ctx context.Context, user UserIdentity) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage not configured")
	}
	if user.UserID == "" {
		return fmt.Errorf("user id required")
	}
	added := user.DateAdded
	if added.IsZero() {
		added = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO user_identities(user_id, wallet_address, handle, display_name, date_added)
        VALUES(?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            wallet_address = excluded.wallet_address,
            handle = excluded.handle,
            display_name = excluded.display_name
    `, user.UserID, user.WalletAddress, user.Handle, user.DisplayName, added.Unix())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UserByID returns the identity for a user, or nil when the user is unknown.
// Fan-out treats unknown users as ineligible, not as errors.
func (s *Storage) UserByID(ctx context.Context, userID string) (*UserIdentity, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT user_id, wallet_address, handle, display_name, date_added
        FROM user_identities
        WHERE user_id = ?
    `, userID)
	var user UserIdentity
	var added int64
	if err := row.Scan(&user.UserID, &user.WalletAddress, &user.Handle, &user.DisplayName, &added); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.DateAdded = time.Unix(added, 0).UTC()
	return &user, nil
}

// Snapshot builds the denormalized snapshot fields for this identity.
func (u *UserIdentity) Snapshot() models.Snapshot {
	if u == nil {
		return models.Snapshot{}
	}
	return models.Snapshot{
		WalletAddress: u.WalletAddress,
		Handle:        u.Handle,
		DisplayName:   u.DisplayName,
	}
}
