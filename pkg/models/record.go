package models

import (
	"time"
)

// Kind identifies which logical collection an intent record belongs to.
type Kind string

const (
	KindReward   Kind = "reward"
	KindReferral Kind = "referral"
	KindLink     Kind = "link"
	KindVesting  Kind = "vesting"
	KindSwap     Kind = "swap"
	KindTransfer Kind = "transfer"
)

// Kinds lists every intent kind.
func Kinds() []Kind {
	return []Kind{KindReward, KindReferral, KindLink, KindVesting, KindSwap, KindTransfer}
}

// Status represents the lifecycle state of an intent record.
// The absence of a record is the implicit "not yet started" state.
type Status string

const (
	// StatusPending means a submission was attempted but no confirmable
	// handle was obtained yet.
	StatusPending Status = "pending"
	// StatusPendingHash means the wallet provider accepted the operation
	// and returned a userOpHash that still has to resolve to a tx hash.
	StatusPendingHash Status = "pending_hash"
	// StatusSuccess is terminal: the transfer confirmed on chain.
	StatusSuccess Status = "success"
	// StatusFailure is terminal: the provider rejected the operation or
	// resolution timed out. Failure records are never retried.
	StatusFailure Status = "failure"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Record is one persisted document per business transaction.
type Record struct {
	ID      int64  `json:"-"`
	EventID string `json:"event_id"`
	Kind    Kind   `json:"kind"`

	// Identity fields; which of these participate in the lookup key
	// depends on the kind.
	SenderID    string `json:"sender_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	ParentHash  string `json:"parent_hash,omitempty"`

	// Denormalized snapshot captured at submission time so notification
	// payloads do not require re-joining other collections later.
	WalletAddress string `json:"wallet_address,omitempty"`
	Handle        string `json:"handle,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Message       string `json:"message,omitempty"`
	TokenAddress  string `json:"token_address,omitempty"`
	ChainID       int    `json:"chain_id,omitempty"`

	Status          Status    `json:"status"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
	UserOpHash      string    `json:"user_op_hash,omitempty"`
	DateAdded       time.Time `json:"date_added"`
}

// Snapshot holds the denormalized fields an intent carries into its record
// and into downstream notification payloads.
type Snapshot struct {
	SenderID      string
	RecipientID   string
	ParentHash    string
	WalletAddress string
	Handle        string
	DisplayName   string
	Amount        string
	Message       string
	TokenAddress  string
	ChainID       int
}

// TransferEvent is an upstream confirmed transfer used to derive referral
// fan-out candidates.
type TransferEvent struct {
	TransactionHash string    `json:"transaction_hash"`
	SenderID        string    `json:"sender_id"`
	RecipientID     string    `json:"recipient_id"`
	Amount          string    `json:"amount"`
	DateAdded       time.Time `json:"date_added"`
}
