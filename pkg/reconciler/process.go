package reconciler

import (
	"context"

	"github.com/tipbot-hq/settler/pkg/models"
)

// ProcessSignupReward issues the one-time sign-up reward for a user.
func (e *Engine) ProcessSignupReward(ctx context.Context, intent SignupReward) bool {
	if intent.UserID == "" {
		e.logger.NoticeWithKind(models.KindReward, "Skipping signup reward with no user id (event %s)", intent.EventID)
		return true
	}
	if intent.Amount == "" {
		intent.Amount = e.rewards.SignupAmount
	}
	if intent.WalletAddress == "" {
		user, err := e.store.UserByID(ctx, intent.UserID)
		if err != nil {
			e.logger.ErrorWithKind(models.KindReward, "User lookup failed for %s: %v", intent.UserID, err)
			return false
		}
		if user == nil || user.WalletAddress == "" {
			e.logger.NoticeWithKind(models.KindReward, "No wallet known for user %s, skipping reward", intent.UserID)
			return true
		}
		intent.WalletAddress = user.WalletAddress
		if intent.Handle == "" {
			intent.Handle = user.Handle
		}
		if intent.DisplayName == "" {
			intent.DisplayName = user.DisplayName
		}
	}
	return e.Reconcile(ctx, intent)
}

// ProcessReferralRewards fans one sign-up event out into a referral reward
// per qualifying prior transfer to the new user. Duplicates sharing the same
// (hash, sender) pair collapse to a single reward opportunity; senders who
// are not known identities are excluded without being treated as errors.
// The result is the logical AND over all derived recipients.
func (e *Engine) ProcessReferralRewards(ctx context.Context, eventID, newUserID string) bool {
	if newUserID == "" {
		e.logger.NoticeWithKind(models.KindReferral, "Skipping referral fan-out with no user id (event %s)", eventID)
		return true
	}

	transfers, err := e.store.FindTransfersTo(ctx, newUserID)
	if err != nil {
		e.logger.ErrorWithKind(models.KindReferral, "Transfer lookup failed for user %s: %v", newUserID, err)
		return false
	}

	seen := make(map[string]bool)
	resolved := true
	for _, t := range transfers {
		dedupKey := t.TransactionHash + "|" + t.SenderID
		if seen[dedupKey] {
			continue
		}
		seen[dedupKey] = true

		referrer, err := e.store.UserByID(ctx, t.SenderID)
		if err != nil {
			e.logger.ErrorWithKind(models.KindReferral, "User lookup failed for %s: %v", t.SenderID, err)
			resolved = false
			continue
		}
		if referrer == nil || referrer.WalletAddress == "" {
			e.logger.DebugWithKind(models.KindReferral, "Sender %s of transfer %s is not a known identity, skipping", t.SenderID, t.TransactionHash)
			continue
		}

		intent := ReferralReward{
			EventID:       eventID,
			ReferrerID:    t.SenderID,
			ParentHash:    t.TransactionHash,
			WalletAddress: referrer.WalletAddress,
			Handle:        referrer.Handle,
			DisplayName:   referrer.DisplayName,
			Amount:        e.rewards.ReferralAmount,
		}
		if !e.Reconcile(ctx, intent) {
			resolved = false
		}
	}
	return resolved
}

// ProcessLinkReward issues the reward for sharing a referral link.
func (e *Engine) ProcessLinkReward(ctx context.Context, intent LinkReward) bool {
	if intent.UserID == "" {
		e.logger.NoticeWithKind(models.KindLink, "Skipping link reward with no user id (event %s)", intent.EventID)
		return true
	}
	if intent.Amount == "" {
		intent.Amount = e.rewards.LinkAmount
	}
	if intent.WalletAddress == "" {
		user, err := e.store.UserByID(ctx, intent.UserID)
		if err != nil {
			e.logger.ErrorWithKind(models.KindLink, "User lookup failed for %s: %v", intent.UserID, err)
			return false
		}
		if user == nil || user.WalletAddress == "" {
			e.logger.NoticeWithKind(models.KindLink, "No wallet known for user %s, skipping reward", intent.UserID)
			return true
		}
		intent.WalletAddress = user.WalletAddress
		if intent.Handle == "" {
			intent.Handle = user.Handle
		}
		if intent.DisplayName == "" {
			intent.DisplayName = user.DisplayName
		}
	}
	return e.Reconcile(ctx, intent)
}

// VestingRecipient is one leg of a vesting distribution.
type VestingRecipient struct {
	WalletAddress string
	Amount        string
}

// Vesting distributes tokens to a list of recipient wallets. Each recipient
// advances through the state machine independently.
type Vesting struct {
	EventID      string
	SenderID     string
	Recipients   []VestingRecipient
	ChainID      int
	TokenAddress string
}

// ProcessVesting fans a vesting intent out into one grant per recipient
// wallet and ANDs the results. Recipients sharing a wallet address collapse
// to one grant.
func (e *Engine) ProcessVesting(ctx context.Context, v Vesting) bool {
	if len(v.Recipients) == 0 {
		e.logger.NoticeWithKind(models.KindVesting, "Skipping vesting with no recipients (event %s)", v.EventID)
		return true
	}

	seen := make(map[string]bool)
	resolved := true
	for _, r := range v.Recipients {
		if r.WalletAddress == "" {
			continue
		}
		if seen[r.WalletAddress] {
			continue
		}
		seen[r.WalletAddress] = true

		grant := VestingGrant{
			EventID:       v.EventID,
			SenderID:      v.SenderID,
			WalletAddress: r.WalletAddress,
			Amount:        r.Amount,
			ChainID:       v.ChainID,
			TokenAddress:  v.TokenAddress,
		}
		if !e.Reconcile(ctx, grant) {
			resolved = false
		}
	}
	return resolved
}

// ProcessSwap executes a swap intent.
func (e *Engine) ProcessSwap(ctx context.Context, intent Swap) bool {
	if intent.UserID == "" {
		e.logger.NoticeWithKind(models.KindSwap, "Skipping swap with no user id (event %s)", intent.EventID)
		return true
	}
	if intent.WalletAddress == "" {
		user, err := e.store.UserByID(ctx, intent.UserID)
		if err != nil {
			e.logger.ErrorWithKind(models.KindSwap, "User lookup failed for %s: %v", intent.UserID, err)
			return false
		}
		if user != nil {
			intent.WalletAddress = user.WalletAddress
		}
	}
	return e.Reconcile(ctx, intent)
}

// ProcessTransfer executes a plain user-to-user transfer, resolving the
// recipient's wallet from the identity store when the intent does not carry
// it.
func (e *Engine) ProcessTransfer(ctx context.Context, intent Transfer) bool {
	if intent.SenderID == "" || intent.RecipientID == "" {
		e.logger.NoticeWithKind(models.KindTransfer, "Skipping transfer with missing participants (event %s)", intent.EventID)
		return true
	}
	if intent.RecipientWallet == "" {
		recipient, err := e.store.UserByID(ctx, intent.RecipientID)
		if err != nil {
			e.logger.ErrorWithKind(models.KindTransfer, "User lookup failed for %s: %v", intent.RecipientID, err)
			return false
		}
		if recipient == nil || recipient.WalletAddress == "" {
			e.logger.NoticeWithKind(models.KindTransfer, "Recipient %s has no known wallet, skipping transfer", intent.RecipientID)
			return true
		}
		intent.RecipientWallet = recipient.WalletAddress
		if intent.Handle == "" {
			intent.Handle = recipient.Handle
		}
		if intent.DisplayName == "" {
			intent.DisplayName = recipient.DisplayName
		}
	}
	return e.Reconcile(ctx, intent)
}
