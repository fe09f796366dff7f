package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tipbot-hq/settler/pkg/models"
	"github.com/tipbot-hq/settler/pkg/store"
	"github.com/tipbot-hq/settler/pkg/wallet"
)

func seedUser(st *mockStore, userID, walletAddr string) {
	st.users[userID] = &store.UserIdentity{
		UserID:        userID,
		WalletAddress: walletAddr,
		Handle:        "@" + userID,
		DateAdded:     st.now,
	}
}

func TestProcessSignupReward(t *testing.T) {
	t.Run("wallet and amount resolved from config and identity", func(t *testing.T) {
		st := newMockStore()
		seedUser(st, "alice", "0x1111111111111111111111111111111111111111")
		wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
		n := &mockNotifier{}
		engine := newTestEngine(st, wc, n)

		resolved := engine.ProcessSignupReward(context.Background(), SignupReward{EventID: "evt-signup", UserID: "alice"})
		assert.True(t, resolved)
		assert.Len(t, n.confirmed, 1)
		assert.Equal(t, "100000000000000000000", wc.lastParams.Value[0])
		assert.Equal(t, "0x1111111111111111111111111111111111111111", wc.lastParams.To[0])
	})

	t.Run("user without wallet is skipped without error", func(t *testing.T) {
		st := newMockStore()
		wc := &mockWallet{}
		engine := newTestEngine(st, wc, &mockNotifier{})

		resolved := engine.ProcessSignupReward(context.Background(), SignupReward{EventID: "evt-signup", UserID: "ghost"})
		assert.True(t, resolved)
		assert.Equal(t, 0, wc.submitCalls)
	})
}

func TestProcessReferralRewards(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	newStoreWithTransfers := func() *mockStore {
		st := newMockStore()
		seedUser(st, "alice", "0x1111111111111111111111111111111111111111")
		seedUser(st, "bob", "0x2222222222222222222222222222222222222222")
		st.transfers = []models.TransferEvent{
			{TransactionHash: "0xt1", SenderID: "alice", RecipientID: "newbie", Amount: "5", DateAdded: base},
			{TransactionHash: "0xt1", SenderID: "alice", RecipientID: "newbie", Amount: "5", DateAdded: base},
			{TransactionHash: "0xt2", SenderID: "bob", RecipientID: "newbie", Amount: "7", DateAdded: base},
			{TransactionHash: "0xt3", SenderID: "stranger", RecipientID: "newbie", Amount: "9", DateAdded: base},
		}
		return st
	}

	t.Run("one reward per unique hash and sender", func(t *testing.T) {
		st := newStoreWithTransfers()
		wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
		n := &mockNotifier{}
		engine := newTestEngine(st, wc, n)

		resolved := engine.ProcessReferralRewards(context.Background(), "evt-ref", "newbie")
		assert.True(t, resolved)

		// Duplicate 0xt1 collapses and the unknown sender is excluded:
		// alice and bob each get exactly one reward.
		assert.Equal(t, 2, wc.submitCalls)
		assert.Len(t, n.confirmed, 2)
	})

	t.Run("re-delivery pays nobody twice", func(t *testing.T) {
		st := newStoreWithTransfers()
		wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
		n := &mockNotifier{}
		engine := newTestEngine(st, wc, n)

		assert.True(t, engine.ProcessReferralRewards(context.Background(), "evt-ref", "newbie"))
		assert.True(t, engine.ProcessReferralRewards(context.Background(), "evt-ref", "newbie"))
		assert.Equal(t, 2, wc.submitCalls)
		assert.Len(t, n.confirmed, 2)
	})

	t.Run("one unresolved recipient fails the batch without blocking others", func(t *testing.T) {
		st := newStoreWithTransfers()
		wc := &mockWallet{submitResult: &wallet.TxResult{UserOpHash: "0xop"}}
		engine := newTestEngine(st, wc, &mockNotifier{})

		resolved := engine.ProcessReferralRewards(context.Background(), "evt-ref", "newbie")
		assert.False(t, resolved)
		// Both eligible recipients were still attempted.
		assert.Equal(t, 2, wc.submitCalls)
	})

	t.Run("no qualifying transfers resolves immediately", func(t *testing.T) {
		st := newMockStore()
		wc := &mockWallet{}
		engine := newTestEngine(st, wc, &mockNotifier{})

		assert.True(t, engine.ProcessReferralRewards(context.Background(), "evt-ref", "loner"))
		assert.Equal(t, 0, wc.submitCalls)
	})
}

func TestProcessVesting(t *testing.T) {
	vesting := Vesting{
		EventID:  "evt-vest",
		SenderID: "treasury",
		Recipients: []VestingRecipient{
			{WalletAddress: "0x1111111111111111111111111111111111111111", Amount: "10"},
			{WalletAddress: "0x2222222222222222222222222222222222222222", Amount: "20"},
			{WalletAddress: "0x1111111111111111111111111111111111111111", Amount: "10"},
		},
	}

	t.Run("each unique wallet gets one grant", func(t *testing.T) {
		st := newMockStore()
		wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
		n := &mockNotifier{}
		engine := newTestEngine(st, wc, n)

		assert.True(t, engine.ProcessVesting(context.Background(), vesting))
		assert.Equal(t, 2, wc.submitCalls)
		assert.Len(t, n.confirmed, 2)
	})

	t.Run("grants settle independently across deliveries", func(t *testing.T) {
		st := newMockStore()
		wc := &mockWallet{submitResult: &wallet.TxResult{UserOpHash: "0xop"}}
		n := &mockNotifier{}
		engine := newTestEngine(st, wc, n)

		assert.False(t, engine.ProcessVesting(context.Background(), vesting))
		assert.Equal(t, 2, wc.submitCalls)

		wc.resolveResult = &wallet.TxResult{TxHash: "0xfinal"}
		assert.True(t, engine.ProcessVesting(context.Background(), vesting))
		assert.Equal(t, 2, wc.submitCalls)
		assert.Len(t, n.confirmed, 2)
	})

	t.Run("empty recipient list is a no-op", func(t *testing.T) {
		st := newMockStore()
		wc := &mockWallet{}
		engine := newTestEngine(st, wc, &mockNotifier{})

		assert.True(t, engine.ProcessVesting(context.Background(), Vesting{EventID: "evt-vest"}))
		assert.Equal(t, 0, wc.submitCalls)
	})
}

func TestProcessSwap(t *testing.T) {
	st := newMockStore()
	seedUser(st, "alice", "0x1111111111111111111111111111111111111111")
	wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
	engine := newTestEngine(st, wc, &mockNotifier{})

	t.Run("delegate call carries the handler data", func(t *testing.T) {
		resolved := engine.ProcessSwap(context.Background(), Swap{
			EventID:       "evt-swap",
			UserID:        "alice",
			TargetAddress: "0x3333333333333333333333333333333333333333",
			CallData:      []string{"0xdeadbeef"},
		})
		assert.True(t, resolved)
		assert.True(t, wc.lastParams.DelegateCall)
		assert.Equal(t, []string{"0xdeadbeef"}, wc.lastParams.Data)
		assert.Equal(t, []string{"0"}, wc.lastParams.Value)
	})

	t.Run("multi-step swap repeats the target per call", func(t *testing.T) {
		resolved := engine.ProcessSwap(context.Background(), Swap{
			EventID:       "evt-swap-multi",
			UserID:        "alice",
			TargetAddress: "0x3333333333333333333333333333333333333333",
			CallData:      []string{"0xdeadbeef", "0xfeedface"},
		})
		assert.True(t, resolved)
		assert.Equal(t, []string{
			"0x3333333333333333333333333333333333333333",
			"0x3333333333333333333333333333333333333333",
		}, wc.lastParams.To)
		assert.Equal(t, []string{"0", "0"}, wc.lastParams.Value)
		assert.Len(t, wc.lastParams.Data, len(wc.lastParams.To))
		assert.Len(t, wc.lastParams.Value, len(wc.lastParams.To))
	})

	t.Run("missing call data never reaches the wallet", func(t *testing.T) {
		before := wc.submitCalls
		swap := Swap{
			EventID:       "evt-swap-2",
			UserID:        "alice",
			TargetAddress: "0x3333333333333333333333333333333333333333",
		}
		resolved := engine.ProcessSwap(context.Background(), swap)

		// The request can never become submittable, so it resolves as a
		// confirmed failure instead of retrying forever.
		assert.True(t, resolved)
		assert.Equal(t, before, wc.submitCalls)
		rec, err := st.FindByIdentity(context.Background(), models.KindSwap, swap.Key())
		assert.NoError(t, err)
		assert.Equal(t, models.StatusFailure, rec.Status)
	})

	t.Run("mismatched value vector is a confirmed failure", func(t *testing.T) {
		before := wc.submitCalls
		swap := Swap{
			EventID:       "evt-swap-3",
			UserID:        "alice",
			TargetAddress: "0x3333333333333333333333333333333333333333",
			CallData:      []string{"0xdeadbeef", "0xfeedface"},
			Values:        []string{"0"},
		}
		resolved := engine.ProcessSwap(context.Background(), swap)
		assert.True(t, resolved)
		assert.Equal(t, before, wc.submitCalls)
		rec, err := st.FindByIdentity(context.Background(), models.KindSwap, swap.Key())
		assert.NoError(t, err)
		assert.Equal(t, models.StatusFailure, rec.Status)
	})
}

func TestProcessTransfer(t *testing.T) {
	t.Run("recipient wallet resolved from identity store", func(t *testing.T) {
		st := newMockStore()
		seedUser(st, "bob", "0x2222222222222222222222222222222222222222")
		wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
		engine := newTestEngine(st, wc, &mockNotifier{})

		resolved := engine.ProcessTransfer(context.Background(), Transfer{
			EventID:     "evt-t",
			SenderID:    "alice",
			RecipientID: "bob",
			Amount:      "3",
		})
		assert.True(t, resolved)
		assert.Equal(t, "0x2222222222222222222222222222222222222222", wc.lastParams.To[0])
	})

	t.Run("unknown recipient is skipped without a wallet call", func(t *testing.T) {
		st := newMockStore()
		wc := &mockWallet{}
		engine := newTestEngine(st, wc, &mockNotifier{})

		resolved := engine.ProcessTransfer(context.Background(), Transfer{
			EventID:     "evt-t",
			SenderID:    "alice",
			RecipientID: "ghost",
			Amount:      "3",
		})
		assert.True(t, resolved)
		assert.Equal(t, 0, wc.submitCalls)
	})
}
