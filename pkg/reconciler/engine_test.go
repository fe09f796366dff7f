package reconciler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tipbot-hq/settler/pkg/config"
	"github.com/tipbot-hq/settler/pkg/models"
	"github.com/tipbot-hq/settler/pkg/store"
	"github.com/tipbot-hq/settler/pkg/wallet"
)

// mockStore is an in-memory Store with the same merge semantics as the
// sqlite implementation.
type mockStore struct {
	records     map[string]*models.Record
	users       map[string]*store.UserIdentity
	transfers   []models.TransferEvent
	now         time.Time
	failUpserts bool
	lookupErr   error
}

func newMockStore() *mockStore {
	return &mockStore{
		records: make(map[string]*models.Record),
		users:   make(map[string]*store.UserIdentity),
		now:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func recordKey(kind models.Kind, key store.Key) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", kind, key.EventID, key.SenderID, key.RecipientID, key.ParentHash, key.WalletAddress)
}

func (m *mockStore) FindByIdentity(_ context.Context, kind models.Kind, key store.Key) (*models.Record, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	rec, ok := m.records[recordKey(kind, key)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) Upsert(_ context.Context, kind models.Kind, key store.Key, patch store.Patch) (*models.Record, error) {
	if m.failUpserts {
		return nil, fmt.Errorf("disk full")
	}
	k := recordKey(kind, key)
	rec, ok := m.records[k]
	if !ok {
		rec = &models.Record{
			ID:            int64(len(m.records) + 1),
			Kind:          kind,
			EventID:       key.EventID,
			SenderID:      key.SenderID,
			RecipientID:   key.RecipientID,
			ParentHash:    key.ParentHash,
			WalletAddress: key.WalletAddress,
			Status:        models.StatusPending,
			DateAdded:     m.now,
		}
		m.records[k] = rec
	}
	if patch.Snapshot != nil {
		snap := *patch.Snapshot
		if snap.WalletAddress != "" {
			rec.WalletAddress = snap.WalletAddress
		}
		if snap.Amount != "" {
			rec.Amount = snap.Amount
		}
		if snap.ChainID != 0 {
			rec.ChainID = snap.ChainID
		}
		if snap.TokenAddress != "" {
			rec.TokenAddress = snap.TokenAddress
		}
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
	cp := *rec
	return &cp, nil
}

func (m *mockStore) FindTransfersTo(_ context.Context, recipientID string) ([]models.TransferEvent, error) {
	var out []models.TransferEvent
	for _, t := range m.transfers {
		if t.RecipientID == recipientID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) UserByID(_ context.Context, userID string) (*store.UserIdentity, error) {
	user, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return user, nil
}

// mockWallet returns scripted results and counts calls.
type mockWallet struct {
	mu            sync.Mutex
	submitResult  *wallet.TxResult
	submitErr     error
	resolveResult *wallet.TxResult
	resolveErr    error
	submitCalls   int
	resolveCalls  int
	lastParams    wallet.SubmitParams
}

func (m *mockWallet) Submit(_ context.Context, params wallet.SubmitParams) (*wallet.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	m.lastParams = params
	return m.submitResult, m.submitErr
}

func (m *mockWallet) Resolve(_ context.Context, _ string) (*wallet.TxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveCalls++
	return m.resolveResult, m.resolveErr
}

func (m *mockWallet) calls() (submits, resolves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls, m.resolveCalls
}

// mockNotifier counts confirmed settlements per event.
type mockNotifier struct {
	confirmed []*models.Record
}

func (m *mockNotifier) SettlementConfirmed(_ context.Context, rec *models.Record) {
	m.confirmed = append(m.confirmed, rec)
}

func newTestEngine(st *mockStore, wc *mockWallet, n *mockNotifier) *Engine {
	route := config.Route{ChainID: 137, TokenAddress: "0xe36BD65609c08Cd17b53520293523CF4560533d0"}
	rewards := config.RewardConfig{SignupAmount: "100", ReferralAmount: "50", LinkAmount: "10"}
	e := NewEngine(st, wc, n, route, rewards, 10*time.Minute, nil)
	e.SetClock(func() time.Time { return st.now })
	return e
}

func testTransfer() Transfer {
	return Transfer{
		EventID:         "evt-1",
		SenderID:        "alice",
		RecipientID:     "bob",
		RecipientWallet: "0x1111111111111111111111111111111111111111",
		Amount:          "25",
	}
}

func TestReconcileImmediateHash(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	resolved := engine.Reconcile(context.Background(), testTransfer())
	assert.True(t, resolved)
	assert.Equal(t, 1, wc.submitCalls)
	assert.Len(t, n.confirmed, 1)
	assert.Equal(t, "0xabc", n.confirmed[0].TransactionHash)

	rec, err := st.FindByIdentity(context.Background(), models.KindTransfer, testTransfer().Key())
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, rec.Status)
	assert.Equal(t, "25000000000000000000", wc.lastParams.Value[0])
}

func TestReconcileIdempotentAfterSuccess(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	assert.True(t, engine.Reconcile(context.Background(), testTransfer()))

	// Re-delivery of the same event must not touch the wallet or notify
	// again.
	for i := 0; i < 3; i++ {
		assert.True(t, engine.Reconcile(context.Background(), testTransfer()))
	}
	assert.Equal(t, 1, wc.submitCalls)
	assert.Len(t, n.confirmed, 1)
}

func TestReconcileDeferredHash(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{submitResult: &wallet.TxResult{UserOpHash: "0xop"}}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	t.Run("submission parks the operation handle", func(t *testing.T) {
		resolved := engine.Reconcile(context.Background(), testTransfer())
		assert.False(t, resolved)
		assert.Empty(t, n.confirmed)

		rec, _ := st.FindByIdentity(context.Background(), models.KindTransfer, testTransfer().Key())
		assert.Equal(t, models.StatusPendingHash, rec.Status)
		assert.Equal(t, "0xop", rec.UserOpHash)
	})

	t.Run("unresolved poll keeps waiting", func(t *testing.T) {
		wc.resolveResult = &wallet.TxResult{}
		resolved := engine.Reconcile(context.Background(), testTransfer())
		assert.False(t, resolved)
		assert.Equal(t, 1, wc.submitCalls)
		assert.Equal(t, 1, wc.resolveCalls)
		assert.Empty(t, n.confirmed)
	})

	t.Run("hash arrival confirms the settlement", func(t *testing.T) {
		wc.resolveResult = &wallet.TxResult{TxHash: "0xfinal"}
		resolved := engine.Reconcile(context.Background(), testTransfer())
		assert.True(t, resolved)
		assert.Len(t, n.confirmed, 1)
		assert.Equal(t, "0xfinal", n.confirmed[0].TransactionHash)

		rec, _ := st.FindByIdentity(context.Background(), models.KindTransfer, testTransfer().Key())
		assert.Equal(t, models.StatusSuccess, rec.Status)
	})

	t.Run("re-delivery after confirmation is a no-op", func(t *testing.T) {
		assert.True(t, engine.Reconcile(context.Background(), testTransfer()))
		assert.Equal(t, 1, wc.submitCalls)
		assert.Equal(t, 2, wc.resolveCalls)
		assert.Len(t, n.confirmed, 1)
	})
}

func TestReconcileResolutionTimeout(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{
		submitResult:  &wallet.TxResult{UserOpHash: "0xop"},
		resolveResult: &wallet.TxResult{},
	}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	assert.False(t, engine.Reconcile(context.Background(), testTransfer()))

	// Just short of the deadline polling continues.
	st.now = st.now.Add(10*time.Minute - time.Second)
	assert.False(t, engine.Reconcile(context.Background(), testTransfer()))

	// At the deadline the intent resolves as a confirmed failure.
	st.now = st.now.Add(time.Second)
	assert.True(t, engine.Reconcile(context.Background(), testTransfer()))
	assert.Empty(t, n.confirmed)

	rec, _ := st.FindByIdentity(context.Background(), models.KindTransfer, testTransfer().Key())
	assert.Equal(t, models.StatusFailure, rec.Status)

	// The failure is terminal across re-deliveries, even much later.
	st.now = st.now.Add(24 * time.Hour)
	assert.True(t, engine.Reconcile(context.Background(), testTransfer()))
	assert.Equal(t, 1, wc.submitCalls)
}

func TestReconcileNonRetryableRejection(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{submitErr: fmt.Errorf("%w: unsupported token", wallet.ErrNonRetryable)}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	resolved := engine.Reconcile(context.Background(), testTransfer())
	assert.True(t, resolved)
	assert.Empty(t, n.confirmed)

	rec, _ := st.FindByIdentity(context.Background(), models.KindTransfer, testTransfer().Key())
	assert.Equal(t, models.StatusFailure, rec.Status)

	// No resubmission once the rejection has been recorded.
	assert.True(t, engine.Reconcile(context.Background(), testTransfer()))
	assert.Equal(t, 1, wc.submitCalls)
}

func TestReconcileMalformedAmount(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	intent := testTransfer()
	intent.Amount = "lots"

	// A request that cannot be turned into a submission will fail the same
	// way on every retry, so it resolves as a confirmed failure up front.
	resolved := engine.Reconcile(context.Background(), intent)
	assert.True(t, resolved)
	assert.Equal(t, 0, wc.submitCalls)
	assert.Empty(t, n.confirmed)

	rec, _ := st.FindByIdentity(context.Background(), models.KindTransfer, intent.Key())
	assert.Equal(t, models.StatusFailure, rec.Status)

	// The recorded failure short-circuits any later delivery of the event.
	assert.True(t, engine.Reconcile(context.Background(), intent))
	assert.Equal(t, 0, wc.submitCalls)
}

func TestReconcileTransientSubmitError(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{submitErr: fmt.Errorf("connection refused")}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	resolved := engine.Reconcile(context.Background(), testTransfer())
	assert.False(t, resolved)

	rec, _ := st.FindByIdentity(context.Background(), models.KindTransfer, testTransfer().Key())
	assert.Equal(t, models.StatusPending, rec.Status)

	// A later attempt goes back to the wallet.
	wc.submitErr = nil
	wc.submitResult = &wallet.TxResult{TxHash: "0xabc"}
	assert.True(t, engine.Reconcile(context.Background(), testTransfer()))
	assert.Equal(t, 2, wc.submitCalls)
	assert.Len(t, n.confirmed, 1)
}

func TestReconcilePendingHashWithoutHandle(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	// A record parked in the hash-pending state with no operation handle
	// resolves as successful with no hash.
	key := testTransfer().Key()
	status := models.StatusPendingHash
	_, err := st.Upsert(context.Background(), models.KindTransfer, key, store.Patch{Status: &status})
	assert.NoError(t, err)

	resolved := engine.Reconcile(context.Background(), testTransfer())
	assert.True(t, resolved)
	assert.Equal(t, 0, wc.submitCalls)
	assert.Equal(t, 0, wc.resolveCalls)
	assert.Len(t, n.confirmed, 1)
	assert.Empty(t, n.confirmed[0].TransactionHash)

	rec, _ := st.FindByIdentity(context.Background(), models.KindTransfer, key)
	assert.Equal(t, models.StatusSuccess, rec.Status)
}

func TestReconcileNoNotificationWithoutPersistedSuccess(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
	n := &mockNotifier{}
	engine := newTestEngine(st, wc, n)

	st.failUpserts = true
	resolved := engine.Reconcile(context.Background(), testTransfer())
	assert.False(t, resolved)
	assert.Empty(t, n.confirmed)
}

func TestReconcileLookupError(t *testing.T) {
	st := newMockStore()
	st.lookupErr = fmt.Errorf("database locked")
	wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
	engine := newTestEngine(st, wc, &mockNotifier{})

	// Unknown state: never submit, retry later.
	resolved := engine.Reconcile(context.Background(), testTransfer())
	assert.False(t, resolved)
	assert.Equal(t, 0, wc.submitCalls)
}

func TestReconcileRouteDefaults(t *testing.T) {
	st := newMockStore()
	wc := &mockWallet{submitResult: &wallet.TxResult{TxHash: "0xabc"}}
	engine := newTestEngine(st, wc, &mockNotifier{})

	t.Run("defaults apply when the intent is silent", func(t *testing.T) {
		assert.True(t, engine.Reconcile(context.Background(), testTransfer()))
		assert.Equal(t, 137, wc.lastParams.ChainID)
	})

	t.Run("intent overrides win", func(t *testing.T) {
		intent := testTransfer()
		intent.EventID = "evt-2"
		intent.ChainID = 8453
		assert.True(t, engine.Reconcile(context.Background(), intent))
		assert.Equal(t, 8453, wc.lastParams.ChainID)
	})
}

func TestToBaseUnits(t *testing.T) {
	t.Run("whole tokens scale to 18 decimals", func(t *testing.T) {
		value, err := toBaseUnits("100")
		assert.NoError(t, err)
		assert.Equal(t, "100000000000000000000", value)
	})

	t.Run("fractional amounts are preserved", func(t *testing.T) {
		value, err := toBaseUnits("0.5")
		assert.NoError(t, err)
		assert.Equal(t, "500000000000000000", value)
	})

	t.Run("zero and negative amounts are rejected", func(t *testing.T) {
		_, err := toBaseUnits("0")
		assert.Error(t, err)
		_, err = toBaseUnits("-1")
		assert.Error(t, err)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := toBaseUnits("lots")
		assert.Error(t, err)
	})
}
