package reconciler

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tipbot-hq/settler/pkg/config"
	"github.com/tipbot-hq/settler/pkg/models"
	"github.com/tipbot-hq/settler/pkg/store"
	"github.com/tipbot-hq/settler/pkg/wallet"
)

// tokenDecimals is the base-unit scale of the reward token.
const tokenDecimals = 18

// toBaseUnits converts a whole-token decimal amount into base units.
func toBaseUnits(amount string) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %v", amount, err)
	}
	if d.Sign() <= 0 {
		return "", fmt.Errorf("amount must be greater than 0, got %s", amount)
	}
	return d.Shift(tokenDecimals).Truncate(0).BigInt().String(), nil
}

// SignupReward is a one-time reward issued when a user joins.
type SignupReward struct {
	EventID       string
	UserID        string
	WalletAddress string
	Handle        string
	DisplayName   string
	Amount        string
	Message       string
	ChainID       int
	TokenAddress  string
}

func (i SignupReward) Kind() models.Kind { return models.KindReward }

func (i SignupReward) Key() store.Key {
	return store.Key{EventID: i.EventID, RecipientID: i.UserID}
}

func (i SignupReward) Snapshot() models.Snapshot {
	return models.Snapshot{
		RecipientID:   i.UserID,
		WalletAddress: i.WalletAddress,
		Handle:        i.Handle,
		DisplayName:   i.DisplayName,
		Amount:        i.Amount,
		Message:       i.Message,
		TokenAddress:  i.TokenAddress,
		ChainID:       i.ChainID,
	}
}

func (i SignupReward) SubmitParams(route config.Route) (wallet.SubmitParams, error) {
	value, err := toBaseUnits(i.Amount)
	if err != nil {
		return wallet.SubmitParams{}, err
	}
	return wallet.SubmitParams{
		ChainID: route.ChainID,
		To:      []string{i.WalletAddress},
		Value:   []string{value},
	}, nil
}

// ReferralReward pays the user whose earlier transfer brought a new user in.
// One instance covers one qualifying parent transfer.
type ReferralReward struct {
	EventID       string
	ReferrerID    string
	ParentHash    string
	WalletAddress string
	Handle        string
	DisplayName   string
	Amount        string
	ChainID       int
	TokenAddress  string
}

func (i ReferralReward) Kind() models.Kind { return models.KindReferral }

func (i ReferralReward) Key() store.Key {
	return store.Key{
		EventID:     i.EventID,
		RecipientID: i.ReferrerID,
		ParentHash:  i.ParentHash,
	}
}

func (i ReferralReward) Snapshot() models.Snapshot {
	return models.Snapshot{
		RecipientID:   i.ReferrerID,
		ParentHash:    i.ParentHash,
		WalletAddress: i.WalletAddress,
		Handle:        i.Handle,
		DisplayName:   i.DisplayName,
		Amount:        i.Amount,
		TokenAddress:  i.TokenAddress,
		ChainID:       i.ChainID,
	}
}

func (i ReferralReward) SubmitParams(route config.Route) (wallet.SubmitParams, error) {
	value, err := toBaseUnits(i.Amount)
	if err != nil {
		return wallet.SubmitParams{}, err
	}
	return wallet.SubmitParams{
		ChainID: route.ChainID,
		To:      []string{i.WalletAddress},
		Value:   []string{value},
	}, nil
}

// LinkReward pays a user for sharing their referral link.
type LinkReward struct {
	EventID       string
	UserID        string
	WalletAddress string
	Handle        string
	DisplayName   string
	Amount        string
	ChainID       int
	TokenAddress  string
}

func (i LinkReward) Kind() models.Kind { return models.KindLink }

func (i LinkReward) Key() store.Key {
	return store.Key{EventID: i.EventID, RecipientID: i.UserID}
}

func (i LinkReward) Snapshot() models.Snapshot {
	return models.Snapshot{
		RecipientID:   i.UserID,
		WalletAddress: i.WalletAddress,
		Handle:        i.Handle,
		DisplayName:   i.DisplayName,
		Amount:        i.Amount,
		TokenAddress:  i.TokenAddress,
		ChainID:       i.ChainID,
	}
}

func (i LinkReward) SubmitParams(route config.Route) (wallet.SubmitParams, error) {
	value, err := toBaseUnits(i.Amount)
	if err != nil {
		return wallet.SubmitParams{}, err
	}
	return wallet.SubmitParams{
		ChainID: route.ChainID,
		To:      []string{i.WalletAddress},
		Value:   []string{value},
	}, nil
}

// VestingGrant distributes one tranche of a vesting schedule to a single
// recipient wallet. A vesting intent with multiple recipients fans out into
// one grant per wallet.
type VestingGrant struct {
	EventID       string
	SenderID      string
	WalletAddress string
	Amount        string
	ChainID       int
	TokenAddress  string
}

func (i VestingGrant) Kind() models.Kind { return models.KindVesting }

func (i VestingGrant) Key() store.Key {
	return store.Key{EventID: i.EventID, WalletAddress: i.WalletAddress}
}

func (i VestingGrant) Snapshot() models.Snapshot {
	return models.Snapshot{
		SenderID:      i.SenderID,
		WalletAddress: i.WalletAddress,
		Amount:        i.Amount,
		TokenAddress:  i.TokenAddress,
		ChainID:       i.ChainID,
	}
}

func (i VestingGrant) SubmitParams(route config.Route) (wallet.SubmitParams, error) {
	value, err := toBaseUnits(i.Amount)
	if err != nil {
		return wallet.SubmitParams{}, err
	}
	return wallet.SubmitParams{
		SenderID: i.SenderID,
		ChainID:  route.ChainID,
		To:       []string{i.WalletAddress},
		Value:    []string{value},
	}, nil
}

// Swap executes a token swap through the provider, routed as a delegate
// call against the target contract. The call data is prepared by the intent
// handler; this core only carries it.
type Swap struct {
	EventID       string
	UserID        string
	WalletAddress string
	TargetAddress string
	CallData      []string
	Values        []string
	Amount        string
	ChainID       int
	TokenAddress  string
}

func (i Swap) Kind() models.Kind { return models.KindSwap }

func (i Swap) Key() store.Key {
	return store.Key{EventID: i.EventID, SenderID: i.UserID}
}

func (i Swap) Snapshot() models.Snapshot {
	return models.Snapshot{
		SenderID:      i.UserID,
		WalletAddress: i.WalletAddress,
		Amount:        i.Amount,
		TokenAddress:  i.TokenAddress,
		ChainID:       i.ChainID,
	}
}

func (i Swap) SubmitParams(route config.Route) (wallet.SubmitParams, error) {
	if i.TargetAddress == "" {
		return wallet.SubmitParams{}, fmt.Errorf("swap requires a target address")
	}
	if len(i.CallData) == 0 {
		return wallet.SubmitParams{}, fmt.Errorf("swap requires call data")
	}
	values := i.Values
	if len(values) == 0 {
		values = make([]string, len(i.CallData))
		for n := range values {
			values[n] = "0"
		}
	}
	if len(values) != len(i.CallData) {
		return wallet.SubmitParams{}, fmt.Errorf("swap requires one value per call, got %d/%d", len(values), len(i.CallData))
	}
	// The provider expects parallel to/value/data vectors, so multi-step
	// swaps repeat the target once per call.
	to := make([]string, len(i.CallData))
	for n := range to {
		to[n] = i.TargetAddress
	}
	return wallet.SubmitParams{
		SenderID:     i.UserID,
		ChainID:      route.ChainID,
		To:           to,
		Value:        values,
		Data:         i.CallData,
		DelegateCall: true,
	}, nil
}

// Transfer is a plain user-to-user value transfer.
type Transfer struct {
	EventID         string
	SenderID        string
	RecipientID     string
	RecipientWallet string
	Handle          string
	DisplayName     string
	Amount          string
	Message         string
	ChainID         int
	TokenAddress    string
}

func (i Transfer) Kind() models.Kind { return models.KindTransfer }

func (i Transfer) Key() store.Key {
	return store.Key{
		EventID:     i.EventID,
		SenderID:    i.SenderID,
		RecipientID: i.RecipientID,
	}
}

func (i Transfer) Snapshot() models.Snapshot {
	return models.Snapshot{
		SenderID:      i.SenderID,
		RecipientID:   i.RecipientID,
		WalletAddress: i.RecipientWallet,
		Handle:        i.Handle,
		DisplayName:   i.DisplayName,
		Amount:        i.Amount,
		Message:       i.Message,
		TokenAddress:  i.TokenAddress,
		ChainID:       i.ChainID,
	}
}

func (i Transfer) SubmitParams(route config.Route) (wallet.SubmitParams, error) {
	value, err := toBaseUnits(i.Amount)
	if err != nil {
		return wallet.SubmitParams{}, err
	}
	return wallet.SubmitParams{
		SenderID: i.SenderID,
		ChainID:  route.ChainID,
		To:       []string{i.RecipientWallet},
		Value:    []string{value},
	}, nil
}
