package disburser

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/tonkeeper/tonapi-go"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
)

const (
	jettonTransferOp = 0x0f8a7ea5

	// attached to the jetton wallet call to pay for the transfer chain
	transferFee = 50_000_000
	forwardFee  = 1

	defaultConfirmTimeout = 60 * time.Second
)

var WalletMap = map[string]int{
	"V1R1":         0,
	"V1R2":         1,
	"V1R3":         2,
	"V2R1":         3,
	"V2R2":         4,
	"V3R1":         5,
	"V3R2":         6,
	"V3R2Lockup":   7,
	"V4R1":         8,
	"V4R2":         9,
	"V5Beta":       10,
	"V5R1":         11,
	"HighLoadV1R1": 12,
	"HighLoadV1R2": 13,
	"HighLoadV2":   14,
	"HighLoadV2R1": 15,
	"HighLoadV2R2": 16,
}

var ErrInsufficientBalance = errors.New("insufficient jetton balance")

// TonBackend pays jetton rewards from a mnemonic-derived wallet
type TonBackend struct {
	api  *tonapi.Client
	lite *liteapi.Client

	mu      sync.Mutex
	wallets map[string]*wallet.Wallet
}

func NewTonBackend(api *tonapi.Client, lite *liteapi.Client) *TonBackend {
	return &TonBackend{
		api:     api,
		lite:    lite,
		wallets: make(map[string]*wallet.Wallet),
	}
}

// Decimals reads the jetton metadata of master
func (b *TonBackend) Decimals(ctx context.Context, master string) (int32, error) {
	info, err := b.api.GetJettonInfo(ctx, tonapi.GetJettonInfoParams{AccountID: master})
	if err != nil {
		return 0, err
	}

	raw := info.Metadata.Decimals
	if raw == "" {
		return 9, nil
	}
	dec, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("jetton decimals %q: %w", raw, err)
	}
	return int32(dec), nil
}

// Transfer sends a jetton transfer from the funding wallet and waits until
// the outgoing message is accepted. The returned signature is the hex hash
// of the external message.
func (b *TonBackend) Transfer(ctx context.Context, funding Funding, destination string, units *big.Int) (string, error) {
	if !units.IsUint64() {
		return "", fmt.Errorf("amount %s overflows jetton coins", units)
	}

	w, err := b.wallet(funding)
	if err != nil {
		return "", err
	}

	dest, err := ton.ParseAccountID(destination)
	if err != nil {
		return "", fmt.Errorf("destination: %w", err)
	}

	owner := w.GetAddress()
	balance, err := b.api.GetAccountJettonBalance(ctx, tonapi.GetAccountJettonBalanceParams{
		AccountID: owner.ToRaw(),
		JettonID:  funding.TokenMaster,
	})
	if err != nil {
		return "", fmt.Errorf("jetton balance: %w", err)
	}

	available, ok := new(big.Int).SetString(balance.Balance, 10)
	if !ok {
		return "", fmt.Errorf("jetton balance %q", balance.Balance)
	}
	if available.Cmp(units) < 0 {
		return "", fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, available, units)
	}

	jettonWallet, err := ton.ParseAccountID(balance.WalletAddress.Address)
	if err != nil {
		return "", fmt.Errorf("jetton wallet: %w", err)
	}

	body, err := jettonTransferBody(uint64(time.Now().UnixNano()), units.Uint64(), dest, owner)
	if err != nil {
		return "", fmt.Errorf("build body: %w", err)
	}

	message := wallet.Message{
		Amount:  transferFee,
		Address: jettonWallet,
		Bounce:  true,
		Mode:    wallet.DefaultMessageMode,
		Body:    body,
	}

	hash, err := w.SendV2(ctx, confirmTimeout(ctx), message)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(hash[:]), nil
}

func (b *TonBackend) wallet(funding Funding) (*wallet.Wallet, error) {
	key := funding.Version + "|" + funding.Mnemonic

	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.wallets[key]; ok {
		return w, nil
	}

	version, ok := WalletMap[funding.Version]
	if !ok {
		return nil, fmt.Errorf("unknown wallet version %q", funding.Version)
	}

	pk, err := wallet.SeedToPrivateKey(funding.Mnemonic)
	if err != nil {
		return nil, fmt.Errorf("mnemonic: %w", err)
	}

	w, err := wallet.New(pk, wallet.Version(version), b.lite)
	if err != nil {
		return nil, err
	}

	b.wallets[key] = &w
	return &w, nil
}

// jettonTransferBody builds a TEP-74 transfer with no custom or forward payload
func jettonTransferBody(queryID, amount uint64, dest, responseTo ton.AccountID) (*boc.Cell, error) {
	cell := boc.NewCell()

	if err := cell.WriteUint(jettonTransferOp, 32); err != nil {
		return nil, err
	}
	if err := cell.WriteUint(queryID, 64); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, tlb.Grams(amount)); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, dest.ToMsgAddress()); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, responseTo.ToMsgAddress()); err != nil {
		return nil, err
	}
	// custom_payload: none
	if err := cell.WriteBit(false); err != nil {
		return nil, err
	}
	if err := tlb.Marshal(cell, tlb.Grams(forwardFee)); err != nil {
		return nil, err
	}
	// forward_payload: inline, empty
	if err := cell.WriteBit(false); err != nil {
		return nil, err
	}

	return cell, nil
}

func confirmTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
	}
	return defaultConfirmTimeout
}
