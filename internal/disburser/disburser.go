package disburser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/ton-airdrop/internal/storage"
)

var (
	// ErrNoWalletConfigured means no funding credential is set; nothing was sent.
	ErrNoWalletConfigured = errors.New("no wallet configured")
	ErrNoTokenConfigured  = errors.New("no token master configured")
	ErrZeroAmount         = errors.New("reward rounds to zero base units")
)

// Funding is the signing credential and token the rewards are paid from
type Funding struct {
	Mnemonic    string
	Version     string
	TokenMaster string
}

// Request describes one reward payment
type Request struct {
	Destination      string
	Amount           decimal.Decimal // token units, not base units
	DepositSignature string
	ChatID           int64
	Username         string
}

// Backend performs the on-chain side of a disbursement
type Backend interface {
	// Decimals returns the decimal precision declared by the token master.
	Decimals(ctx context.Context, tokenMaster string) (int32, error)
	// Transfer sends units base units to destination and waits for confirmation.
	Transfer(ctx context.Context, funding Funding, destination string, units *big.Int) (string, error)
}

// Ledger records confirmed transfers
type Ledger interface {
	InsertSentReward(r storage.SentReward) (bool, error)
}

// Disburser pays rewards and records them before reporting success
type Disburser struct {
	backend Backend
	ledger  Ledger
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	decimals map[string]int32
}

func New(backend Backend, ledger Ledger, log *slog.Logger) *Disburser {
	return &Disburser{
		backend:  backend,
		ledger:   ledger,
		log:      log,
		now:      time.Now,
		decimals: make(map[string]int32),
	}
}

// Disburse transfers req.Amount tokens to req.Destination and returns the
// transfer signature. The SentReward row is written before returning; if that
// write fails after a confirmed transfer the signature is still returned so the
// caller does not pay twice.
func (d *Disburser) Disburse(ctx context.Context, funding Funding, req Request) (string, error) {
	if funding.Mnemonic == "" {
		return "", ErrNoWalletConfigured
	}
	if funding.TokenMaster == "" {
		return "", ErrNoTokenConfigured
	}

	units, err := d.baseUnits(ctx, funding.TokenMaster, req.Amount)
	if err != nil {
		return "", err
	}

	d.log.Info("sending reward",
		"destination", req.Destination,
		"amount", req.Amount.String(),
		"units", units.String(),
		"deposit", req.DepositSignature,
	)

	sig, err := d.backend.Transfer(ctx, funding, req.Destination, units)
	if err != nil {
		return "", fmt.Errorf("transfer: %w", err)
	}

	inserted, err := d.ledger.InsertSentReward(storage.SentReward{
		TransferSignature: sig,
		DepositSignature:  req.DepositSignature,
		Destination:       req.Destination,
		Amount:            req.Amount.String(),
		SentAt:            d.now(),
		ChatID:            req.ChatID,
		Username:          req.Username,
	})
	switch {
	case err != nil:
		d.log.Error("record sent reward failed after confirmed transfer",
			"error", err,
			"transfer", sig,
			"deposit", req.DepositSignature,
		)
	case !inserted:
		d.log.Warn("sent reward already recorded", "transfer", sig, "deposit", req.DepositSignature)
	default:
		d.log.Info("reward sent", "transfer", sig, "deposit", req.DepositSignature)
	}

	return sig, nil
}

// baseUnits converts a token amount to integer base units, rounding down
func (d *Disburser) baseUnits(ctx context.Context, master string, amount decimal.Decimal) (*big.Int, error) {
	dec, err := d.tokenDecimals(ctx, master)
	if err != nil {
		return nil, err
	}

	units := amount.Shift(dec).Floor().BigInt()
	if units.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	return units, nil
}

// tokenDecimals is fetched once per token master for the process lifetime
func (d *Disburser) tokenDecimals(ctx context.Context, master string) (int32, error) {
	d.mu.Lock()
	dec, ok := d.decimals[master]
	d.mu.Unlock()
	if ok {
		return dec, nil
	}

	dec, err := d.backend.Decimals(ctx, master)
	if err != nil {
		return 0, fmt.Errorf("token decimals: %w", err)
	}

	d.mu.Lock()
	d.decimals[master] = dec
	d.mu.Unlock()

	d.log.Info("token decimals resolved", "master", master, "decimals", dec)
	return dec, nil
}
