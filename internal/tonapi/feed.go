package tonapi

import (
	"context"
	"time"
)

// NativeTransfer is a TON transfer inside a transaction
type NativeTransfer struct {
	From   string // raw
	To     string // raw
	Amount int64  // nanoTON
}

// Transaction groups the native transfers of one event
type Transaction struct {
	Signature string
	Timestamp time.Time
	Transfers []NativeTransfer
}

// EventSource lists recent events of an account
type EventSource interface {
	GetEvents(ctx context.Context, address string, limit int) ([]Event, error)
}

// Feed turns account events into native transfers.
//
// No cursor is kept: every call re-reads the newest limit events and relies on
// signature dedup downstream. More than limit events for the address between two
// polls means the older ones are never seen.
type Feed struct {
	events EventSource
}

func NewFeed(events EventSource) *Feed {
	return &Feed{events: events}
}

// FetchRecentTransfers returns the latest completed transactions of address.
// Failed actions and events still in progress are left out.
func (f *Feed) FetchRecentTransfers(ctx context.Context, address string, limit int) ([]Transaction, error) {
	events, err := f.events.GetEvents(ctx, address, limit)
	if err != nil {
		return nil, err
	}

	txs := make([]Transaction, 0, len(events))
	for _, ev := range events {
		if ev.EventID == "" || ev.InProgress {
			continue
		}

		tx := Transaction{
			Signature: ev.EventID,
			Timestamp: time.Unix(ev.Timestamp, 0).UTC(),
		}
		for _, action := range ev.Actions {
			if action.Type != "TonTransfer" || action.TonTransfer == nil || action.Status != "ok" {
				continue
			}
			tt := action.TonTransfer
			tx.Transfers = append(tx.Transfers, NativeTransfer{
				From:   NormalizeAddress(tt.Sender.Address),
				To:     NormalizeAddress(tt.Recipient.Address),
				Amount: tt.Amount,
			})
		}
		txs = append(txs, tx)
	}

	return txs, nil
}
