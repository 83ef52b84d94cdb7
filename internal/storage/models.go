package storage

import "time"

// TrackedUser links a chat to the wallet it deposits from
type TrackedUser struct {
	ChatID    int64
	Username  string
	Wallet    string // raw 0:... format
	CreatedAt time.Time
}

// Deposit is a qualifying incoming payment to the monitored wallet
type Deposit struct {
	Signature  string
	Source     string // raw 0:... format
	AmountNano int64
	ObservedAt time.Time
	Processed  bool
}

// SentReward records a confirmed reward transfer
type SentReward struct {
	TransferSignature string
	DepositSignature  string
	Destination       string
	Amount            string // decimal token quantity
	SentAt            time.Time
	ChatID            int64
	Username          string
}

// ContestParticipant is a user who joined the spending contest
type ContestParticipant struct {
	ID         int64
	ChatID     int64
	Username   string
	Wallet     string
	TotalSpent string // decimal TON
	Rank       int
	JoinedAt   time.Time
}

// TraceStep is one lifecycle record of a deposit
type TraceStep struct {
	Signature string
	Step      string
	Detail    string
	At        time.Time
}
