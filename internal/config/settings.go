package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/tonkeeper/tongo/ton"
)

var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid value")
)

// Setting keys as they appear in the settings file.
const (
	KeyMonitoredWallet     = "monitored_wallet"
	KeyMinDeposit          = "min_deposit"
	KeyRate                = "rate"
	KeyPresaleStart        = "presale_start"
	KeyPresaleEnd          = "presale_end"
	KeyContestStart        = "contest_start"
	KeyContestEnd          = "contest_end"
	KeyLoopSeconds         = "loop_seconds"
	KeyAdminIDs            = "admin_ids"
	KeyWalletMnemonic      = "wallet_mnemonic"
	KeyWalletVersion       = "wallet_version"
	KeyTokenMaster         = "token_master"
	KeyTokenSymbol         = "token_symbol"
	KeyGroupID             = "group_id"
	KeyProgressCap         = "progress_cap"
	KeyBigSpenderThreshold = "big_spender_threshold"
)

type kind int

const (
	kindString kind = iota
	kindAddress
	kindMnemonic
	kindDecimal
	kindTime
	kindInt
	kindIntList
)

var keyKinds = map[string]kind{
	KeyMonitoredWallet:     kindAddress,
	KeyMinDeposit:          kindDecimal,
	KeyRate:                kindDecimal,
	KeyPresaleStart:        kindTime,
	KeyPresaleEnd:          kindTime,
	KeyContestStart:        kindTime,
	KeyContestEnd:          kindTime,
	KeyLoopSeconds:         kindInt,
	KeyAdminIDs:            kindIntList,
	KeyWalletMnemonic:      kindMnemonic,
	KeyWalletVersion:       kindString,
	KeyTokenMaster:         kindAddress,
	KeyTokenSymbol:         kindString,
	KeyGroupID:             kindInt,
	KeyProgressCap:         kindDecimal,
	KeyBigSpenderThreshold: kindDecimal,
}

// Keys lists every editable setting in display order.
var Keys = []string{
	KeyMonitoredWallet,
	KeyMinDeposit,
	KeyRate,
	KeyPresaleStart,
	KeyPresaleEnd,
	KeyContestStart,
	KeyContestEnd,
	KeyLoopSeconds,
	KeyAdminIDs,
	KeyWalletMnemonic,
	KeyWalletVersion,
	KeyTokenMaster,
	KeyTokenSymbol,
	KeyGroupID,
	KeyProgressCap,
	KeyBigSpenderThreshold,
}

// Settings is an immutable snapshot of the runtime settings.
type Settings struct {
	MonitoredWallet     string // raw 0:... form
	MinDeposit          decimal.Decimal
	Rate                decimal.Decimal
	PresaleStart        time.Time
	PresaleEnd          time.Time
	ContestStart        time.Time
	ContestEnd          time.Time
	LoopInterval        time.Duration
	AdminIDs            []int64
	WalletMnemonic      string
	WalletVersion       string
	TokenMaster         string
	TokenSymbol         string
	GroupID             int64
	ProgressCap         decimal.Decimal
	BigSpenderThreshold decimal.Decimal
}

func (s Settings) IsAdmin(chatID int64) bool {
	return slices.Contains(s.AdminIDs, chatID)
}

// PresaleOpen reports whether t falls in [PresaleStart, PresaleEnd).
// A zero PresaleEnd means the sale has no end.
func (s Settings) PresaleOpen(t time.Time) bool {
	if t.Before(s.PresaleStart) {
		return false
	}
	return s.PresaleEnd.IsZero() || t.Before(s.PresaleEnd)
}

// ContestActive reports whether t falls in [ContestStart, ContestEnd].
func (s Settings) ContestActive(t time.Time) bool {
	if s.ContestStart.IsZero() || s.ContestEnd.IsZero() {
		return false
	}
	return !t.Before(s.ContestStart) && !t.After(s.ContestEnd)
}

// Store owns the settings file. Snapshot is safe for concurrent use with Set and Reload.
type Store struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	current Settings
}

// NewStore opens the settings file at path, creating it with defaults when missing.
func NewStore(path string, log *slog.Logger) (*Store, error) {
	s := &Store{path: path, log: log}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		v := newViper(path)
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("write default settings: %w", err)
		}
		log.Info("settings file created", "path", path)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current settings. The returned value is never mutated.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the settings file. On error the previous snapshot is kept.
func (s *Store) Reload() error {
	v := newViper(s.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	next, err := decode(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.log.Info("settings reloaded", "path", s.path)
	return nil
}

// Set validates raw, writes it to the settings file and reloads.
func (s *Store) Set(key, raw string) error {
	return s.SetAll(map[string]string{key: raw})
}

// SetAll validates every value first and writes them in one go.
// Nothing is written if any value is rejected.
func (s *Store) SetAll(values map[string]string) error {
	parsed := make(map[string]any, len(values))
	for key, raw := range values {
		key = strings.ToLower(strings.TrimSpace(key))
		k, ok := keyKinds[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}

		val, err := parseValue(k, strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%w for %s: %v", ErrInvalidValue, key, err)
		}
		parsed[key] = val
	}

	s.mu.Lock()
	v := newViper(s.path)
	if err := v.ReadInConfig(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("read settings: %w", err)
	}
	for key, val := range parsed {
		v.Set(key, val)
	}
	err := v.WriteConfigAs(s.path)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	for key := range parsed {
		s.log.Info("setting updated", "key", key)
	}
	return s.Reload()
}

// Public renders the settings for display with secrets redacted.
func (s *Store) Public() []string {
	snap := s.Snapshot()
	lines := make([]string, 0, len(Keys))
	for _, key := range Keys {
		lines = append(lines, key+" = "+snap.display(key))
	}
	return lines
}

func (s Settings) display(key string) string {
	switch key {
	case KeyMonitoredWallet:
		return s.MonitoredWallet
	case KeyMinDeposit:
		return s.MinDeposit.String()
	case KeyRate:
		return s.Rate.String()
	case KeyPresaleStart:
		return formatTime(s.PresaleStart)
	case KeyPresaleEnd:
		return formatTime(s.PresaleEnd)
	case KeyContestStart:
		return formatTime(s.ContestStart)
	case KeyContestEnd:
		return formatTime(s.ContestEnd)
	case KeyLoopSeconds:
		return strconv.Itoa(int(s.LoopInterval / time.Second))
	case KeyAdminIDs:
		ids := make([]string, len(s.AdminIDs))
		for i, id := range s.AdminIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		return strings.Join(ids, ",")
	case KeyWalletMnemonic:
		if s.WalletMnemonic == "" {
			return "(not set)"
		}
		return "(set)"
	case KeyWalletVersion:
		return s.WalletVersion
	case KeyTokenMaster:
		return s.TokenMaster
	case KeyTokenSymbol:
		return s.TokenSymbol
	case KeyGroupID:
		return strconv.FormatInt(s.GroupID, 10)
	case KeyProgressCap:
		return s.ProgressCap.String()
	case KeyBigSpenderThreshold:
		return s.BigSpenderThreshold.String()
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "(not set)"
	}
	return fmt.Sprintf("%d (%s)", t.Unix(), t.UTC().Format("02/01/2006 15:04"))
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault(KeyMonitoredWallet, "")
	v.SetDefault(KeyMinDeposit, "0.1")
	v.SetDefault(KeyRate, "0")
	v.SetDefault(KeyPresaleStart, 0)
	v.SetDefault(KeyPresaleEnd, 0)
	v.SetDefault(KeyContestStart, 0)
	v.SetDefault(KeyContestEnd, 0)
	v.SetDefault(KeyLoopSeconds, 120)
	v.SetDefault(KeyAdminIDs, []int{})
	v.SetDefault(KeyWalletMnemonic, "")
	v.SetDefault(KeyWalletVersion, "V4R2")
	v.SetDefault(KeyTokenMaster, "")
	v.SetDefault(KeyTokenSymbol, "TOKEN")
	v.SetDefault(KeyGroupID, 0)
	v.SetDefault(KeyProgressCap, "100")
	v.SetDefault(KeyBigSpenderThreshold, "1")
	return v
}

func decode(v *viper.Viper) (Settings, error) {
	var s Settings
	var err error

	decimals := map[string]*decimal.Decimal{
		KeyMinDeposit:          &s.MinDeposit,
		KeyRate:                &s.Rate,
		KeyProgressCap:         &s.ProgressCap,
		KeyBigSpenderThreshold: &s.BigSpenderThreshold,
	}
	for key, dst := range decimals {
		if *dst, err = decimal.NewFromString(v.GetString(key)); err != nil {
			return Settings{}, fmt.Errorf("%w for %s: %v", ErrInvalidValue, key, err)
		}
	}

	if addr := v.GetString(KeyMonitoredWallet); addr != "" {
		if s.MonitoredWallet, err = normalizeAddress(addr); err != nil {
			return Settings{}, fmt.Errorf("%w for %s: %v", ErrInvalidValue, KeyMonitoredWallet, err)
		}
	}
	if addr := v.GetString(KeyTokenMaster); addr != "" {
		if s.TokenMaster, err = normalizeAddress(addr); err != nil {
			return Settings{}, fmt.Errorf("%w for %s: %v", ErrInvalidValue, KeyTokenMaster, err)
		}
	}

	s.PresaleStart = unixTime(v.GetInt64(KeyPresaleStart))
	s.PresaleEnd = unixTime(v.GetInt64(KeyPresaleEnd))
	s.ContestStart = unixTime(v.GetInt64(KeyContestStart))
	s.ContestEnd = unixTime(v.GetInt64(KeyContestEnd))

	loop := v.GetInt(KeyLoopSeconds)
	if loop <= 0 {
		loop = 120
	}
	s.LoopInterval = time.Duration(loop) * time.Second

	for _, id := range v.GetIntSlice(KeyAdminIDs) {
		s.AdminIDs = append(s.AdminIDs, int64(id))
	}

	s.WalletMnemonic = strings.TrimSpace(v.GetString(KeyWalletMnemonic))
	s.WalletVersion = v.GetString(KeyWalletVersion)
	s.TokenSymbol = v.GetString(KeyTokenSymbol)
	s.GroupID = v.GetInt64(KeyGroupID)

	return s, nil
}

func parseValue(k kind, raw string) (any, error) {
	switch k {
	case kindString:
		if raw == "" {
			return nil, errors.New("empty")
		}
		return raw, nil
	case kindAddress:
		return normalizeAddress(raw)
	case kindMnemonic:
		words := strings.Fields(raw)
		if len(words) != 0 && len(words) != 24 {
			return nil, fmt.Errorf("expected 24 words, got %d", len(words))
		}
		return strings.Join(words, " "), nil
	case kindDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		if d.IsNegative() {
			return nil, errors.New("must not be negative")
		}
		return d.String(), nil
	case kindTime:
		t, err := ParseDate(raw)
		if err != nil {
			return nil, err
		}
		return t.Unix(), nil
	case kindInt:
		return strconv.ParseInt(raw, 10, 64)
	case kindIntList:
		var ids []int64
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, errors.New("unsupported kind")
}

// ParseDate accepts DD/MM/YYYY (UTC midnight) or unix seconds.
func ParseDate(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.ParseInLocation("02/01/2006", raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("use DD/MM/YYYY or unix seconds: %w", err)
	}
	return t, nil
}

func normalizeAddress(addr string) (string, error) {
	acc, err := ton.ParseAccountID(addr)
	if err != nil {
		return "", err
	}
	return acc.ToRaw(), nil
}

func unixTime(secs int64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
