package wife

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBackpackSize = 7

	recordsKey = "records"
	tradesKey  = "swap_requests"
	togglesKey = "ntr_status"

	dayLayout = "2006-01-02"
)

var (
	ErrNoTodayEntity    = errors.New("no entity drawn today")
	ErrImageUnavailable = errors.New("image source unavailable")
	ErrRaceLost         = errors.New("entity changed concurrently")
	ErrTradeStale       = errors.New("trade no longer valid")
	ErrSelfTarget       = errors.New("cannot target yourself")
	ErrNoTarget         = errors.New("target is required")
	ErrContestDisabled  = errors.New("contest is disabled in this group")
	ErrBackpackFull     = errors.New("backpack is full")
	ErrTargetEmpty      = errors.New("target has no entity today")
	ErrTargetSlotEmpty  = errors.New("target slot is empty")
	ErrOwnSlotEmpty     = errors.New("own slot is empty")
	ErrTradePending     = errors.New("trade request already pending today")
	ErrNoTradeRequest   = errors.New("no matching trade request")
	ErrNoMatch          = errors.New("no image matches keyword")
	ErrQuotaExceeded    = errors.New("daily quota exceeded")
	ErrSlotOutOfRange   = errors.New("slot out of range")
	ErrUnknownKind      = errors.New("unknown counter kind")
)

// QuotaError reports which daily limit was hit. It matches ErrQuotaExceeded.
type QuotaError struct {
	Kind  Kind
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %s limit %d", ErrQuotaExceeded, e.Kind, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// Kind names one daily usage counter. The values are the keys of the
// persisted records document.
type Kind string

const (
	KindContest Kind = "ntr"
	KindReroll  Kind = "change"
	KindReset   Kind = "reset"
	KindTrade   Kind = "swap"
)

var Kinds = []Kind{KindContest, KindReroll, KindReset, KindTrade}

func (k Kind) Valid() bool {
	switch k {
	case KindContest, KindReroll, KindReset, KindTrade:
		return true
	default:
		return false
	}
}

var dayZone = time.FixedZone("UTC+8", 8*60*60)

// Day returns the calendar day of t at UTC+8.
func Day(t time.Time) string {
	return t.In(dayZone).Format(dayLayout)
}

// Config carries the tunables of a Service.
type Config struct {
	BackpackSize  int
	ContestMax    int
	ContestChance float64
	RerollMax     int
	TradeMax      int
	ResetMax      int
	ResetChance   float64
	ResetMute     time.Duration
	FetchTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BackpackSize:  DefaultBackpackSize,
		ContestMax:    3,
		ContestChance: 0.2,
		RerollMax:     3,
		TradeMax:      3,
		ResetMax:      1,
		ResetChance:   0.5,
		ResetMute:     5 * time.Minute,
		FetchTimeout:  10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.BackpackSize < 1 {
		return fmt.Errorf("backpack size must be >= 1")
	}
	for name, v := range map[string]float64{"contest chance": c.ContestChance, "reset chance": c.ResetChance} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1]", name)
		}
	}
	for name, v := range map[string]int{"contest max": c.ContestMax, "reroll max": c.RerollMax, "trade max": c.TradeMax, "reset max": c.ResetMax} {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if c.ResetMute < 0 || c.FetchTimeout < 0 {
		return fmt.Errorf("durations must be >= 0")
	}
	return nil
}

// Limit returns the daily quota configured for kind.
func (c Config) Limit(kind Kind) int {
	switch kind {
	case KindContest:
		return c.ContestMax
	case KindReroll:
		return c.RerollMax
	case KindReset:
		return c.ResetMax
	case KindTrade:
		return c.TradeMax
	default:
		return 0
	}
}

const groupKeyPrefix = "group_"

// groupKey names the document of gid. Ids that are shared document names or
// already carry the prefix are prefixed, so the mapping stays one-to-one.
func groupKey(gid string) string {
	switch {
	case gid == recordsKey, gid == tradesKey, gid == togglesKey, strings.HasPrefix(gid, groupKeyPrefix):
		return groupKeyPrefix + gid
	default:
		return gid
	}
}
