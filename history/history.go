/*
history.go - End-of-day balance history

PURPOSE:
  Answers "what did this cashier hold at the end of each day in a range",
  in the caller's timezone. Snapshots are derived by replaying the log;
  nothing here writes.

SEMANTICS:
  - from/to are instants; both are mapped to calendar days in loc
  - a day's snapshot per currency = replay of every record with
    accepted_at < start of the next day in loc
  - currencies reported: every currency the cashier has ever used
  - a currency not yet used on some day reports zero for that day
  - a cashier with no records yields a report with no days

EXAMPLE (loc = Europe/Sofia, UTC+2 in winter):
  record at 2025-01-10T22:30Z is local 2025-01-11 00:30
  → counted from the 2025-01-11 snapshot on, not in 2025-01-10's
*/
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/cashdesk/cash"
)

const DefaultMaxDays = 366

// DailyBalanceSnapshot is the end-of-day state of every reported currency.
type DailyBalanceSnapshot struct {
	Date          cash.Date
	Totals        map[cash.Currency]decimal.Decimal
	Denominations map[cash.Currency]cash.DenominationCount
}

// Report is the result of one history query. Days are in ascending order.
type Report struct {
	CashierID string
	Location  *time.Location
	Days      []DailyBalanceSnapshot
}

// ByDate keys the snapshots by their "YYYY-MM-DD" date.
func (r Report) ByDate() map[string]DailyBalanceSnapshot {
	out := make(map[string]DailyBalanceSnapshot, len(r.Days))
	for _, d := range r.Days {
		out[d.Date.String()] = d
	}
	return out
}

// Service runs history queries against a transaction log.
type Service struct {
	log     cash.TransactionLog
	maxDays int
	logger  *zap.Logger
}

type Option func(*Service)

// WithMaxDays caps the number of days a single query may span.
func WithMaxDays(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDays = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(log cash.TransactionLog, opts ...Option) *Service {
	s := &Service{log: log, maxDays: DefaultMaxDays, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxDays returns the configured range cap.
func (s *Service) MaxDays() int { return s.maxDays }

// Query returns one snapshot per calendar day in [day(from), day(to)] in loc.
// A nil loc means UTC.
func (s *Service) Query(ctx context.Context, cashierID string, from, to time.Time, loc *time.Location) (Report, error) {
	if loc == nil {
		loc = time.UTC
	}
	report := Report{CashierID: cashierID, Location: loc}

	if from.After(to) {
		return report, fmt.Errorf("%w: from %s is after to %s", cash.ErrInvalidRange,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	first, last := cash.DateOf(from, loc), cash.DateOf(to, loc)
	if days := cash.DaysBetween(first, last); days > s.maxDays {
		return report, fmt.Errorf("%w: %d days requested, at most %d allowed", cash.ErrInvalidRange, days, s.maxDays)
	}

	byCurrency, err := s.load(ctx, cashierID)
	if err != nil {
		return report, err
	}
	if len(byCurrency) == 0 {
		return report, nil
	}

	currencies := make([]cash.Currency, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Slice(currencies, func(i, j int) bool { return currencies[i] < currencies[j] })

	running := make(map[cash.Currency]cash.Balance, len(currencies))
	next := make(map[cash.Currency]int, len(currencies))
	for _, c := range currencies {
		running[c] = cash.ZeroBalance(c)
	}

	for day := first; !day.After(last); day = day.Next() {
		end := day.End(loc)
		snap := DailyBalanceSnapshot{
			Date:          day,
			Totals:        make(map[cash.Currency]decimal.Decimal, len(currencies)),
			Denominations: make(map[cash.Currency]cash.DenominationCount, len(currencies)),
		}
		for _, c := range currencies {
			recs := byCurrency[c]
			b := running[c]
			i := next[c]
			for ; i < len(recs) && recs[i].AcceptedAt.Before(end); i++ {
				b = b.Apply(recs[i])
			}
			running[c], next[c] = b, i

			snap.Totals[c] = b.Total
			snap.Denominations[c] = b.Denominations.Clone()
		}
		report.Days = append(report.Days, snap)
	}

	s.logger.Debug("history computed",
		zap.String("cashier_id", cashierID),
		zap.String("zone", loc.String()),
		zap.Int("days", len(report.Days)),
		zap.Int("currencies", len(currencies)),
	)
	return report, nil
}

// load reads every record of the cashier grouped by currency in log order.
// Records after the range still count: they put their currency in the report.
func (s *Service) load(ctx context.Context, cashierID string) (map[cash.Currency][]cash.TransactionRecord, error) {
	out := make(map[cash.Currency][]cash.TransactionRecord)
	for r, err := range s.log.Records(ctx, cash.Filter{CashierID: cashierID}) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: read log: %w", cash.ErrStorageUnavailable, err)
		}
		out[r.Currency] = append(out[r.Currency], r)
	}
	return out, nil
}
