// Package wal implements cash.TransactionLog on a segmented write-ahead log.
//
// Every accepted record is written to the WAL in sync-disk mode and mirrored
// into an in-memory index that serves reads. On open the whole WAL is
// replayed into that index, so a restarted process sees every record that
// was acknowledged before the crash.
package wal

import (
	"context"
	"iter"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/warp/cashdesk/cash"
	"github.com/warp/cashdesk/cash/store"
)

const (
	defaultDir       = "./wal/transactions"
	segmentThreshold = 1000
	recordPrefix     = "tx_"
	dirPerm          = 0o755

	// segments must never be rotated away: the log is the source of truth
	maxSegments = 1 << 20
)

// Log persists transaction records in a gowal WAL.
type Log struct {
	mu    sync.Mutex // serializes WAL index allocation
	wal   *gowal.Wal
	index *store.Memory
}

type walRecord struct {
	ID            string        `msgpack:"id"`
	Seq           uint64        `msgpack:"seq"`
	AcceptedAt    int64         `msgpack:"accepted_at"`
	CashierID     string        `msgpack:"cashier_id"`
	Kind          string        `msgpack:"kind"`
	Currency      string        `msgpack:"currency"`
	Amount        string        `msgpack:"amount"`
	Denominations map[int]int64 `msgpack:"denominations"`
}

// Open creates or reopens the WAL under dir and replays it.
func Open(dir string) (*Log, error) {
	if dir == "" {
		dir = defaultDir
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	w, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "log_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init transaction WAL")
	}

	l := &Log{wal: w, index: store.NewMemory()}
	if err := l.replay(); err != nil {
		w.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) replay() error {
	ctx := context.Background()
	for msg := range l.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, recordPrefix) {
			continue
		}
		var wr walRecord
		if err := msgpack.Unmarshal(msg.Value, &wr); err != nil {
			return errors.Wrapf(err, "decode WAL record %s", msg.Key)
		}
		r, err := wr.toRecord()
		if err != nil {
			return err
		}
		if _, err := l.index.Append(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Append writes r to the WAL and returns once it is synced to disk.
func (l *Log) Append(ctx context.Context, r cash.TransactionRecord) (cash.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r.AcceptedAt = r.AcceptedAt.UTC()
	r.Seq = uint64(l.index.Len()) + 1

	payload, err := msgpack.Marshal(fromRecord(r))
	if err != nil {
		return r, errors.Wrap(err, "encode WAL record")
	}

	key := recordPrefix + r.CashierID + "_" + string(r.Currency)
	if err := l.wal.Write(l.wal.CurrentIndex()+1, key, payload); err != nil {
		return r, errors.Wrap(err, "write WAL record")
	}
	return l.index.Append(ctx, r)
}

// Records serves reads from the replayed in-memory index.
func (l *Log) Records(ctx context.Context, f cash.Filter) iter.Seq2[cash.TransactionRecord, error] {
	return l.index.Records(ctx, f)
}

// Close closes the underlying WAL.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wal.Close()
}

func fromRecord(r cash.TransactionRecord) walRecord {
	return walRecord{
		ID:            r.ID,
		Seq:           r.Seq,
		AcceptedAt:    r.AcceptedAt.UnixNano(),
		CashierID:     r.CashierID,
		Kind:          string(r.Kind),
		Currency:      string(r.Currency),
		Amount:        r.Amount.String(),
		Denominations: r.Denominations,
	}
}

func (wr walRecord) toRecord() (cash.TransactionRecord, error) {
	amount, err := decimal.NewFromString(wr.Amount)
	if err != nil {
		return cash.TransactionRecord{}, errors.Wrapf(err, "bad amount on WAL record %s", wr.ID)
	}
	return cash.TransactionRecord{
		ID:            wr.ID,
		Seq:           wr.Seq,
		AcceptedAt:    time.Unix(0, wr.AcceptedAt).UTC(),
		CashierID:     wr.CashierID,
		Kind:          cash.OperationKind(wr.Kind),
		Currency:      cash.Currency(wr.Currency),
		Amount:        amount,
		Denominations: cash.DenominationCount(wr.Denominations),
	}, nil
}
