/*
rebuild.go - Balance index recovery

PURPOSE:
  Replays the transaction log into balances. Used at startup when the
  index is volatile or rebuild_on_start is set, and by the audit to
  compute the expected balance of a key.

SEE ALSO:
  - audit.go: compares the replay with the stored index
  - app/services.go: Prepare
*/
package ledger

import (
	"context"

	"github.com/pkg/errors"

	"github.com/warp/cashdesk/cash"
)

// Replay folds records into one balance per key. Records must arrive in log
// order.
func Replay(records []cash.TransactionRecord) map[cash.Key]cash.Balance {
	out := make(map[cash.Key]cash.Balance)
	for _, r := range records {
		b, ok := out[r.Key()]
		if !ok {
			b = cash.ZeroBalance(r.Currency)
		}
		out[r.Key()] = b.Apply(r)
	}
	return out
}

// Rebuild recomputes the balance index from the log and overwrites every
// key in balances. Keys present in the index but absent from the log are
// reset to zero. It returns the number of keys written.
//
// Rebuild must not run concurrently with Engine.Apply; call it before the
// engine starts serving.
func Rebuild(ctx context.Context, log cash.TransactionLog, balances cash.BalanceStore) (int, error) {
	// read the whole log before writing: single-connection stores can't
	// hold a cursor open across writes
	records, err := cash.Collect(log.Records(ctx, cash.Filter{}))
	if err != nil {
		return 0, errors.Wrap(err, "read transaction log")
	}
	replayed := Replay(records)

	existing, err := balances.Keys(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list balance keys")
	}
	for _, k := range existing {
		if _, ok := replayed[k]; !ok {
			replayed[k] = cash.ZeroBalance(k.Currency)
		}
	}

	for k, b := range replayed {
		if err := b.Check(); err != nil {
			return 0, &cash.InconsistencyError{Key: k, Reason: "replayed balance: " + err.Error()}
		}
		if err := balances.Put(ctx, k, b); err != nil {
			return 0, errors.Wrapf(err, "write balance %s", k)
		}
	}
	return len(replayed), nil
}
