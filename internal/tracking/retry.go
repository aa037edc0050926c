package tracking

import (
	"context"
	"errors"
)

// inTx runs fn in a transaction and retries the whole unit when a version
// check fails. Each attempt starts from fresh reads.
func (d *deps) inTx(ctx context.Context, op string, fn func(r Repos) error) error {
	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err = d.store.RunInTx(ctx, fn)
		if !errors.Is(err, ErrStale) {
			return err
		}
		d.log.Warn().Str("op", op).Int("attempt", attempt).Msg("concurrent update, retrying")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return conflictf("%s: gave up after %d attempts (%v)", op, d.opts.MaxAttempts, err)
}

func isStale(err error) bool {
	return errors.Is(err, ErrStale)
}
