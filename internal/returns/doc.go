// Package returns computes normalized daily returns and their compounded
// cumulative series for every symbol of a daily close table.
//
// # Pipeline
//
// For each symbol the pipeline runs four steps on a single goroutine:
//
//  1. EffectiveDates: every calendar day in (first observation, last observation]
//  2. Matcher: two independent asof lookups per day, one for the day itself
//     (end price) and one for the day before (start price), each accepting the
//     latest observation at or before the target that is at most ToleranceDays old
//  3. NormReturn: 1 + (end - start) / start when both prices are present
//  4. Compound: running product of the returns in ascending date order
//
// Symbols are independent partitions and are processed by a bounded worker pool.
// Results are merged only after every worker has returned.
//
// # Missing data
//
// A tolerance miss is not an error. It yields an absent price, which in turn
// yields an absent return. The cumulative series treats an absent return as a
// multiplier of 1.0 and carries the previous value forward, so a long halt
// shows up as a flat stretch rather than a gap.
//
// # Usage
//
//	store, err := returns.NewStore(points)
//	if err != nil {
//	    return err // ErrInvalidPrice, ErrDuplicatePrice
//	}
//	p, err := returns.NewPipeline(store, returns.DefaultConfig(), logger)
//	if err != nil {
//	    return err
//	}
//	res, err := p.Run(ctx, symbols)
//	var runErr *returns.RunError
//	if errors.As(err, &runErr) {
//	    // res.Rows still holds every successful symbol
//	}
package returns
