package returns

// EffectiveDates returns every calendar day in the right-closed range (first, last]
// of the symbol's observations, each paired with the day before it.
// The calendar is dense on purpose; the matcher absorbs weekends and holidays.
func EffectiveDates(store *Store, symbol string) ([]EffectiveDateRow, error) {
	first, last, err := store.Bounds(symbol)
	if err != nil {
		return nil, err
	}

	lo, hi := dayNumber(first), dayNumber(last)
	rows := make([]EffectiveDateRow, 0, hi-lo)
	for d := lo + 1; d <= hi; d++ {
		rows = append(rows, EffectiveDateRow{
			Symbol:        symbol,
			EffectiveDate: dayFromNumber(d),
			PreviousDate:  dayFromNumber(d - 1),
		})
	}
	return rows, nil
}
