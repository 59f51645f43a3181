package core

import "github.com/shopspring/decimal"

// Summary is the balance of one cashbook.
type Summary struct {
	TotalIn  float64 `json:"total_in"`
	TotalOut float64 `json:"total_out"`
	Balance  float64 `json:"balance"`
}

// Summarize totals entries by type. The balance is taken from the unrounded
// totals; all three figures are then rounded to cents, half away from zero.
func Summarize(entries []Entry) Summary {
	in, out := decimal.Zero, decimal.Zero
	for _, e := range entries {
		amt := decimal.NewFromFloat(e.Amount)
		switch e.Type {
		case CashIn:
			in = in.Add(amt)
		case CashOut:
			out = out.Add(amt)
		}
	}
	return Summary{
		TotalIn:  RoundCents(in),
		TotalOut: RoundCents(out),
		Balance:  RoundCents(in.Sub(out)),
	}
}
