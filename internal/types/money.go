// README: Money value object; amounts are kept in minor units (kopecks).
package types

import "fmt"

const DefaultCurrency = "RUB"

type Money struct {
	Amount   int64
	Currency string
}

func RUB(rubles int64) Money {
	return Money{Amount: rubles * 100, Currency: DefaultCurrency}
}

func (m Money) Add(o Money) Money {
	cur := m.Currency
	if cur == "" {
		cur = o.Currency
	}
	return Money{Amount: m.Amount + o.Amount, Currency: cur}
}

// Div splits the amount into n equal parts, rounding toward zero.
func (m Money) Div(n int) Money {
	if n <= 0 {
		return Money{Currency: m.Currency}
	}
	return Money{Amount: m.Amount / int64(n), Currency: m.Currency}
}

func (m Money) String() string {
	cur := m.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, abs(m.Amount%100), cur)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
