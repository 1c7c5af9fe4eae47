package backtest

import (
	"github.com/shopspring/decimal"

	"signal-core/internal/trade"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

type openPosition struct {
	side       trade.Side
	index      int
	time       int64
	price      float64
	fill       decimal.Decimal
	qty        decimal.Decimal
	commission decimal.Decimal
}

// ledger is the simulated cash account of one run.
type ledger struct {
	cfg        ExecutionConfig
	slip       decimal.Decimal
	commPct    decimal.Decimal
	fixed      decimal.Decimal
	cash       decimal.Decimal
	open       *openPosition
	commission decimal.Decimal
}

func newLedger(cfg ExecutionConfig) *ledger {
	return &ledger{
		cfg:     cfg,
		slip:    decimal.NewFromFloat(cfg.SlippagePct).Div(hundred),
		commPct: decimal.NewFromFloat(cfg.CommissionPct).Div(hundred),
		fixed:   decimal.NewFromFloat(cfg.CommissionFixed),
		cash:    decimal.NewFromFloat(cfg.InitialCapital),
	}
}

// fill applies slippage against the trader: buys pay up, sells receive less.
func (l *ledger) fill(price decimal.Decimal, buying bool) decimal.Decimal {
	if buying {
		return price.Mul(one.Add(l.slip))
	}
	return price.Mul(one.Sub(l.slip))
}

func (l *ledger) fee(notional decimal.Decimal) decimal.Decimal {
	return l.fixed.Add(notional.Mul(l.commPct))
}

// enter opens side at close. It reports false when the account cannot
// afford any size.
func (l *ledger) enter(side trade.Side, index int, ts int64, close float64) bool {
	price := decimal.NewFromFloat(close)
	fill := l.fill(price, side == trade.Long)
	if !fill.IsPositive() {
		return false
	}

	equity := l.cash
	var notional decimal.Decimal
	if l.cfg.PositionSize > 0 {
		notional = decimal.NewFromFloat(l.cfg.PositionSize)
	} else {
		notional = equity.Mul(decimal.NewFromFloat(l.cfg.PositionSizePct)).Div(hundred)
	}
	if notional.Add(l.fee(notional)).GreaterThan(equity) {
		notional = equity.Sub(l.fixed).Div(one.Add(l.commPct))
	}
	if !notional.IsPositive() {
		return false
	}

	fee := l.fee(notional)
	qty := notional.Div(fill)
	if side == trade.Long {
		l.cash = l.cash.Sub(notional).Sub(fee)
	} else {
		l.cash = l.cash.Add(notional).Sub(fee)
	}
	l.commission = l.commission.Add(fee)
	l.open = &openPosition{
		side:       side,
		index:      index,
		time:       ts,
		price:      close,
		fill:       fill,
		qty:        qty,
		commission: fee,
	}
	return true
}

// exit closes the open position at close and returns the trade.
func (l *ledger) exit(index int, ts int64, close float64, reason string, feePctTotal float64) Trade {
	p := l.open
	l.open = nil

	price := decimal.NewFromFloat(close)
	fill := l.fill(price, p.side == trade.Short)
	value := p.qty.Mul(fill)
	fee := l.fee(value)

	var pnl decimal.Decimal
	if p.side == trade.Long {
		l.cash = l.cash.Add(value).Sub(fee)
		pnl = fill.Sub(p.fill).Mul(p.qty)
	} else {
		l.cash = l.cash.Sub(value).Sub(fee)
		pnl = p.fill.Sub(fill).Mul(p.qty)
	}
	l.commission = l.commission.Add(fee)
	commission := p.commission.Add(fee)

	gross := trade.GrossPct(p.side, p.price, close)
	return Trade{
		Side:        p.side,
		EntryIndex:  p.index,
		ExitIndex:   index,
		EntryTime:   p.time,
		ExitTime:    ts,
		EntryPrice:  p.price,
		ExitPrice:   close,
		EntryFill:   p.fill.InexactFloat64(),
		ExitFill:    fill.InexactFloat64(),
		Quantity:    p.qty.InexactFloat64(),
		Commission:  commission.InexactFloat64(),
		PnL:         pnl.Sub(commission).InexactFloat64(),
		GrossPct:    gross,
		FeePctTotal: feePctTotal,
		NetPct:      trade.NetPct(gross, feePctTotal),
		ExitReason:  reason,
	}
}

// equity marks the account to close.
func (l *ledger) equity(close float64) decimal.Decimal {
	if l.open == nil {
		return l.cash
	}
	mark := l.open.qty.Mul(decimal.NewFromFloat(close))
	if l.open.side == trade.Long {
		return l.cash.Add(mark)
	}
	return l.cash.Sub(mark)
}
