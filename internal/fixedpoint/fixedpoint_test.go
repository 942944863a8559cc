package fixedpoint

import "testing"

func TestMoneyAddOverflow(t *testing.T) {
	var max Money = 1<<64 - 1
	if _, err := max.Add(1); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestMoneySubUnderflow(t *testing.T) {
	if _, err := Money(10).Sub(11); err != ErrUnderflow {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
	got, err := Money(10).Sub(10)
	if err != nil || got != 0 {
		t.Fatalf("expected 0, nil; got %v, %v", got, err)
	}
}

func TestDeviationBps(t *testing.T) {
	// |105-100| * 10000 / 100 = 500 bps
	if got := DeviationBps(105, 100); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestNormalizeAggregatorPrice(t *testing.T) {
	// answer at 6 decimals -> scale up by 10^2 to reach 10^8
	p, err := NormalizeAggregatorPrice(123_456_789, 6)
	if err != nil {
		t.Fatal(err)
	}
	if p != 12_345_678_900 {
		t.Fatalf("got %d", p)
	}

	if _, err := NormalizeAggregatorPrice(0, 6); err != ErrInvalidPrice {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestNormalizeExpoPrice(t *testing.T) {
	// price=5000, expo=-2 -> 5000 * 10^(8-2) = 5000 * 10^6
	p, err := NormalizeExpoPrice(5000, -2)
	if err != nil {
		t.Fatal(err)
	}
	if p != 5000*1_000_000 {
		t.Fatalf("got %d", p)
	}
}

func TestPositionPnLLong(t *testing.T) {
	// long, mark 110*1e8 entry 100*1e8, size 2*1e6 -> pnl = 20*1e6
	mark := Price(110 * PriceScale)
	entry := Price(100 * PriceScale)
	size := Money(2 * MoneyScale)
	got := PositionPnL(1, mark, entry, size)
	want := int64(20 * MoneyScale)
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestPositionPnLShort(t *testing.T) {
	mark := Price(110 * PriceScale)
	entry := Price(100 * PriceScale)
	size := Money(2 * MoneyScale)
	got := PositionPnL(-1, mark, entry, size)
	want := int64(-20 * MoneyScale)
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
}

func TestNotional(t *testing.T) {
	size := Money(2 * MoneyScale)
	mark := Price(50 * PriceScale)
	got, err := Notional(size, mark)
	if err != nil {
		t.Fatal(err)
	}
	if got != Money(100*MoneyScale) {
		t.Fatalf("got %d", got)
	}
}
