package binanceclient

import (
	"testing"
	"time"

	"copyRiskBot/internal/domain"

	"github.com/adshao/go-binance/v2/futures"
)

func TestBinanceInterval(t *testing.T) {
	cases := map[string]string{
		"M1":  "1m",
		"m5":  "5m",
		"M15": "15m",
		"M30": "30m",
		"H1":  "1h",
		"h4":  "4h",
		"D1":  "1d",
		"3m":  "3m", // passthrough
	}
	for in, want := range cases {
		if got := binanceInterval(in); got != want {
			t.Errorf("binanceInterval(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOrderSides(t *testing.T) {
	entry, exit := orderSides(domain.Long)
	if entry != futures.SideTypeBuy || exit != futures.SideTypeSell {
		t.Errorf("long sides = %v/%v, want BUY/SELL", entry, exit)
	}
	entry, exit = orderSides(domain.Short)
	if entry != futures.SideTypeSell || exit != futures.SideTypeBuy {
		t.Errorf("short sides = %v/%v, want SELL/BUY", entry, exit)
	}
}

func TestTranslateKline(t *testing.T) {
	k := &futures.Kline{
		OpenTime: 1700000000000,
		Open:     "2000.5",
		High:     "2010.0",
		Low:      "1995.0",
		Close:    "2005.0",
	}
	bar, err := translateKline(k)
	if err != nil {
		t.Fatalf("translateKline returned error: %v", err)
	}
	if !bar.Time.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("unexpected bar time %v", bar.Time)
	}
	if bar.Open != 2000.5 || bar.High != 2010.0 || bar.Low != 1995.0 || bar.Close != 2005.0 {
		t.Errorf("unexpected bar values: %+v", bar)
	}

	if _, err := translateKline(nil); err == nil {
		t.Error("expected error for nil kline")
	}
	if _, err := translateKline(&futures.Kline{Open: "bad"}); err == nil {
		t.Error("expected error for malformed kline")
	}
}

func TestFormatQtyFloors(t *testing.T) {
	meta := &symbolMeta{pricePrecision: 2, qtyPrecision: 3}

	if got := formatQty(0.8009, meta); got != "0.800" {
		t.Errorf("formatQty(0.8009) = %q, want 0.800", got)
	}
	// A value sitting exactly on a step must not lose the step to float noise.
	if got := formatQty(0.07, meta); got != "0.070" {
		t.Errorf("formatQty(0.07) = %q, want 0.070", got)
	}
	if got := formatPrice(2004.456, meta); got != "2004.46" {
		t.Errorf("formatPrice(2004.456) = %q, want 2004.46", got)
	}
}
