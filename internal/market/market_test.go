package market

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"colonycore/internal/colony"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func seeded(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func TestGaussianMoments(t *testing.T) {
	r := seeded(1)
	const n = 20000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		g := Gaussian(r)
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("non-finite sample %f", g)
		}
		sum += g
		sumSq += g * g
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if math.Abs(mean) > 0.05 {
		t.Fatalf("mean %f too far from 0", mean)
	}
	if math.Abs(variance-1) > 0.05 {
		t.Fatalf("variance %f too far from 1", variance)
	}
}

func TestPriceStaysWithinBounds(t *testing.T) {
	for i, p := range DefaultResources(t0) {
		r := seeded(int64(100 + i))
		params := DefaultParams()
		params.VolatilityMult = 3
		p.Demand = 40
		p.Supply = 5
		for tick := 0; tick < 1000; tick++ {
			p = Step(p, r, params)
			if p.CurrentPrice < p.MinPrice || p.CurrentPrice > p.MaxPrice {
				t.Fatalf("%s tick %d price %f outside [%f,%f]", p.Resource, tick, p.CurrentPrice, p.MinPrice, p.MaxPrice)
			}
			if Round(p.CurrentPrice) != p.CurrentPrice {
				t.Fatalf("%s tick %d price %f not rounded", p.Resource, tick, p.CurrentPrice)
			}
		}
	}
}

func TestMeanReversionFromExtreme(t *testing.T) {
	for i, p := range DefaultResources(t0) {
		r := seeded(int64(7 + i))
		start := Round(p.MaxPrice * 0.9)
		p.CurrentPrice = start
		var trailing float64
		const ticks, window = 500, 100
		for tick := 0; tick < ticks; tick++ {
			p = Step(p, r, DefaultParams())
			if tick >= ticks-window {
				trailing += p.CurrentPrice
			}
		}
		trailing /= window
		if trailing >= start*0.9 {
			t.Fatalf("%s trailing average %f not measurably below start %f", p.Resource, trailing, start)
		}
	}
}

func TestSeasonalPhaseAdvances(t *testing.T) {
	p := DefaultResources(t0)[0]
	next := Step(p, seeded(3), DefaultParams())
	if math.Abs(next.SeasonalPhase-0.0654) > 1e-12 {
		t.Fatalf("phase got=%f want=0.0654", next.SeasonalPhase)
	}
}

func TestDemandImbalanceRaisesDrift(t *testing.T) {
	p := DefaultResources(t0)[1]
	balanced := delta(p, 0, DefaultParams())
	if balanced.Demand != 0 {
		t.Fatalf("expected zero demand delta with no flow, got %f", balanced.Demand)
	}
	p.Demand, p.Supply = 30, 10
	skewed := delta(p, 0, DefaultParams())
	if skewed.Demand <= 0 || skewed.Total <= balanced.Total {
		t.Fatalf("demand excess should push the price up: %+v", skewed)
	}
}

func TestAdvanceIsElapsedTimeBased(t *testing.T) {
	p := DefaultResources(t0)[0]
	r := seeded(9)
	params := DefaultParams()

	next, steps := Advance(p, t0.Add(12*time.Minute), 5*time.Minute, 0, r, params)
	if steps != 2 {
		t.Fatalf("steps got=%d want=2", steps)
	}
	if !next.LastTickAt.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("cursor got=%s", next.LastTickAt)
	}

	dup, steps := Advance(next, t0.Add(12*time.Minute), 5*time.Minute, 0, r, params)
	if steps != 0 || dup.CurrentPrice != next.CurrentPrice {
		t.Fatalf("duplicate invocation applied %d steps", steps)
	}

	late, steps := Advance(next, t0.Add(10*time.Hour), 5*time.Minute, 12, r, params)
	if steps != 12 {
		t.Fatalf("catch-up steps got=%d want=12", steps)
	}
	if !late.LastTickAt.Equal(t0.Add(10 * time.Hour)) {
		t.Fatalf("catch-up cursor got=%s", late.LastTickAt)
	}

	fresh := p
	fresh.LastTickAt = time.Time{}
	init, steps := Advance(fresh, t0, 5*time.Minute, 0, r, params)
	if steps != 0 || !init.LastTickAt.Equal(t0) {
		t.Fatalf("zero cursor should initialise without stepping")
	}
}

func TestDepthInvariants(t *testing.T) {
	for i, p := range DefaultResources(t0) {
		r := seeded(int64(40 + i))
		for tick := 0; tick < 50; tick++ {
			p = Step(p, r, DefaultParams())
			b := Depth(p, r)
			if len(b.Bids) != DepthLevels || len(b.Asks) != DepthLevels {
				t.Fatalf("%s levels bids=%d asks=%d", p.Resource, len(b.Bids), len(b.Asks))
			}
			if b.Bids[0].Price >= p.CurrentPrice || b.Asks[0].Price <= p.CurrentPrice {
				t.Fatalf("%s touch not around price %f: bid=%f ask=%f", p.Resource, p.CurrentPrice, b.Bids[0].Price, b.Asks[0].Price)
			}
			if b.SpreadPct <= 0 || b.SpreadPct >= 5 {
				t.Fatalf("%s spread %f", p.Resource, b.SpreadPct)
			}
			for j := 1; j < DepthLevels; j++ {
				if b.Bids[j].Price >= b.Bids[j-1].Price {
					t.Fatalf("%s bids not strictly descending at %d", p.Resource, j)
				}
				if b.Asks[j].Price <= b.Asks[j-1].Price {
					t.Fatalf("%s asks not strictly ascending at %d", p.Resource, j)
				}
				if b.Bids[j].Cumulative <= b.Bids[j-1].Cumulative || b.Asks[j].Cumulative <= b.Asks[j-1].Cumulative {
					t.Fatalf("%s cumulative totals not increasing at %d", p.Resource, j)
				}
			}
			for _, lvl := range append(append([]Level(nil), b.Bids...), b.Asks...) {
				if lvl.Quantity <= 0 {
					t.Fatalf("%s non-positive quantity", p.Resource)
				}
				if lvl.Price < p.MinPrice || lvl.Price > p.MaxPrice {
					t.Fatalf("%s level price %f outside rails", p.Resource, lvl.Price)
				}
			}
		}
	}
}

func TestDepthNearRails(t *testing.T) {
	energy := DefaultResources(t0)[0]
	tests := []struct {
		name       string
		price      float64
		bids, asks int
	}{
		{"97% of max", Round(energy.MaxPrice * 0.97), DepthLevels, DepthLevels},
		{"99% of max", Round(energy.MaxPrice * 0.99), DepthLevels, DepthLevels},
		{"99.9% of max", Round(energy.MaxPrice * 0.999), DepthLevels, DepthLevels},
		{"1.01x min", Round(energy.MinPrice * 1.01), DepthLevels, DepthLevels},
		{"three steps below max", energy.MaxPrice - 0.0003, DepthLevels, 3},
		{"at max", energy.MaxPrice, DepthLevels, 0},
		{"at min", energy.MinPrice, 0, DepthLevels},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := energy
			p.CurrentPrice = tc.price
			b := Depth(p, QuoteRand(p))
			if len(b.Bids) != tc.bids || len(b.Asks) != tc.asks {
				t.Fatalf("price %f: bids=%d asks=%d, want %d/%d", tc.price, len(b.Bids), len(b.Asks), tc.bids, tc.asks)
			}
			for j, lvl := range b.Asks {
				if lvl.Price <= p.CurrentPrice || lvl.Price > p.MaxPrice {
					t.Fatalf("ask %d at %f outside (%f, %f]", j, lvl.Price, p.CurrentPrice, p.MaxPrice)
				}
				if j > 0 && lvl.Price <= b.Asks[j-1].Price {
					t.Fatalf("asks not strictly ascending at %d", j)
				}
			}
			for j, lvl := range b.Bids {
				if lvl.Price >= p.CurrentPrice || lvl.Price < p.MinPrice {
					t.Fatalf("bid %d at %f outside [%f, %f)", j, lvl.Price, p.MinPrice, p.CurrentPrice)
				}
				if j > 0 && lvl.Price >= b.Bids[j-1].Price {
					t.Fatalf("bids not strictly descending at %d", j)
				}
			}
			if len(b.Bids) > 0 && len(b.Asks) > 0 && (b.SpreadPct <= 0 || b.SpreadPct >= 5) {
				t.Fatalf("spread %f", b.SpreadPct)
			}
		})
	}
}

func TestDepthAwayFromRailsKeepsNominalLadder(t *testing.T) {
	p := DefaultResources(t0)[1]
	b := Depth(p, seeded(5))
	if b.Asks[0].Price != Round(p.CurrentPrice*(1+halfSpread)) || b.Bids[0].Price != Round(p.CurrentPrice*(1-halfSpread)) {
		t.Fatalf("unexpected touch bid=%f ask=%f", b.Bids[0].Price, b.Asks[0].Price)
	}
	outer := b.Asks[DepthLevels-1].Price
	if want := Round(p.CurrentPrice * (1 + outerOffset)); outer != want {
		t.Fatalf("outer ask %f, want %f", outer, want)
	}
}

func TestExecuteBuyFillsWithinBand(t *testing.T) {
	p := DefaultResources(t0)[1]
	b := Depth(p, seeded(11))
	best, _ := b.BestAsk()
	qty := best.Quantity + b.Asks[1].Quantity/2

	f, err := Execute(b, Buy, qty)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Filled != qty || f.Partial() {
		t.Fatalf("filled %d want %d", f.Filled, qty)
	}
	if f.AvgPrice < best.Price || f.AvgPrice > b.Asks[1].Price {
		t.Fatalf("avg %f outside [%f,%f]", f.AvgPrice, best.Price, b.Asks[1].Price)
	}
	if f.SlippagePct <= 0 {
		t.Fatalf("buy slippage should be positive, got %f", f.SlippagePct)
	}
	if f.Levels != 2 {
		t.Fatalf("levels got=%d want=2", f.Levels)
	}
}

func TestExecuteSellAndPartial(t *testing.T) {
	p := DefaultResources(t0)[2]
	b := Depth(p, seeded(12))
	f, err := Execute(b, Sell, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.AvgPrice != b.Bids[0].Price || f.SlippagePct >= 0 {
		t.Fatalf("unexpected sell fill %+v", f)
	}

	total := b.Bids[len(b.Bids)-1].Cumulative
	f, err = Execute(b, Sell, total+50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Partial() || f.Filled != total {
		t.Fatalf("expected partial fill of %d, got %+v", total, f)
	}

	if _, err := Execute(Book{Mid: 10}, Buy, 5); !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("expected no liquidity, got %v", err)
	}
	if _, err := Execute(b, Buy, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
}

func TestValidateTrade(t *testing.T) {
	known := func(r string) bool { return r == "ORE" }
	tests := []struct {
		resource string
		qty      int64
		want     error
	}{
		{colony.Currency, 5, ErrBaseCurrency},
		{"ORE", 0, ErrInvalidQuantity},
		{"ORE", -3, ErrInvalidQuantity},
		{"UNOBTANIUM", 5, ErrUnknownResource},
		{"ore", 5, nil},
	}
	for _, tc := range tests {
		err := ValidateTrade(tc.resource, tc.qty, known)
		if tc.want == nil && err != nil {
			t.Fatalf("%s/%d unexpected error %v", tc.resource, tc.qty, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s/%d got=%v want=%v", tc.resource, tc.qty, err, tc.want)
		}
	}
}

func TestBoundRoundsInsideRails(t *testing.T) {
	if got := Bound(10.123456, 1, 20); got != 10.1235 {
		t.Fatalf("got=%f want=10.1235", got)
	}
	if got := Bound(50, 1, 20); got != 20 {
		t.Fatalf("got=%f want=20", got)
	}
	if got := Bound(math.NaN(), 1, 20); got != 1 {
		t.Fatalf("NaN got=%f want=1", got)
	}
}

func TestQuoteRandIsStablePerVersion(t *testing.T) {
	p := DefaultResources(time.Unix(0, 0))[1]
	a := Depth(p, QuoteRand(p))
	b := Depth(p, QuoteRand(p))
	for i := range a.Asks {
		if a.Asks[i] != b.Asks[i] {
			t.Fatalf("ask %d differs: %+v vs %+v", i, a.Asks[i], b.Asks[i])
		}
	}
	p.Version++
	c := Depth(p, QuoteRand(p))
	same := true
	for i := range a.Asks {
		if a.Asks[i].Quantity != c.Asks[i].Quantity {
			same = false
		}
	}
	if same {
		t.Fatalf("expected a new version to reshuffle depth quantities")
	}
}
