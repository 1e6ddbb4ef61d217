package rewards

import "testing"

type fixedMultiplier float64

func (f fixedMultiplier) ActiveMultiplier(string) float64 { return float64(f) }

func TestCalculatorAppliesMultiplier(t *testing.T) {
	cases := []struct {
		base       int64
		multiplier float64
		want       int64
	}{
		{2, 1.0, 2},
		{2, 2.0, 4},
		{5, 2.0, 10},
		{15, 2.0, 30},
		{15, 1.0, 15},
		{0, 2.0, 0},
		{-3, 2.0, 0},
	}
	for _, tc := range cases {
		calc := NewCalculator(fixedMultiplier(tc.multiplier))
		got, applied := calc.Reward(tc.base, "0.0.100")
		if got != tc.want {
			t.Fatalf("base=%d multiplier=%v: expected %d, got %d", tc.base, tc.multiplier, tc.want, got)
		}
		if applied != tc.multiplier {
			t.Fatalf("expected reported multiplier %v, got %v", tc.multiplier, applied)
		}
	}
}

func TestCalculatorWithoutSource(t *testing.T) {
	calc := NewCalculator(nil)
	if got, multiplier := calc.Reward(7, "0.0.100"); got != 7 || multiplier != 1.0 {
		t.Fatalf("expected identity reward without source, got %d×%v", got, multiplier)
	}
}
