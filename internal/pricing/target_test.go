package pricing

import "testing"

func TestTargetPrice_UndercutLowest(t *testing.T) {
	// Spec scenario: competitors {200, 205, 195}, floor 180 → 194.99.
	res := TargetPrice(points(200, 205, 195), dec("180.00"), DefaultStrategy())
	if !res.Target.Equal(dec("194.99")) {
		t.Errorf("target = %s, want 194.99", res.Target)
	}
	if res.ConstrainedByFloor {
		t.Error("should not be floor-constrained")
	}
}

func TestTargetPrice_MarketCrashClampsToFloor(t *testing.T) {
	// Competitors below the floor: hold at floor, flag the constraint.
	res := TargetPrice(points(170, 175), dec("180.00"), DefaultStrategy())
	if !res.Target.Equal(dec("180.00")) {
		t.Errorf("target = %s, want 180.00", res.Target)
	}
	if !res.ConstrainedByFloor {
		t.Error("constrained_by_floor should be true")
	}
}

func TestTargetPrice_NoCompetitorsHoldsAtFloor(t *testing.T) {
	res := TargetPrice(nil, dec("149.90"), DefaultStrategy())
	if !res.Target.Equal(dec("149.90")) {
		t.Errorf("target = %s, want 149.90", res.Target)
	}
	if !res.ConstrainedByFloor {
		t.Error("holding at floor counts as floor-constrained")
	}
}

func TestTargetPrice_ExactCentArithmetic(t *testing.T) {
	// 10.03 - 0.01 must be exactly 10.02, no float drift.
	res := TargetPrice(points(10.03), dec("1.00"), DefaultStrategy())
	if res.Target.String() != "10.02" {
		t.Errorf("target = %s, want exactly 10.02", res.Target)
	}
}

func TestTargetPrice_ManualClamps(t *testing.T) {
	min := dec("190.00")
	max := dec("210.00")

	res := TargetPrice(points(195), dec("100.00"), Strategy{Step: dec("0.01"), MinPrice: &min})
	if !res.Target.Equal(dec("194.99")) {
		t.Errorf("target = %s, want 194.99 (min not binding)", res.Target)
	}

	res = TargetPrice(points(185), dec("100.00"), Strategy{Step: dec("0.01"), MinPrice: &min})
	if !res.Target.Equal(dec("190.00")) {
		t.Errorf("target = %s, want 190.00 (manual min binds)", res.Target)
	}

	res = TargetPrice(points(250), dec("100.00"), Strategy{Step: dec("0.01"), MaxPrice: &max})
	if !res.Target.Equal(dec("210.00")) {
		t.Errorf("target = %s, want 210.00 (manual max binds)", res.Target)
	}
}

func TestTargetPrice_TargetNeverBelowFloor(t *testing.T) {
	floors := []string{"0.01", "99.99", "180.00", "500.00"}
	for _, f := range floors {
		floor := dec(f)
		res := TargetPrice(points(50, 120, 300), floor, DefaultStrategy())
		if res.Target.LessThan(floor) {
			t.Errorf("floor %s: target %s dropped below floor", f, res.Target)
		}
	}
}

func TestBuybackPrice(t *testing.T) {
	cases := []struct {
		avg  string
		rate float64
		want string
	}{
		{"250.00", 0.60, "150"},
		{"99.99", 0.60, "59.99"}, // 59.994 rounds down
		{"0", 0.60, "0"},
		{"100.00", 0, "0"},
	}
	for _, c := range cases {
		got := BuybackPrice(dec(c.avg), c.rate)
		if !got.Equal(dec(c.want)) {
			t.Errorf("BuybackPrice(%s, %v) = %s, want %s", c.avg, c.rate, got, c.want)
		}
	}
}
