package marketmath

import "testing"

func TestMakerHedgePips(t *testing.T) {
	// 4600 pips (0.46) 对侧 ask，offset 200 pips => 4400
	if got := MakerHedgePips(4600, 200, 100); got != 4400 {
		t.Fatalf("MakerHedgePips got=%d want=%d", got, 4400)
	}
	// offset 把估计压到 minTick 之下时取 minTick
	if got := MakerHedgePips(150, 200, 100); got != 100 {
		t.Fatalf("MakerHedgePips floor got=%d want=%d", got, 100)
	}
	// 对侧缺失
	if got := MakerHedgePips(0, 200, 100); got != 0 {
		t.Fatalf("MakerHedgePips missing got=%d want=0", got)
	}
}

func TestEffectiveBuyPips(t *testing.T) {
	// effectiveBuy = min(0.56, 1-0.47=0.53) => 0.53
	if got := EffectiveBuyPips(5600, 4700); got != 5300 {
		t.Fatalf("EffectiveBuyPips got=%d want=%d", got, 5300)
	}
	// 对侧 bid 缺失：只剩 ask 这一路
	if got := EffectiveBuyPips(5600, 0); got != 5600 {
		t.Fatalf("EffectiveBuyPips no-bid got=%d want=%d", got, 5600)
	}
}

func TestPairLocked_Boundary(t *testing.T) {
	// cpp == 1.0 的归属由 inclusive 决定
	if PairLocked(OnePips, false) {
		t.Fatalf("exclusive boundary: cpp==1.0 should not lock")
	}
	if !PairLocked(OnePips, true) {
		t.Fatalf("inclusive boundary: cpp==1.0 should lock")
	}
	if !PairLocked(9900, false) {
		t.Fatalf("cpp=0.99 should lock under either policy")
	}
	if PairLocked(10100, true) {
		t.Fatalf("cpp=1.01 should never lock")
	}
}

func TestProjectedCppPips(t *testing.T) {
	entry := 4600
	hedge := MakerHedgePips(4600, 200, 100)
	if got := ProjectedCppPips(entry, hedge); got != 9000 {
		t.Fatalf("ProjectedCppPips got=%d want=%d", got, 9000)
	}
}
