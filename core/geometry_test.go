package core

import (
	"math"
	"testing"
)

func TestDistanceTo(t *testing.T) {
	gnb := Vec3{Z: 10}
	ue := Vec3{Y: 10, Z: 1.5}
	want := math.Sqrt(100 + 8.5*8.5)
	if got := gnb.DistanceTo(ue); math.Abs(got-want) > 1e-9 {
		t.Fatalf("DistanceTo = %v, want %v", got, want)
	}
}

func TestClosestIndex(t *testing.T) {
	cands := []Vec3{{X: 0}, {X: 500}, {X: 500}}
	cases := []struct {
		target Vec3
		want   int
	}{
		{Vec3{X: 10}, 0},
		{Vec3{X: 450}, 1},
		{Vec3{X: 250}, 0},
	}
	for _, tc := range cases {
		if got := ClosestIndex(tc.target, cands); got != tc.want {
			t.Fatalf("ClosestIndex(%v) = %d, want %d", tc.target, got, tc.want)
		}
	}
	if got := ClosestIndex(Vec3{}, nil); got != -1 {
		t.Fatalf("ClosestIndex(empty) = %d, want -1", got)
	}
}
