package clocksync

import (
	"testing"
	"time"
)

func TestRegressNoSamplesFallsBackToUnitSlope(t *testing.T) {
	result := regress(nil, time.Now())
	if result.f != 1 {
		t.Errorf("f = %v, want 1 for empty history", result.f)
	}
}

func TestRegressConstantXFallsBackToUnitSlope(t *testing.T) {
	now := time.Now()
	samples := []responseSample{
		{remote: now, local: now},
		{remote: now, local: now.Add(10 * time.Millisecond)},
	}
	result := regress(samples, now)
	if result.f != 1 {
		t.Errorf("f = %v, want 1 when all x values coincide", result.f)
	}
}

func TestAlternatingMean(t *testing.T) {
	got := alternatingMean([]float64{1, 2, 3, 4})
	want := (-1.0 + 2.0 - 3.0 + 4.0) / 4.0
	if got != want {
		t.Errorf("alternatingMean = %v, want %v", got, want)
	}
}
