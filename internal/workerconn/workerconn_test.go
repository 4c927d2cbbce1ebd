package workerconn

import (
	"testing"
	"time"
)

func TestNextBackoffCapsAtMax(t *testing.T) {
	d := backoffInitial
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
	}
	if d != backoffMax {
		t.Fatalf("expected backoff to cap at %v, got %v", backoffMax, d)
	}
}

func TestNextBackoffGrows(t *testing.T) {
	got := nextBackoff(backoffInitial)
	want := backoffInitial * time.Duration(backoffFactor)
	if got != want {
		t.Fatalf("nextBackoff(%v) = %v, want %v", backoffInitial, got, want)
	}
}

func TestJitterStaysWithinFraction(t *testing.T) {
	base := backoffInitial
	delta := float64(base) * jitterFraction
	for i := 0; i < 200; i++ {
		j := jitter(base)
		if float64(j) < float64(base)-delta-1 || float64(j) > float64(base)+delta+1 {
			t.Fatalf("jitter(%v) = %v out of [%v, %v] range", base, j,
				float64(base)-delta, float64(base)+delta)
		}
	}
}
