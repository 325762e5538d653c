package usecase

import (
	"testing"
	"time"
)

func TestInferHours(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hour := int64(time.Hour / time.Millisecond)

	if h, ok := InferHours(base, base+8*hour); !ok || h != 8 {
		t.Errorf("8h delta: got (%v, %v), want (8, true)", h, ok)
	}
	if h, ok := InferHours(base, base+hour); !ok || h != 1 {
		t.Errorf("1h delta: got (%v, %v), want (1, true)", h, ok)
	}

	// Below the 30-minute validity bound: noise, discarded.
	if _, ok := InferHours(base, base+10*int64(time.Minute/time.Millisecond)); ok {
		t.Error("10m delta must be rejected")
	}
	// A reconnect replaying a stale timestamp: non-increasing.
	if _, ok := InferHours(base, base-hour); ok {
		t.Error("negative delta must be rejected")
	}
	if _, ok := InferHours(base, base); ok {
		t.Error("zero delta must be rejected")
	}
	// Gap spanning several missed settlements.
	if _, ok := InferHours(base, base+25*hour); ok {
		t.Error("25h delta must be rejected")
	}
	// Missing either observation.
	if _, ok := InferHours(0, base); ok {
		t.Error("missing previous timestamp must be rejected")
	}
	if _, ok := InferHours(base, 0); ok {
		t.Error("missing new timestamp must be rejected")
	}
}

func TestExactHours(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hour := int64(time.Hour / time.Millisecond)

	if h, ok := ExactHours(base, base+4*hour); !ok || h != 4 {
		t.Errorf("4h pair: got (%v, %v), want (4, true)", h, ok)
	}
	if _, ok := ExactHours(base+hour, base); ok {
		t.Error("next before settlement must be rejected")
	}
	if _, ok := ExactHours(0, base); ok {
		t.Error("missing settlement time must be rejected")
	}
}
