package handshake

import (
	"testing"
	"time"

	"firestige.xyz/rawshake/internal/packet"
)

func TestDiscardLogLimiter_NilWhenDisabled(t *testing.T) {
	l := newDiscardLogLimiter(0, time.Second)
	if l != nil {
		t.Fatal("expected nil when limit = 0")
	}
	if !l.Allow(packet.ReasonWrongAck, time.Now()) {
		t.Error("nil limiter should allow")
	}
	if l.Suppressed() != 0 {
		t.Errorf("expected 0 suppressed, got %d", l.Suppressed())
	}
}

func TestDiscardLogLimiter_RejectsOverLimit(t *testing.T) {
	l := newDiscardLogLimiter(3, 10*time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.Allow(packet.ReasonWrongDest, now) {
			t.Fatalf("line %d should be allowed (within limit)", i)
		}
	}
	if l.Allow(packet.ReasonWrongDest, now) {
		t.Error("4th line should be suppressed")
	}
	if l.Suppressed() != 1 {
		t.Errorf("expected 1 suppressed, got %d", l.Suppressed())
	}
}

func TestDiscardLogLimiter_ReasonsIndependent(t *testing.T) {
	l := newDiscardLogLimiter(1, 10*time.Second)
	now := time.Now()

	if !l.Allow(packet.ReasonWrongDest, now) {
		t.Error("first wrong_dst_port line should be allowed")
	}
	if !l.Allow(packet.ReasonNotTCP, now) {
		t.Error("first not_tcp line should be allowed")
	}
	if l.Allow(packet.ReasonWrongDest, now) {
		t.Error("second wrong_dst_port line should be suppressed")
	}
}

func TestDiscardLogLimiter_WindowRotation(t *testing.T) {
	l := newDiscardLogLimiter(1, time.Second)
	now := time.Now()

	l.Allow(packet.ReasonWrongAck, now)
	if l.Allow(packet.ReasonWrongAck, now.Add(500*time.Millisecond)) {
		t.Error("should be suppressed inside the window")
	}
	if !l.Allow(packet.ReasonWrongAck, now.Add(time.Second)) {
		t.Error("should be allowed after the window rotates")
	}
}
