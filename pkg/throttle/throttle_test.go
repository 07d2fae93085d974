package throttle

import (
	"testing"
	"time"
)

func TestLimiter_SameMessageThrottled(t *testing.T) {
	l := New(5 * time.Second)
	now := time.Unix(1700000000, 0)

	if !l.Allow("m1", "blocked", now) {
		t.Fatalf("first emit should pass")
	}
	if l.Allow("m1", "blocked", now.Add(2*time.Second)) {
		t.Fatalf("same message within period should be throttled")
	}
	if !l.Allow("m1", "blocked", now.Add(6*time.Second)) {
		t.Fatalf("same message after period should pass")
	}
}

func TestLimiter_MessageChangePassesImmediately(t *testing.T) {
	l := New(5 * time.Second)
	now := time.Unix(1700000000, 0)

	_ = l.Allow("m1", "blocked", now)
	if !l.Allow("m1", "allowed", now.Add(time.Second)) {
		t.Fatalf("changed message should pass immediately")
	}
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l := New(5 * time.Second)
	now := time.Unix(1700000000, 0)

	_ = l.Allow("m1", "blocked", now)
	if !l.Allow("m2", "blocked", now) {
		t.Fatalf("different key should not be throttled")
	}
}

func TestLimiter_Forget(t *testing.T) {
	l := New(5 * time.Second)
	now := time.Unix(1700000000, 0)

	_ = l.Allow("m1:state", "blocked", now)
	l.Forget("m1")
	if !l.Allow("m1:state", "blocked", now.Add(time.Second)) {
		t.Fatalf("forgotten key should pass again")
	}
}
