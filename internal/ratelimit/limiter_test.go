package ratelimit

import (
	"testing"
	"time"
)

func TestFixedWindowAllowsUpToLimit(t *testing.T) {
	l := New(Lists{}, 0, 3)
	base := time.Now()

	for i := 0; i < 3; i++ {
		if d := l.Check("", "1.2.3.4", base.Add(time.Duration(i)*time.Second)); d != Allow {
			t.Fatalf("request %d: expected Allow, got %v", i, d)
		}
	}
	if d := l.Check("", "1.2.3.4", base.Add(4*time.Second)); d != Limited {
		t.Fatalf("4th request: expected Limited, got %v", d)
	}
}

func TestFixedWindowResetsAfter60Seconds(t *testing.T) {
	l := New(Lists{}, 0, 1)
	base := time.Now()

	if d := l.Check("", "1.2.3.4", base); d != Allow {
		t.Fatalf("expected Allow, got %v", d)
	}
	if d := l.Check("", "1.2.3.4", base.Add(30*time.Second)); d != Limited {
		t.Fatalf("expected Limited within window, got %v", d)
	}
	if d := l.Check("", "1.2.3.4", base.Add(61*time.Second)); d != Allow {
		t.Fatalf("expected Allow after window reset, got %v", d)
	}
}

func TestZeroLimitPassesThrough(t *testing.T) {
	l := New(Lists{}, 0, 0)
	base := time.Now()
	for i := 0; i < 100; i++ {
		if d := l.Check("", "1.2.3.4", base); d != Allow {
			t.Fatalf("expected Allow with 0 limit, got %v", d)
		}
	}
}

func TestUserKeyPreferredOverIP(t *testing.T) {
	l := New(Lists{}, 1, 100)
	base := time.Now()

	if d := l.Check("alice", "1.2.3.4", base); d != Allow {
		t.Fatalf("expected Allow, got %v", d)
	}
	if d := l.Check("alice", "1.2.3.4", base.Add(time.Second)); d != Limited {
		t.Fatalf("expected Limited under user bucket, got %v", d)
	}
	// Different user, same IP: independent bucket.
	if d := l.Check("bob", "1.2.3.4", base.Add(time.Second)); d != Allow {
		t.Fatalf("expected Allow for distinct user bucket, got %v", d)
	}
}

func TestBlockListTakesPrecedence(t *testing.T) {
	lists := NewLists(nil, []string{"alice"}, nil, nil)
	l := New(lists, 100, 100)
	if d := l.Check("alice", "1.2.3.4", time.Now()); d != Blocked {
		t.Fatalf("expected Blocked, got %v", d)
	}
}

func TestAllowListBypassesBucket(t *testing.T) {
	lists := NewLists(nil, nil, []string{"1.2.3.4"}, nil)
	l := New(lists, 0, 1)
	base := time.Now()
	for i := 0; i < 10; i++ {
		if d := l.Check("", "1.2.3.4", base); d != Allow {
			t.Fatalf("request %d: expected Allow for allow-listed ip, got %v", i, d)
		}
	}
}

func TestIdleBucketsAreEvicted(t *testing.T) {
	l := New(Lists{}, 0, 10)
	base := time.Now()
	l.Check("", "1.2.3.4", base)
	if l.BucketCount() != 1 {
		t.Fatalf("expected 1 bucket, got %d", l.BucketCount())
	}
	// A later check from a different key triggers eviction of the idle one.
	l.Check("", "5.6.7.8", base.Add(601*time.Second))
	if l.BucketCount() != 1 {
		t.Fatalf("expected stale bucket evicted, got %d buckets", l.BucketCount())
	}
}
