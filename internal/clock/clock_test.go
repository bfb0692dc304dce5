package clock

import (
	"testing"
	"time"
)

func TestManual_AdvanceFiresInOrder(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	c.Advance(3 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v, want [a b]", fired)
	}
	if got := c.Now(); !got.Equal(time.Unix(3, 0)) {
		t.Errorf("Now() = %v, want %v", got, time.Unix(3, 0))
	}

	c.Advance(2 * time.Second)
	if len(fired) != 3 || fired[2] != "c" {
		t.Errorf("fired = %v, want [a b c]", fired)
	}
}

func TestManual_Stop(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("first Stop() = false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestManual_NestedScheduling(t *testing.T) {
	c := NewManual(time.Unix(0, 0))

	var at []time.Duration
	start := c.Now()
	c.AfterFunc(time.Second, func() {
		at = append(at, c.Now().Sub(start))
		c.AfterFunc(time.Second, func() {
			at = append(at, c.Now().Sub(start))
		})
	})

	c.Advance(5 * time.Second)

	if len(at) != 2 || at[0] != time.Second || at[1] != 2*time.Second {
		t.Errorf("fire times = %v, want [1s 2s]", at)
	}
}

func TestManual_Pending(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	c.AfterFunc(4*time.Second, func() {})
	c.AfterFunc(time.Second, func() {})

	got := c.Pending()
	if len(got) != 2 || got[0] != time.Second || got[1] != 4*time.Second {
		t.Errorf("Pending() = %v, want [1s 4s]", got)
	}
}
