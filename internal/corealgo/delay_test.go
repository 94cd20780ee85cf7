package corealgo

import (
	"testing"
	"time"
)

func TestParseDelay(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5s", 5 * time.Second},
		{"100ms", 100 * time.Millisecond},
		{"2min", 2 * time.Minute},
		{"1h", time.Hour},
		{".5s", 500 * time.Millisecond},
		{"0.5s", 500 * time.Millisecond},
		{"3", 3 * time.Second},
		{"2sec", 2 * time.Second},
		{"1hour", time.Hour},
		{"garbage", 0},
		{"5xyz", 0},
	}
	for _, c := range cases {
		if got := ParseDelay(c.in); got != c.want {
			t.Errorf("ParseDelay(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestMatchEvent(t *testing.T) {
	cases := []struct {
		descriptor, event string
		want              bool
	}{
		{"*", "anything.at.all", true},
		{"error", "error", true},
		{"error", "error.execution", true},
		{"error", "errorish", false},
		{"error.*", "error.execution", true},
		{"done.state.foo", "done.state.foo", true},
		{"done.state.foo", "done.state.foobar", false},
	}
	for _, c := range cases {
		if got := MatchEvent(c.descriptor, c.event); got != c.want {
			t.Errorf("MatchEvent(%q, %q) = %v, want %v", c.descriptor, c.event, got, c.want)
		}
	}
}
