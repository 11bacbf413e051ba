package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestNextUTCMidnight(t *testing.T) {
	in := time.Date(2024, 10, 10, 23, 59, 59, 0, time.UTC)
	want := time.Date(2024, 10, 11, 0, 0, 0, 0, time.UTC)
	if got := NextUTCMidnight(in); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if UTCDay(in) != "2024-10-10" || UTCDay(want) != "2024-10-11" {
		t.Fatalf("unexpected day strings %s %s", UTCDay(in), UTCDay(want))
	}
}

func TestAlignWindow(t *testing.T) {
	in := time.Date(2024, 10, 10, 10, 7, 30, 0, time.UTC)
	start, end := AlignWindow(in, 5*time.Minute)
	if start.Minute() != 5 || end.Minute() != 10 {
		t.Fatalf("unexpected window %v-%v", start, end)
	}
}

func TestTimeOfDayBucket(t *testing.T) {
	cases := []struct {
		hour, n, want int
	}{
		{0, 6, 0},
		{3, 6, 0},
		{4, 6, 1},
		{23, 6, 5},
		{12, 1, 0},
	}
	for _, c := range cases {
		got := TimeOfDayBucket(time.Date(2024, 1, 1, c.hour, 30, 0, 0, time.UTC), c.n)
		if got != c.want {
			t.Fatalf("hour %d n %d: got %d want %d", c.hour, c.n, got, c.want)
		}
	}
}

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault(" 42 ", 1); got != 42 {
		t.Fatalf("got %d", got)
	}
	if got := ParseIntDefault("", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
}
