package clock

import (
	"testing"
	"time"
)

func TestToday(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	c := Fixed(time.Date(2024, 3, 1, 1, 30, 0, 0, loc))

	got := Today(c)
	want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Today() = %v, want %v", got, want)
	}
}

func TestSystem_IsUTC(t *testing.T) {
	if loc := (System{}).Now().Location(); loc != time.UTC {
		t.Errorf("System.Now() location = %v, want UTC", loc)
	}
}
