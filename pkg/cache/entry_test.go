package cache

import (
	"testing"
	"time"
)

func TestEntry_Cacheable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{200, true},
		{201, true},
		{204, true},
		{299, true},
		{199, false},
		{301, false},
		{304, false},
		{404, false},
		{500, false},
		{0, false},
	}

	for _, tt := range tests {
		e := &Entry{StatusCode: tt.status}
		if got := e.Cacheable(); got != tt.want {
			t.Errorf("Entry{StatusCode: %d}.Cacheable() = %v, want %v", tt.status, got, tt.want)
		}
	}

	var nilEntry *Entry
	if nilEntry.Cacheable() {
		t.Error("nil entry must not be cacheable")
	}
}

func TestEntry_Age(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		cachedAt time.Time
		want     time.Duration
	}{
		{"unset", time.Time{}, 0},
		{"past", now.Add(-90 * time.Second), 90 * time.Second},
		{"future", now.Add(time.Minute), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{CachedAt: tt.cachedAt}
			if got := e.Age(now); got != tt.want {
				t.Errorf("Age() = %v, want %v", got, tt.want)
			}
		})
	}
}
