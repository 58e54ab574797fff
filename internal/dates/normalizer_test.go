package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestNormalizer() *Normalizer {
	return New(nil, WithClock(fixedClock{now: time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)}))
}

func TestNormalizeTurkishMonth(t *testing.T) {
	day, ok := newTestNormalizer().Normalize("10 Ocak 2024")
	require.True(t, ok)
	assert.Equal(t, "2024-01-10", Format(day))
}

func TestNormalizeNumericDate(t *testing.T) {
	day, ok := newTestNormalizer().Normalize("2024-03-05")
	require.True(t, ok)
	assert.Equal(t, "2024-03-05", Format(day))
}

func TestNormalizeMachineReadableDate(t *testing.T) {
	day, ok := newTestNormalizer().Normalize("2023-11-02T10:30:00+03:00")
	require.True(t, ok)
	assert.Equal(t, "2023-11-02", Format(day))
}

func TestNormalizeRejectsFuture(t *testing.T) {
	_, ok := newTestNormalizer().Normalize("10 Ocak 2031")
	assert.False(t, ok)
}

func TestNormalizeAcceptsToday(t *testing.T) {
	day, ok := newTestNormalizer().Normalize("15 Haziran 2024")
	require.True(t, ok)
	assert.Equal(t, "2024-06-15", Format(day))
}

func TestNormalizeEmptyAndGarbage(t *testing.T) {
	n := newTestNormalizer()
	for _, raw := range []string{"", "   ", "qwzx plonk"} {
		_, ok := n.Normalize(raw)
		assert.False(t, ok, "raw=%q", raw)
	}
}

func TestYear(t *testing.T) {
	assert.Equal(t, "unknown_year", Year(nil))
	d := time.Date(2023, time.May, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2023", Year(&d))
}

func TestNormalizeTurkishMonthsAndDottedDates(t *testing.T) {
	n := New(nil, WithClock(fixedClock{now: time.Date(2024, time.May, 20, 9, 0, 0, 0, time.UTC)}))
	tests := map[string]string{
		"12 Mart 2024": "2024-03-12",
		"3 Şubat 2024": "2024-02-03",
		"05.03.2024":   "2024-03-05",
		"12.04.2024":   "2024-04-12",
		"1 Nisan 2024": "2024-04-01",
	}
	for raw, want := range tests {
		day, ok := n.Normalize(raw)
		require.True(t, ok, "raw=%q", raw)
		assert.Equal(t, want, Format(day), "raw=%q", raw)
	}
}
