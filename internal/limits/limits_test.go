package limits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHourlyFor(t *testing.T) {
	require.Equal(t, 50, HourlyFor("gmail"))
	require.Equal(t, 80, HourlyFor("workspace"))
	require.Equal(t, 40, HourlyFor("outlook"))
	require.Equal(t, 60, HourlyFor("sendgrid"))
	require.Equal(t, 60, HourlyFor("something-else"))
	require.Equal(t, 50, HourlyFor("  Gmail "))
}

func TestResolveOverride(t *testing.T) {
	require.Equal(t, 25, Resolve("gmail", 25))
	require.Equal(t, 50, Resolve("gmail", 0))
	require.Equal(t, 50, Resolve("gmail", -1))
}

func TestInterval(t *testing.T) {
	require.Equal(t, 72*time.Second, Interval(50))
	require.Equal(t, 45*time.Second, Interval(80))
	require.Equal(t, time.Minute, Interval(60))
	// degenerate input falls back to the default limit
	require.Equal(t, time.Minute, Interval(0))
}
