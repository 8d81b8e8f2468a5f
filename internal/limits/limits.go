// Package limits holds the per-provider hourly send-rate defaults and the
// pacing math derived from them.
package limits

import (
	"strings"
	"time"
)

// Default hourly send limits by provider label. Values mirror what the
// providers tolerate before deferring bulk senders.
var defaults = map[string]int{
	"gmail":     50,
	"workspace": 80,
	"outlook":   40,
	"sendgrid":  60,
}

// DefaultHourly is used for unknown or custom providers.
const DefaultHourly = 60

// HourlyFor returns the default hourly limit for a provider label.
func HourlyFor(provider string) int {
	if n, ok := defaults[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return n
	}
	return DefaultHourly
}

// Resolve picks the effective hourly limit for an account: the campaign
// override when set (>0), otherwise the provider default.
func Resolve(provider string, override int) int {
	if override > 0 {
		return override
	}
	return HourlyFor(provider)
}

// Interval is the pause between consecutive sends for an account with the
// given hourly limit: 3600000ms / limit.
func Interval(hourlyLimit int) time.Duration {
	if hourlyLimit <= 0 {
		hourlyLimit = DefaultHourly
	}
	return time.Hour / time.Duration(hourlyLimit)
}
