// Package ratelimit enforces per-caller generation quotas with a sliding window.
package ratelimit

import (
	"context"
	"strconv"
	"time"
)

// Category selects the window and ceiling applied to an identifier.
type Category string

const (
	CategoryAnonymous     Category = "anonymous"
	CategoryAuthenticated Category = "authenticated"
)

// Policy is the ceiling of admitted requests inside a trailing window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Policies maps each category to its policy. Unknown categories are denied.
type Policies map[Category]Policy

// DefaultPolicies returns 10/hour for anonymous and 50/day for authenticated callers.
func DefaultPolicies() Policies {
	return Policies{
		CategoryAnonymous:     {Limit: 10, Window: time.Hour},
		CategoryAuthenticated: {Limit: 50, Window: 24 * time.Hour},
	}
}

// Limiter is a hard admission check. A false result is a normal outcome,
// callers must fail the request rather than retry.
type Limiter interface {
	Admit(ctx context.Context, identifier string, category Category) bool
	Remaining(ctx context.Context, identifier string, category Category) int
}

// UserIdentifier builds the identifier for an authenticated caller.
func UserIdentifier(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// IPIdentifier builds the identifier for an anonymous caller.
func IPIdentifier(ip string) string {
	return "ip:" + ip
}
