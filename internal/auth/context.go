// Package auth provides request context helpers for the caller identity.
//
// Middleware stores the subject here and handlers read it back; keeping it in
// its own package lets both import it without a cycle.
package auth

import (
	"context"
	"net/http"
)

type contextKey string

const (
	subjectContextKey contextKey = "subject"
	deviceContextKey  contextKey = "device"
)

// Subject is the signed-in caller, taken from a validated access token.
type Subject struct {
	UserID string
	Email  string
}

// GetSubject returns the signed-in caller, or nil for anonymous requests.
//
// Usage:
//
//	sub := auth.GetSubject(r.Context())
//	if sub == nil {
//	    // anonymous request
//	}
func GetSubject(ctx context.Context) *Subject {
	sub, ok := ctx.Value(subjectContextKey).(*Subject)
	if !ok {
		return nil
	}
	return sub
}

// GetSubjectFromRequest is GetSubject on the request context.
func GetSubjectFromRequest(r *http.Request) *Subject {
	return GetSubject(r.Context())
}

// SetSubject stores the caller in the context.
func SetSubject(ctx context.Context, sub *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, sub)
}

// GetDeviceKey returns the anonymous device key, or "" if none was derived.
func GetDeviceKey(ctx context.Context) string {
	key, _ := ctx.Value(deviceContextKey).(string)
	return key
}

// SetDeviceKey stores the anonymous device key in the context.
func SetDeviceKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, deviceContextKey, key)
}
