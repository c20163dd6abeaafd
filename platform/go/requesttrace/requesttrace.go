// Package requesttrace records who started a unit of work so tenant stores can stamp
// creator columns and logs can name the actor.
package requesttrace

import (
	"context"
	"errors"

	"go.uber.org/zap"

	platformauth "github.com/clinichub/clinic-api/platform/go/auth"
)

type contextKey struct{}

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo identifies the actor of a request or batch run. UserID is set only for users.
// TenantID is the tenant claim of the token, not the tenant the request was routed to.
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *string
	TenantID  *string
	RequestID string
}

// Fields renders the actor for structured logs.
func (a AuditInfo) Fields() []zap.Field {
	fields := []zap.Field{zap.String("actor_kind", string(a.ActorKind))}
	if a.UserID != nil && *a.UserID != "" {
		fields = append(fields, zap.String("user_id", *a.UserID))
	}
	return fields
}

func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, audit)
}

func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	audit, ok := ctx.Value(contextKey{}).(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous falls back to an anonymous actor without request id.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromCredentials builds the AuditInfo of an authenticated user.
func FromCredentials(creds *platformauth.UserCredentials, requestID string) (AuditInfo, error) {
	switch {
	case creds == nil:
		return AuditInfo{}, errors.New("credentials are required to build audit info")
	case creds.ID == "":
		return AuditInfo{}, errors.New("user id is required to build audit info")
	}
	id := creds.ID
	return AuditInfo{ActorKind: ActorKindUser, UserID: &id, TenantID: creds.TenantID, RequestID: requestID}, nil
}

// Anonymous is the actor of unauthenticated requests such as the tenant welcome page.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System is the actor of clinicctl batch runs.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}
