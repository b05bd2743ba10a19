package auth

import (
	"context"

	"github.com/morezero/rpc-dispatch/pkg/registry"
)

// Authenticated passes for any named caller.
func Authenticated(ctx context.Context, _ ...any) bool {
	c := CallerFrom(ctx)
	return c != nil && c.Username != ""
}

// Superuser passes for superusers only.
func Superuser(ctx context.Context, _ ...any) bool {
	c := CallerFrom(ctx)
	return c != nil && c.Superuser
}

// HasPermission passes when the caller holds every permission in params.
func HasPermission(ctx context.Context, params ...any) bool {
	return matchAll(ctx, params, (*Caller).HasPermission)
}

// HasAllPermissions is HasPermission under the name used for lists.
func HasAllPermissions(ctx context.Context, params ...any) bool {
	return matchAll(ctx, params, (*Caller).HasPermission)
}

// HasAnyPermission passes when the caller holds at least one permission in params.
func HasAnyPermission(ctx context.Context, params ...any) bool {
	return matchAny(ctx, params, (*Caller).HasPermission)
}

// InGroup passes when the caller belongs to every group in params.
func InGroup(ctx context.Context, params ...any) bool {
	return matchAll(ctx, params, (*Caller).InGroup)
}

// InAnyGroup passes when the caller belongs to at least one group in params.
func InAnyGroup(ctx context.Context, params ...any) bool {
	return matchAny(ctx, params, (*Caller).InGroup)
}

func matchAll(ctx context.Context, params []any, has func(*Caller, string) bool) bool {
	c := CallerFrom(ctx)
	if c == nil {
		return false
	}
	for _, p := range params {
		s, ok := p.(string)
		if !ok || !has(c, s) {
			return false
		}
	}
	return true
}

func matchAny(ctx context.Context, params []any, has func(*Caller, string) bool) bool {
	c := CallerFrom(ctx)
	if c == nil {
		return false
	}
	for _, p := range params {
		if s, ok := p.(string); ok && has(c, s) {
			return true
		}
	}
	return false
}

// Declaration options for the common rules.

// RequireAuthenticated restricts a procedure to named callers.
func RequireAuthenticated() registry.Option {
	return registry.WithAuth(Authenticated)
}

// RequireSuperuser restricts a procedure to superusers.
func RequireSuperuser() registry.Option {
	return registry.WithAuth(Superuser)
}

// RequirePermissions restricts a procedure to callers holding every perm.
func RequirePermissions(perms ...string) registry.Option {
	return registry.WithAuth(HasAllPermissions, toAny(perms)...)
}

// RequireAnyPermission restricts a procedure to callers holding one of perms.
func RequireAnyPermission(perms ...string) registry.Option {
	return registry.WithAuth(HasAnyPermission, toAny(perms)...)
}

// RequireGroups restricts a procedure to members of every group.
func RequireGroups(groups ...string) registry.Option {
	return registry.WithAuth(InGroup, toAny(groups)...)
}

// RequireAnyGroup restricts a procedure to members of one of groups.
func RequireAnyGroup(groups ...string) registry.Option {
	return registry.WithAuth(InAnyGroup, toAny(groups)...)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
