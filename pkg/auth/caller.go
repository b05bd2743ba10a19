// Package auth carries the caller identity through dispatch and provides the
// authorization predicates procedures are declared with.
package auth

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/morezero/rpc-dispatch/pkg/commsutil"
)

// Caller is the identity a request runs as.
type Caller struct {
	Username    string
	Superuser   bool
	Permissions []string
	Groups      []string
}

// HasPermission reports whether the caller holds perm. Superusers hold every
// permission.
func (c *Caller) HasPermission(perm string) bool {
	return c.Superuser || slices.Contains(c.Permissions, perm)
}

// InGroup reports whether the caller belongs to group. Superusers belong to
// every group.
func (c *Caller) InGroup(group string) bool {
	return c.Superuser || slices.Contains(c.Groups, group)
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller carried by ctx, or nil for anonymous calls.
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}

// CallerFromHeaders builds a caller from trusted transport headers
// (Rpc-User, Rpc-Superuser, Rpc-Permissions, Rpc-Groups). It returns nil
// when no user is named.
func CallerFromHeaders(headers map[string]string) *Caller {
	name := strings.TrimSpace(headers[commsutil.HeaderUser])
	if name == "" {
		return nil
	}
	su, _ := strconv.ParseBool(headers[commsutil.HeaderSuperuser])
	return &Caller{
		Username:    name,
		Superuser:   su,
		Permissions: splitList(headers[commsutil.HeaderPermissions]),
		Groups:      splitList(headers[commsutil.HeaderGroups]),
	}
}

// Headers renders the caller as transport headers, the inverse of
// CallerFromHeaders.
func (c *Caller) Headers() map[string]string {
	h := map[string]string{
		commsutil.HeaderUser:        c.Username,
		commsutil.HeaderPermissions: strings.Join(c.Permissions, ","),
		commsutil.HeaderGroups:      strings.Join(c.Groups, ","),
	}
	if c.Superuser {
		h[commsutil.HeaderSuperuser] = "true"
	}
	return h
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
