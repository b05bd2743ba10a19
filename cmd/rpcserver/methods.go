package main

import (
	"context"
	"fmt"
	"time"

	"github.com/morezero/rpc-dispatch/pkg/auth"
	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

func add(a, b int) int { return a + b }

func subtract(a, b int) int { return a - b }

func divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, dispatcher.InvalidParams("division by zero")
	}
	return a / b, nil
}

func echo(value any) any { return value }

func greet(name string, kw registry.Kwargs) string {
	greeting := "Hello"
	if g, ok := kw["greeting"].(string); ok && g != "" {
		greeting = g
	}
	return fmt.Sprintf("%s, %s!", greeting, name)
}

func serverTime(ctx context.Context) string {
	return time.Now().UTC().Format(time.RFC3339)
}

func whoami(ctx context.Context) map[string]any {
	c := auth.CallerFrom(ctx)
	if c == nil {
		return map[string]any{"authenticated": false}
	}
	return map[string]any{
		"authenticated": true,
		"username":      c.Username,
		"superuser":     c.Superuser,
		"permissions":   c.Permissions,
		"groups":        c.Groups,
	}
}

// registerProcedures adds the procedures served by rpcserver.
func registerProcedures(reg *registry.Registry) error {
	stats := func() map[string]any {
		return map[string]any{"methods": reg.Count()}
	}

	decls := []registry.Declaration{
		registry.Procedure(add, registry.WithName("add"), registry.WithArgs("a", "b"), registry.WithDoc(`
			Return the sum of two integers.

			:param a: first operand
			:type a: int
			:param b: second operand
			:type b: int
			:return: a + b
			:rtype: int`)),
		registry.Procedure(subtract, registry.WithName("subtract"), registry.WithArgs("a", "b"),
			registry.WithDoc("Return a minus b.")),
		registry.Procedure(divide, registry.WithName("divide"), registry.WithArgs("a", "b"), registry.WithDoc(`
			Return a divided by b.

			:param a: dividend
			:param b: divisor, must not be zero
			:rtype: float`)),
		registry.Procedure(echo, registry.WithName("echo"), registry.WithArgs("value"),
			registry.WithDoc("Return value unchanged.")),
		registry.Procedure(greet, registry.WithName("greet"), registry.WithArgs("name"),
			registry.WithDoc("Greet name. A \"greeting\" named argument replaces the default salutation.")),
		registry.Procedure(serverTime, registry.WithName("time.now"),
			registry.WithDoc("Return the server time in RFC 3339 format.")),
		registry.Procedure(whoami, registry.WithName("whoami"), auth.RequireAuthenticated(),
			registry.WithDoc("Describe the authenticated caller.")),
		registry.Procedure(stats, registry.WithName("admin.stats"), registry.WithEntryPoint("admin"),
			registry.WithProtocol(registry.JSONRPC), auth.RequireSuperuser(),
			registry.WithDoc("Report registry statistics.")),
	}
	for _, d := range decls {
		if _, err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
