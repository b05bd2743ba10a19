// Package commsutil provides COMMS connection helpers and utilities.
package commsutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Header keys carried on RPC request messages.
const (
	HeaderContentType = "Content-Type"
	HeaderUser        = "Rpc-User"
	HeaderPermissions = "Rpc-Permissions"
	HeaderGroups      = "Rpc-Groups"
	HeaderSuperuser   = "Rpc-Superuser"
)

// Connect creates a COMMS connection to the given URL.
func Connect(url, name string, extra ...comms.Option) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, url, name))

	opts := []comms.Option{
		comms.Name(name),
		comms.Timeout(10 * time.Second),
		comms.ReconnectWait(2 * time.Second),
		comms.MaxReconnects(60),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
	}
	opts = append(opts, extra...)

	nc, err := comms.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// Call sends body to subject and waits for the reply. Headers are attached to
// the request message when non-empty.
func Call(ctx context.Context, nc *comms.Conn, subject string, body []byte, headers map[string]string) ([]byte, error) {
	msg := comms.NewMsg(subject)
	msg.Data = body
	for k, v := range headers {
		if v != "" {
			msg.Header.Set(k, v)
		}
	}

	reply, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%s - request to %s failed: %w", logPrefix, subject, err)
	}
	return reply.Data, nil
}
