package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpc-dispatch/pkg/auth"
	"github.com/morezero/rpc-dispatch/pkg/commsutil"
	"github.com/morezero/rpc-dispatch/pkg/dispatcher"
)

// serveFunc turns a request body into a response body. A nil response means
// nothing needs to be sent back.
type serveFunc func(ctx context.Context, body []byte) []byte

// Subscribe listens on <prefix>.<entrypoint>.<protocol> for every enabled
// protocol of every entry point. Subscriptions join the configured queue
// group so several instances share the load.
func (s *Server) Subscribe(ctx context.Context) error {
	if s.nc == nil {
		return fmt.Errorf("%s - no COMMS connection", logPrefix)
	}
	for _, e := range s.endpoints {
		if e.json != nil {
			if err := s.subscribe(ctx, e.entry.Name, commsutil.TokenJSONRPC, e.json.Handle); err != nil {
				return err
			}
		}
		if e.xml != nil {
			if err := s.subscribe(ctx, e.entry.Name, commsutil.TokenXMLRPC, e.xml.Handle); err != nil {
				return err
			}
		}
	}
	return nil
}

// Subjects returns the subjects currently subscribed.
func (s *Server) Subjects() []string {
	out := make([]string, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub.Subject)
	}
	return out
}

func (s *Server) subscribe(ctx context.Context, entryPoint, token string, serve serveFunc) error {
	subject := commsutil.BuildEntryPointSubject(s.cfg.SubjectPrefix, entryPoint, token)
	handler := s.commsHandler(ctx, serve)

	var sub *comms.Subscription
	var err error
	if s.cfg.QueueGroup != "" {
		sub, err = s.nc.QueueSubscribe(subject, s.cfg.QueueGroup, handler)
	} else {
		sub, err = s.nc.Subscribe(subject, handler)
	}
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}
	s.subs = append(s.subs, sub)
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))
	return nil
}

// commsHandler serves one request message. The caller identity is taken from
// the Rpc-* headers set by trusted publishers on the bus.
func (s *Server) commsHandler(ctx context.Context, serve serveFunc) comms.MsgHandler {
	return func(msg *comms.Msg) {
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()

		reqCtx = dispatcher.WithTransportMetadata(reqCtx, flattenHeader(msg.Header, true))
		if caller := auth.CallerFromHeaders(flattenHeader(msg.Header, false)); caller != nil {
			reqCtx = auth.WithCaller(reqCtx, caller)
		}

		resp := serve(reqCtx, msg.Data)
		if msg.Reply == "" {
			return
		}
		if resp == nil {
			resp = []byte{}
		}
		if err := msg.Respond(resp); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to respond on %s: %v", logPrefix, msg.Subject, err))
		}
	}
}

// flattenHeader keeps the first value of every header. With lower set, keys
// are lowercased so propagators find "traceparent" whatever the sender's case.
func flattenHeader(h map[string][]string, lower bool) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		if lower {
			k = strings.ToLower(k)
		}
		out[k] = v[0]
	}
	return out
}
