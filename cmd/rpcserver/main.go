// Package main is the entrypoint for rpcserver.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/gorilla/rpc/v2/json2"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rpc-dispatch/internal/config"
	"github.com/morezero/rpc-dispatch/internal/server"
	"github.com/morezero/rpc-dispatch/pkg/auth"
	"github.com/morezero/rpc-dispatch/pkg/commsutil"
	"github.com/morezero/rpc-dispatch/pkg/events"
	"github.com/morezero/rpc-dispatch/pkg/handlers/xmlrpc"
	"github.com/morezero/rpc-dispatch/pkg/registry"
)

const usage = `Usage: rpcserver [command]
       rpcserver serve                              Start the JSON-RPC and XML-RPC entry points (COMMS, HTTP).
       rpcserver methods [entrypoint] [protocol]    List registered methods and their signatures.
       rpcserver call <subject> <method> [params]   Call a method over COMMS; params is a JSON array or object.
       rpcserver hash <password> [cost]             Print a bcrypt hash for a bootstrap user.

Commands:
  serve     (default) Start the server.
  methods   List methods, optionally for one entry point and protocol (jsonrpc, xmlrpc).
  call      Send one request to an entry point subject, e.g. rpc.api.jsonrpc or rpc.api.xmlrpc.
  hash      Hash a password for the "users" section of the bootstrap file.

Environment: COMMS_URL (default nats://127.0.0.1:4222), RPC_SUBJECT_PREFIX, RPC_BOOTSTRAP_FILE,
RPC_HTTP_ADDR (or HTTP_PORT, default 8080), LOG_LEVEL, OTEL_STDOUT, RPC_DOTENV_FILE (default .env).
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "methods":
		entryPoint, protocol := registry.ALL, ""
		if len(args) > 1 {
			entryPoint = args[1]
		}
		if len(args) > 2 {
			protocol = args[2]
		}
		if err := runMethods(os.Stdout, entryPoint, protocol); err != nil {
			log.Fatalf("rpcserver methods: %v", err)
		}
		return
	case "call":
		if len(args) < 3 {
			log.Fatalf("rpcserver call: require <subject> <method> [params]")
		}
		params := ""
		if len(args) > 3 {
			params = args[3]
		}
		if err := runCall(os.Stdout, args[1], args[2], params); err != nil {
			log.Fatalf("rpcserver call: %v", err)
		}
		return
	case "hash":
		if len(args) < 2 {
			log.Fatalf("rpcserver hash: require <password>")
		}
		cost := 0
		if len(args) > 2 {
			c, err := strconv.Atoi(args[2])
			if err != nil {
				log.Fatalf("rpcserver hash: invalid cost %q", args[2])
			}
			cost = c
		}
		if err := runHash(os.Stdout, args[1], cost); err != nil {
			log.Fatalf("rpcserver hash: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(registerProcedures); err != nil {
		log.Fatalf("rpcserver: %v", err)
	}
}

func parseProtocol(name string) (registry.Protocol, error) {
	switch name {
	case "", "all":
		return registry.ProtocolAll, nil
	case commsutil.TokenJSONRPC:
		return registry.JSONRPC, nil
	case commsutil.TokenXMLRPC:
		return registry.XMLRPC, nil
	}
	return "", fmt.Errorf("unknown protocol %q (use jsonrpc or xmlrpc)", name)
}

func runMethods(w io.Writer, entryPoint, protocol string) error {
	proto, err := parseProtocol(protocol)
	if err != nil {
		return err
	}
	reg, err := server.NewRegistry("rpcserver", &events.NoOpPublisher{}, registerProcedures)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tRETURNS\tENTRY POINTS\tPROTOCOLS")
	for _, m := range reg.ListMethods(entryPoint, proto, true) {
		protocols := make([]string, 0, len(m.Protocols()))
		for _, p := range m.Protocols() {
			protocols = append(protocols, p.String())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m, m.ReturnDoc().Type,
			strings.Join(m.EntryPoints(), ","), strings.Join(protocols, ","))
	}
	return tw.Flush()
}

func runCall(w io.Writer, subject, method, rawParams string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var params any = []any{}
	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return fmt.Errorf("params must be JSON: %w", err)
		}
	}

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	var headers map[string]string
	if user := os.Getenv("RPC_CALL_USER"); user != "" {
		headers = (&auth.Caller{Username: user}).Headers()
	}

	var reply any
	if strings.HasSuffix(subject, "."+commsutil.TokenXMLRPC) {
		reply, err = callXML(ctx, nc, subject, method, params, headers)
	} else {
		reply, err = callJSON(ctx, nc, subject, method, params, headers)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func callJSON(ctx context.Context, nc *comms.Conn, subject, method string, params any, headers map[string]string) (any, error) {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	data, err := commsutil.Call(ctx, nc, subject, body, headers)
	if err != nil {
		return nil, err
	}
	var reply any
	if err := json2.DecodeClientResponse(bytes.NewReader(data), &reply); err != nil && !errors.Is(err, json2.ErrNullResult) {
		return nil, err
	}
	return reply, nil
}

func callXML(ctx context.Context, nc *comms.Conn, subject, method string, params any, headers map[string]string) (any, error) {
	list, ok := params.([]any)
	if !ok {
		return nil, fmt.Errorf("XML-RPC takes positional params only")
	}
	body, err := xmlrpc.EncodeCall(method, list...)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	data, err := commsutil.Call(ctx, nc, subject, body, headers)
	if err != nil {
		return nil, err
	}
	return xmlrpc.DecodeResponse(data)
}

func runHash(w io.Writer, password string, cost int) error {
	hash, err := auth.HashPassword(password, cost)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
