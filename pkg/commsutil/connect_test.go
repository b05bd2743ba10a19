package commsutil

import (
	"context"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const connectTestPrefix = "commsutil:connect_test"

func TestConnect_InvalidURL(t *testing.T) {
	nc, err := Connect("invalid://not-a-nats-server", "test-client")
	if err == nil {
		if nc != nil {
			nc.Close()
		}
		t.Fatalf("%s - expected error for invalid URL", connectTestPrefix)
	}
	if nc != nil {
		t.Errorf("%s - expected nil connection on error", connectTestPrefix)
	}
}

func TestCall_RoundTripWithHeaders(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", connectTestPrefix, err)
	}
	go ns.Start()
	defer ns.Shutdown()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", connectTestPrefix)
	}

	nc, err := Connect(ns.ClientURL(), "call-test")
	if err != nil {
		t.Fatalf("%s - connect failed: %v", connectTestPrefix, err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe("rpc.test.jsonrpc", func(msg *comms.Msg) {
		msg.Respond([]byte(msg.Header.Get(HeaderUser) + ":" + string(msg.Data)))
	})
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", connectTestPrefix, err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := Call(ctx, nc, "rpc.test.jsonrpc", []byte("ping"), map[string]string{
		HeaderUser:   "alice",
		HeaderGroups: "",
	})
	if err != nil {
		t.Fatalf("%s - Call failed: %v", connectTestPrefix, err)
	}
	if string(reply) != "alice:ping" {
		t.Errorf("%s - reply = %q, want %q", connectTestPrefix, reply, "alice:ping")
	}
}
