package server

import (
	"context"
	"testing"

	"github.com/riverstone/socketgate/internal/wire"
)

func TestInternalHooksFireBeforePublicHooks(t *testing.T) {
	srv := newTestServer(t)

	var order []string
	srv.SetInternalHooks(InternalHooks{
		OnHandshake:     func(*Session) { order = append(order, "_handshake") },
		OnConnection:    func(*Session) { order = append(order, "_connection") },
		OnDisconnect:    func(*Session, error) { order = append(order, "_disconnect") },
		OnDisconnection: func(*Session, error) { order = append(order, "_disconnection") },
	})
	srv.SetHooks(Hooks{
		OnHandshake:     func(*Session) { order = append(order, "handshake") },
		OnConnection:    func(*Session) { order = append(order, "connection") },
		OnDisconnection: func(*Session, error) { order = append(order, "disconnection") },
	})

	conn := newFakeConn()
	sess := newSession(srv, conn)
	srv.emitHandshake(sess)
	sess.handle(context.Background(), wire.Request{Event: "#handshake", CID: cid(1)})
	sess.disconnect(nil)

	want := []string{
		"_handshake", "handshake",
		"_connection", "connection",
		"_disconnect",
		"_disconnection", "disconnection",
	}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}
