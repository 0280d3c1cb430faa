package socketgate_test

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/riverstone/socketgate/internal/server"
	"github.com/riverstone/socketgate/internal/token"
	"github.com/riverstone/socketgate/internal/wire"
)

// frame is the superset shape a client needs to decode either a correlated
// reply or a pushed publish, since the wire itself distinguishes them only
// by which fields are present.
type frame struct {
	RID   *int64          `json:"rid,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *wire.Error     `json:"error,omitempty"`
}

func send(conn *websocket.Conn, event string, data any, rid int64) {
	req := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
		CID   int64  `json:"cid,omitempty"`
	}{Event: event, Data: data, CID: rid}
	Expect(conn.WriteJSON(req)).To(Succeed())
}

func recv(conn *websocket.Conn) frame {
	var f frame
	Expect(conn.ReadJSON(&f)).To(Succeed())
	return f
}

// recvReply drains frames until it finds the correlated reply for rid,
// tolerating interleaved pushes the same way a real client's dispatcher
// would.
func recvReply(conn *websocket.Conn, rid int64) frame {
	for i := 0; i < 10; i++ {
		f := recv(conn)
		if f.RID != nil && *f.RID == rid {
			return f
		}
	}
	Fail(fmt.Sprintf("no reply for rid %d after 10 frames", rid))
	return frame{}
}

var _ = Describe("Handshake and session lifecycle", func() {
	It("opens unauthenticated when no token is supplied", func() {
		conn := dial()
		defer conn.Close()

		send(conn, "#handshake", nil, 1)
		reply := recvReply(conn, 1)

		Expect(reply.Error).To(BeNil())
		var ack wire.HandshakeAck
		Expect(json.Unmarshal(reply.Data, &ack)).To(Succeed())
		Expect(ack.ID).NotTo(BeEmpty())
		Expect(ack.IsAuthenticated).To(BeFalse())
	})

	It("authenticates when handshake carries a valid token", func() {
		signed, err := gw.SignToken(token.Payload{"sub": "alice"})
		Expect(err).NotTo(HaveOccurred())

		conn := dial()
		defer conn.Close()

		send(conn, "#handshake", map[string]string{"authToken": signed}, 1)
		reply := recvReply(conn, 1)

		var ack wire.HandshakeAck
		Expect(json.Unmarshal(reply.Data, &ack)).To(Succeed())
		Expect(ack.IsAuthenticated).To(BeTrue())
		Expect(ack.AuthError).To(BeNil())
	})

	It("opens unauthenticated and reports authError when the token is already expired", func() {
		signed, err := gw.SignToken(token.Payload{
			"sub": "bob",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		Expect(err).NotTo(HaveOccurred())

		conn := dial()
		defer conn.Close()

		send(conn, "#handshake", map[string]string{"authToken": signed}, 1)
		reply := recvReply(conn, 1)

		Expect(reply.Error).To(BeNil(), "an expired token is a soft failure, not a handshake rejection")
		var ack wire.HandshakeAck
		Expect(json.Unmarshal(reply.Data, &ack)).To(Succeed())
		Expect(ack.IsAuthenticated).To(BeFalse())
		Expect(ack.AuthError).NotTo(BeNil())
		Expect(ack.AuthError.Name).To(Equal("TokenExpired"))
	})
})

var _ = Describe("Channel gate", func() {
	It("delivers a published message to a subscriber", func() {
		subscriber := dial()
		defer subscriber.Close()
		send(subscriber, "#handshake", nil, 1)
		recvReply(subscriber, 1)
		send(subscriber, "#subscribe", "room1", 2)
		Expect(recvReply(subscriber, 2).Error).To(BeNil())

		publisher := dial()
		defer publisher.Close()
		send(publisher, "#handshake", nil, 1)
		recvReply(publisher, 1)
		send(publisher, "#publish", map[string]any{"channel": "room1", "data": map[string]string{"msg": "hi"}}, 2)
		Expect(recvReply(publisher, 2).Error).To(BeNil())

		var pushed frame
		Eventually(func() string {
			pushed = recv(subscriber)
			return pushed.Event
		}).WithTimeout(2 * time.Second).Should(Equal("#publish"))

		var data wire.PublishData
		Expect(json.Unmarshal(pushed.Data, &data)).To(Succeed())
		Expect(data.Channel).To(Equal("room1"))
	})

	It("rejects a subscribe to a silently-blocked channel with SilentMiddlewareBlocked", func() {
		conn := dial()
		defer conn.Close()
		send(conn, "#handshake", nil, 1)
		recvReply(conn, 1)

		send(conn, "#subscribe", "forbidden", 2)
		reply := recvReply(conn, 2)

		Expect(reply.Error).NotTo(BeNil())
		Expect(reply.Error.Name).To(Equal("SilentMiddlewareBlocked"))
	})

	It("rejects a subscribe to a denied channel with the gate's own error", func() {
		conn := dial()
		defer conn.Close()
		send(conn, "#handshake", nil, 1)
		recvReply(conn, 1)

		send(conn, "#subscribe", "denied", 2)
		reply := recvReply(conn, 2)

		Expect(reply.Error).NotTo(BeNil())
		Expect(reply.Error.Message).To(ContainSubstring("denied"))
	})

	It("rejects publishIn on a read-only channel", func() {
		conn := dial()
		defer conn.Close()
		send(conn, "#handshake", nil, 1)
		recvReply(conn, 1)

		send(conn, "#publish", map[string]any{"channel": "readonly", "data": 1}, 2)
		reply := recvReply(conn, 2)

		Expect(reply.Error).NotTo(BeNil())
		Expect(reply.Error.Message).To(ContainSubstring("read-only"))
	})

	It("re-checks auth expiry on a gated event mid-session", func() {
		// JWT exp claims have one-second granularity, so the token needs a
		// comfortably-future expiry for the handshake to verify it, and a
		// sleep past that expiry for the gated re-check to catch it.
		signed, err := gw.SignToken(token.Payload{
			"sub": "carol",
			"exp": time.Now().Add(2 * time.Second).Unix(),
		})
		Expect(err).NotTo(HaveOccurred())

		conn := dial()
		defer conn.Close()
		send(conn, "#handshake", map[string]string{"authToken": signed}, 1)
		ack := recvReply(conn, 1)
		var handshakeAck wire.HandshakeAck
		Expect(json.Unmarshal(ack.Data, &handshakeAck)).To(Succeed())
		Expect(handshakeAck.IsAuthenticated).To(BeTrue())

		time.Sleep(3 * time.Second)

		send(conn, "#subscribe", "expiry-gated", 2)
		reply := recvReply(conn, 2)

		Expect(reply.Error).NotTo(BeNil())
		Expect(reply.Error.Name).To(Equal("AuthTokenExpired"))
	})
})

var _ = Describe("Handshake timeout", func() {
	It("reports HandshakeTimeout on a session's error sink when the ack never arrives", func() {
		cfg := server.DefaultConfig()
		cfg.AuthKey = []byte(signingSecret)
		cfg.AckTimeout = 100 * time.Millisecond

		errs := make(chan error, 1)
		srv, err := server.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		srv.SetHooks(server.Hooks{OnError: func(_ *server.Session, err error) { errs <- err }})

		ts := httptest.NewServer(srv)
		defer ts.Close()

		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Eventually(errs).WithTimeout(2 * time.Second).Should(Receive(WithTransform(
			func(err error) string { return err.Error() },
			ContainSubstring("timed out"),
		)))
	})
})
