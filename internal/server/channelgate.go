package server

import (
	"context"
	"encoding/json"

	"github.com/riverstone/socketgate/internal/broker"
	"github.com/riverstone/socketgate/internal/pipeline"
	"github.com/riverstone/socketgate/internal/wire"
)

// handleEmit runs a non-control inbound event through the emit stage and
// reports it to any registered OnEvent hook once accepted.
func (s *Session) handleEmit(ctx context.Context, req wire.Request, resp *Responder) {
	authExpired := s.checkAuthExpiry()
	err := s.srv.pipeline.RunEmit(ctx, pipeline.EmitRequest{
		Socket:                s,
		Event:                 req.Event,
		Data:                  req.Data,
		AuthTokenExpiredError: authExpired,
	})
	if err != nil {
		resp.Error(err, nil)
		return
	}
	s.srv.emitEvent(s, req.Event, req.Data)
	resp.End(nil)
}

func (s *Session) handleSubscribe(ctx context.Context, req wire.Request, resp *Responder) {
	var channel string
	if err := json.Unmarshal(req.Data, &channel); err != nil {
		resp.Error(err, nil)
		return
	}

	authExpired := s.checkAuthExpiry()
	err := s.srv.pipeline.RunSubscribe(ctx, pipeline.SubscribeRequest{
		Socket:                s,
		Channel:               channel,
		AuthTokenExpiredError: authExpired,
	})
	if err != nil {
		resp.Error(err, nil)
		return
	}

	if subscriber, ok := s.srv.broker.(broker.Subscriber); ok {
		if err := subscriber.Subscribe(ctx, s, channel); err != nil {
			resp.Error(err, nil)
			return
		}
	}
	s.recordSubscription(channel)
	resp.End(nil)
}

func (s *Session) handleUnsubscribe(ctx context.Context, req wire.Request, resp *Responder) {
	var channel string
	if err := json.Unmarshal(req.Data, &channel); err != nil {
		resp.Error(err, nil)
		return
	}

	if subscriber, ok := s.srv.broker.(broker.Subscriber); ok {
		if err := subscriber.Unsubscribe(ctx, s, channel); err != nil {
			resp.Error(err, nil)
			return
		}
	}
	s.forgetSubscription(channel)
	resp.End(nil)
}

func (s *Session) handlePublish(ctx context.Context, req wire.Request, resp *Responder) {
	if !s.srv.cfg.AllowClientPublish {
		resp.Error(&wire.ClientPublishDisabledError{}, nil)
		return
	}

	var pub wire.PublishRequest
	if err := json.Unmarshal(req.Data, &pub); err != nil {
		resp.Error(err, nil)
		return
	}

	authExpired := s.checkAuthExpiry()
	err := s.srv.pipeline.RunPublishIn(ctx, pipeline.PublishInRequest{
		Socket:                s,
		Channel:               pub.Channel,
		Data:                  pub.Data,
		AuthTokenExpiredError: authExpired,
	})
	if err != nil {
		resp.Error(err, nil)
		return
	}

	var payload any
	if len(pub.Data) > 0 {
		if err := json.Unmarshal(pub.Data, &payload); err != nil {
			resp.Error(err, nil)
			return
		}
	}
	if err := s.srv.broker.Exchange().Publish(ctx, pub.Channel, payload); err != nil {
		resp.Error(err, nil)
		return
	}
	resp.End(nil)
}

func (s *Session) recordSubscription(channel string) {
	s.subMu.Lock()
	s.subscriptions[channel] = struct{}{}
	s.subMu.Unlock()
}

func (s *Session) forgetSubscription(channel string) {
	s.subMu.Lock()
	delete(s.subscriptions, channel)
	s.subMu.Unlock()
}

// Subscriptions returns a snapshot of the session's current channel
// subscriptions.
func (s *Session) Subscriptions() []string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]string, 0, len(s.subscriptions))
	for ch := range s.subscriptions {
		out = append(out, ch)
	}
	return out
}

// Deliver satisfies broker.Session: it runs the publishOut stage and, on
// pass, writes the frame to the transport. A reject (silent or not) simply
// drops the frame for this one subscriber, without affecting delivery to
// any other subscriber of the same publish.
func (s *Session) Deliver(ctx context.Context, channel string, data any) {
	err := s.srv.pipeline.RunPublishOut(ctx, pipeline.PublishOutRequest{
		Socket:  s,
		Channel: channel,
		Data:    data,
	})
	if err != nil {
		return
	}

	frame := wire.PublishEnvelope{
		Event: "#publish",
		Data:  wire.PublishData{Channel: channel, Data: data},
	}
	if err := s.conn.SendObject(frame); err != nil {
		s.srv.emitSessionError(s, err)
	}
}
