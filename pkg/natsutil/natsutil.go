// Package natsutil carries JSON messages over NATS with trace context in
// the headers, plus the reply and redelivery helpers the consumers share.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// AttemptHeader counts deliveries of a message republished by Redeliver.
const AttemptHeader = "X-Attempt"

// MsgPublisher is the part of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// headers exposes a message's headers to the OTel propagator. Keys are
// used as given; nats.Header does not canonicalise them.
type headers struct{ msg *nats.Msg }

func (h headers) Get(key string) string {
	if h.msg.Header == nil {
		return ""
	}
	return h.msg.Header.Get(key)
}

func (h headers) Set(key, val string) {
	if h.msg.Header == nil {
		h.msg.Header = nats.Header{}
	}
	h.msg.Header.Set(key, val)
}

func (h headers) Keys() []string {
	keys := make([]string, 0, len(h.msg.Header))
	for k := range h.msg.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish sends v as JSON on subject with ctx's trace context.
func Publish[T any](ctx context.Context, nc MsgPublisher, subject string, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, headers{msg})
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe decodes each message on subject as T and calls handler with
// the publisher's trace context. Messages that do not decode go to onBad,
// if set, and are otherwise dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, *nats.Msg, T), onBad func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onBad != nil {
				onBad(msg, err)
			}
			return
		}
		handler(ContextFrom(msg), msg, v)
	})
}

// ContextFrom returns a background context carrying the trace context
// injected into msg by Publish.
func ContextFrom(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), headers{msg})
}

// Respond answers a request message with v as JSON. Messages without a
// reply subject are ignored.
func Respond[T any](msg *nats.Msg, v T) error {
	if msg.Reply == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: marshal reply: %w", err)
	}
	return msg.Respond(data)
}

// Attempt is the delivery number of msg, starting at 1.
func Attempt(msg *nats.Msg) int {
	if msg.Header == nil {
		return 1
	}
	if n, err := strconv.Atoi(msg.Header.Get(AttemptHeader)); err == nil && n > 0 {
		return n
	}
	return 1
}

// Redeliver republishes msg to its subject with the attempt count
// incremented. Headers and the reply subject are kept.
func Redeliver(nc MsgPublisher, msg *nats.Msg) error {
	next := nats.NewMsg(msg.Subject)
	next.Data = msg.Data
	next.Reply = msg.Reply
	for k, v := range msg.Header {
		next.Header[k] = append([]string(nil), v...)
	}
	next.Header.Set(AttemptHeader, strconv.Itoa(Attempt(msg)+1))
	if err := nc.PublishMsg(next); err != nil {
		return fmt.Errorf("natsutil: redeliver %s: %w", msg.Subject, err)
	}
	return nil
}
