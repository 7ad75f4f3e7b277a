// Package dispatch turns one raw webhook body into the HTTP body the platform should receive.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wxreply/pkg/bus"
	"wxreply/pkg/envelope"
	"wxreply/pkg/failure"
	"wxreply/pkg/logger"
	"wxreply/pkg/rules"
)

// AckContentType accompanies the "success" acknowledgement body.
const AckContentType = "text/plain; charset=utf-8"

// Channel names the transport on published events.
const Channel = "wechat"

// Disposition says why a message produced the body it did.
type Disposition string

const (
	Replied          Disposition = "replied"
	NoMatch          Disposition = "no_match"
	NonText          Disposition = "non_text"
	SenderNotAllowed Disposition = "sender_not_allowed"
	Failed           Disposition = "failed"
)

// ReplyFinder is the rule lookup the dispatcher needs.
type ReplyFinder interface {
	FindReply(text string) (rules.Match, bool)
}

// Outcome is the result of one dispatch. Body is never empty.
type Outcome struct {
	Body        string
	ContentType string
	Disposition Disposition
	Message     envelope.InboundMessage
	Rule        string
	Reply       string
	// Reason holds the absorbed failure when Disposition is Failed.
	Reason error
}

// Replied reports whether Body is a reply envelope rather than an acknowledgement.
func (o Outcome) Replied() bool {
	return o.Disposition == Replied
}

type Option func(*Dispatcher)

func WithBus(mb *bus.MessageBus) Option {
	return func(d *Dispatcher) {
		d.bus = mb
	}
}

// WithAllowFrom restricts replies to the listed sender ids. An empty list allows everyone.
func WithAllowFrom(senders []string) Option {
	return func(d *Dispatcher) {
		for _, sender := range senders {
			if sender = strings.TrimSpace(sender); sender != "" {
				d.allow[sender] = struct{}{}
			}
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithClock overrides the time source used for reply CreateTime.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

type Dispatcher struct {
	finder ReplyFinder
	bus    *bus.MessageBus
	allow  map[string]struct{}
	now    func() time.Time
	log    *slog.Logger
}

func New(finder ReplyFinder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		finder: finder,
		allow:  make(map[string]struct{}),
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "dispatch")

	return d
}

// Dispatch never fails: every problem degrades to the "success" acknowledgement, with the
// cause kept in Outcome.Reason for the caller to log.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = acknowledge(out.Message, Failed, failure.New(failure.Internal, fmt.Sprintf("dispatch panic: %v", rec)))
		}
		d.publishOutcome(ctx, out)
	}()

	msg, err := envelope.Decode(raw)
	if err != nil {
		return acknowledge(envelope.InboundMessage{}, Failed, err)
	}

	d.publish(ctx, bus.Event{
		Type:     bus.EventMessageReceived,
		FromUser: msg.FromUser,
		MsgID:    msg.MsgID,
		Payload:  map[string]string{"msg_type": msg.MsgType},
	})

	if !d.allowed(msg.FromUser) {
		return acknowledge(msg, SenderNotAllowed, nil)
	}

	if msg.MsgType != envelope.KindText {
		return acknowledge(msg, NonText, nil)
	}

	match, ok := d.finder.FindReply(strings.TrimSpace(msg.Content))
	if !ok {
		return acknowledge(msg, NoMatch, nil)
	}

	body, err := envelope.Encode(envelope.OutboundMessage{
		ToUser:   msg.FromUser,
		FromUser: msg.ToUser,
		Content:  match.Reply,
	}, d.now())
	if err != nil {
		out := acknowledge(msg, Failed, err)
		out.Rule = match.Rule
		return out
	}

	logger.FromContext(ctx, d.log).Debug("Matched reply rule", "rule", match.Rule, "from_user", msg.FromUser)

	return Outcome{
		Body:        body,
		ContentType: envelope.ContentType,
		Disposition: Replied,
		Message:     msg,
		Rule:        match.Rule,
		Reply:       match.Reply,
	}
}

func acknowledge(msg envelope.InboundMessage, disposition Disposition, reason error) Outcome {
	return Outcome{
		Body:        envelope.AckBody,
		ContentType: AckContentType,
		Disposition: disposition,
		Message:     msg,
		Reason:      reason,
	}
}

func (d *Dispatcher) allowed(sender string) bool {
	if len(d.allow) == 0 {
		return true
	}
	_, ok := d.allow[sender]
	return ok
}

func (d *Dispatcher) publishOutcome(ctx context.Context, out Outcome) {
	event := bus.Event{
		Type:     bus.EventMessageAcknowledged,
		FromUser: out.Message.FromUser,
		MsgID:    out.Message.MsgID,
		Payload:  map[string]string{"disposition": string(out.Disposition)},
	}
	if out.Replied() {
		event.Type = bus.EventReplySent
		event.Payload["rule"] = out.Rule
	}
	if out.Reason != nil {
		event.Error = out.Reason.Error()
		event.Payload["category"] = failure.CategoryOf(out.Reason)
	}

	d.publish(ctx, event)
}

func (d *Dispatcher) publish(ctx context.Context, event bus.Event) {
	if d.bus == nil {
		return
	}
	event.Channel = Channel
	event.RequestID = logger.RequestID(ctx)
	d.bus.PublishEvent(ctx, event)
}
