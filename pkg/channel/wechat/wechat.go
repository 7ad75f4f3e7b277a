// Package wechat serves the platform webhook: GET handshakes and POSTed message envelopes.
package wechat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"wxreply/pkg/bus"
	"wxreply/pkg/config"
	"wxreply/pkg/dispatch"
	"wxreply/pkg/envelope"
	"wxreply/pkg/failure"
	"wxreply/pkg/logger"
	"wxreply/pkg/rules"
	"wxreply/pkg/signature"
)

const (
	channelName = "wechat"

	// platform messages are a few KB at most
	maxBodyBytes = 1 << 20

	verificationFailedBody = "signature verification failed"
	verificationErrorBody  = "verification error"
)

// Dispatcher produces the POST response for a raw envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) dispatch.Outcome
}

// Adapter mounts the webhook routes.
type Adapter struct {
	path       string
	verifier   *signature.Verifier
	dispatcher Dispatcher
	bus        *bus.MessageBus
	log        *slog.Logger
}

// NewAdapter validates the webhook configuration. mb may be nil.
func NewAdapter(cfg config.WeChatConfig, dispatcher Dispatcher, mb *bus.MessageBus, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("wechat.token is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = config.DefaultWebhookPath
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("wechat.path must be absolute, got %q", path)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		path:       path,
		verifier:   signature.NewVerifier(token),
		dispatcher: dispatcher,
		bus:        mb,
		log:        log.With("component", "channel.wechat"),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Path is the mounted webhook path.
func (a *Adapter) Path() string {
	return a.path
}

// Mount registers GET (handshake) and POST (messages) on the webhook path. The router answers
// other methods with 405.
func (a *Adapter) Mount(router *mux.Router) {
	router.HandleFunc(a.path, a.handleVerify).Methods(http.MethodGet)
	router.HandleFunc(a.path, a.handleMessage).Methods(http.MethodPost)
	a.log.Info("WeChat webhook mounted", "path", a.path)
}

func (a *Adapter) handleVerify(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), a.log)

	echo, err := a.verify(r)
	switch {
	case err == nil:
		log.Info("Signature verified")
		writeText(w, http.StatusOK, echo)
	case failure.HasCategory(err, failure.VerificationFailed):
		log.Warn("Signature verification failed", "remote_addr", r.RemoteAddr)
		a.publish(r.Context(), bus.Event{Type: bus.EventVerificationFailed, Error: err.Error()})
		writeText(w, http.StatusForbidden, verificationFailedBody)
	default:
		log.Error("Signature verification error", "error", err)
		writeText(w, http.StatusInternalServerError, verificationErrorBody)
	}
}

func (a *Adapter) verify(r *http.Request) (echo string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			echo = ""
			err = failure.New(failure.Internal, fmt.Sprintf("verify panic: %v", rec))
		}
	}()

	req, err := signature.RequestFromQuery(r.URL.Query())
	if err != nil {
		return "", err
	}

	return a.verifier.Handshake(req)
}

func (a *Adapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), a.log)
	started := time.Now()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("Failed to read message body", "error", err)
		writeText(w, http.StatusOK, envelope.AckBody)
		return
	}

	out := a.dispatcher.Dispatch(r.Context(), raw)

	attrs := []any{
		"disposition", string(out.Disposition),
		"msg_type", out.Message.MsgType,
		"from_user", out.Message.FromUser,
		"duration", time.Since(started),
	}
	switch {
	case out.Reason != nil:
		log.Warn("Message acknowledged after failure", append(attrs, "category", failure.CategoryOf(out.Reason), "error", out.Reason)...)
	case out.Replied():
		log.Info("Reply sent", append(attrs, "rule", out.Rule, "reply_preview", rules.Preview(out.Reply))...)
	default:
		log.Info("Message acknowledged", attrs...)
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out.Body)
}

func (a *Adapter) publish(ctx context.Context, event bus.Event) {
	if a.bus == nil {
		return
	}
	event.Channel = channelName
	event.RequestID = logger.RequestID(ctx)
	a.bus.PublishEvent(ctx, event)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
