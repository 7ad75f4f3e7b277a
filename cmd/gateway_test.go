package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"wxreply/pkg/bus"
	channelpkg "wxreply/pkg/channel"
	"wxreply/pkg/config"
	"wxreply/pkg/dispatch"
	"wxreply/pkg/rules"

	"github.com/gorilla/mux"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Mount(_ *mux.Router) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnabledAdaptersRequiresToken(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	dispatcher := dispatch.New(rules.New(rules.WithLogger(testLogger())))
	if _, err := enabledAdapters(cfg, dispatcher, nil, testLogger()); err == nil {
		t.Fatal("expected error when the webhook token is missing")
	}
}

func TestEnabledAdaptersMountsWeChat(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.WeChat.Token = "secret"
	dispatcher := dispatch.New(rules.New(rules.WithLogger(testLogger())))

	adapters, err := enabledAdapters(cfg, dispatcher, nil, testLogger())
	if err != nil {
		t.Fatalf("enabledAdapters: %v", err)
	}
	if got := enabledChannelNames(adapters); got != "wechat" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "wechat")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "wechat"}, testAdapter{name: "work"}}
	if got := enabledChannelNames(adapters); got != "wechat,work" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "wechat,work")
	}
}

func TestStartEventForwardingWithoutBroker(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mb := bus.NewMessageBus()
	defer mb.Close()

	closer, err := startEventForwarding(ctx, config.EventsConfig{Exchange: config.DefaultExchange}, mb, testLogger())
	if err != nil {
		t.Fatalf("startEventForwarding: %v", err)
	}
	defer closer.Close()

	if got := mb.Subscribers(); got != 1 {
		t.Fatalf("Subscribers() = %d, want 1", got)
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for mb.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("forwarder subscription outlived its context")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
