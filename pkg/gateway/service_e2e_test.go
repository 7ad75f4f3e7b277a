package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"wxreply/pkg/bus"
	"wxreply/pkg/channel"
	"wxreply/pkg/channel/wechat"
	"wxreply/pkg/config"
	"wxreply/pkg/dispatch"
	"wxreply/pkg/envelope"
	"wxreply/pkg/rules"
	"wxreply/pkg/signature"

	"github.com/stretchr/testify/require"
)

func TestGatewayServiceRunE2EWebhookRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Default()
	cfg.WeChat.Token = "e2e-token"
	cfg.Gateway = config.GatewayConfig{Host: "127.0.0.1", Port: freeTCPPort(t)}

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	events, unsubscribe := mb.SubscribeEvents(ctx, 16)
	defer unsubscribe()

	set := rules.New(rules.WithLogger(quietLogger()))
	dispatcher := dispatch.New(set, dispatch.WithBus(mb), dispatch.WithLogger(quietLogger()))
	adapter, err := wechat.NewAdapter(cfg.WeChat, dispatcher, mb, quietLogger())
	require.NoError(t, err)

	svc, err := NewService(cfg, set, []channel.Adapter{adapter}, mb, quietLogger())
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() {
		runErr <- svc.Run(ctx)
	}()

	base := "http://" + cfg.Gateway.Addr()
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, base+"/readyz", 2*time.Second))

	query := signature.NewVerifier(cfg.WeChat.Token).Sign("1234567890", "nonce-1", "echo-me").Query()
	response, err := http.Get(base + "/wechat?" + query.Encode())
	require.NoError(t, err)
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.NoError(t, response.Body.Close())
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, "echo-me", string(body))

	inbound, err := envelope.EncodeInbound(envelope.InboundMessage{
		ToUser:   "gh_123456789abc",
		FromUser: "oUser123456789",
		MsgType:  envelope.KindText,
		Content:  "今天天气怎么样",
		MsgID:    "42",
	})
	require.NoError(t, err)

	response, err = http.Post(base+"/wechat", "application/xml", strings.NewReader(inbound))
	require.NoError(t, err)
	body, err = io.ReadAll(response.Body)
	require.NoError(t, err)
	require.NoError(t, response.Body.Close())
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, envelope.ContentType, response.Header.Get("Content-Type"))
	require.NotEmpty(t, response.Header.Get(requestIDHeader))

	reply, err := envelope.Decode(body)
	require.NoError(t, err)
	require.Equal(t, rules.ReplyWeather, reply.Content)
	require.Equal(t, "oUser123456789", reply.ToUser)

	response, err = http.Post(base+"/wechat", "application/xml", strings.NewReader("<xml><broken>"))
	require.NoError(t, err)
	body, err = io.ReadAll(response.Body)
	require.NoError(t, err)
	require.NoError(t, response.Body.Close())
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, envelope.AckBody, string(body))

	sawReply := false
	deadline := time.After(time.Second)
	for !sawReply {
		select {
		case event := <-events:
			if event.Type == bus.EventReplySent {
				sawReply = true
				require.Equal(t, "42", event.MsgID)
				require.NotEmpty(t, event.RequestID)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reply_sent event")
		}
	}

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func TestGatewayServiceRunFailsOnBusyPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	cfg := config.Default()
	cfg.Gateway = config.GatewayConfig{Host: "127.0.0.1", Port: listener.Addr().(*net.TCPAddr).Port}

	svc, err := NewService(cfg, rules.New(rules.WithLogger(quietLogger())), []channel.Adapter{stubAdapter{name: "stub"}}, nil, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = svc.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "start gateway server")
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
