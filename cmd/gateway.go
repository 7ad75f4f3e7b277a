package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"wxreply/pkg/bus"
	"wxreply/pkg/channel"
	"wxreply/pkg/channel/wechat"
	"wxreply/pkg/config"
	"wxreply/pkg/dispatch"
	"wxreply/pkg/events"
	"wxreply/pkg/gateway"
	"wxreply/pkg/logger"

	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the webhook gateway",
	Long:  "Serves the platform webhook together with health, readiness and optional admin endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("invalid config:\n%v\n", err)
			return
		}

		appLogger, logCloser, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		defer logCloser.Close()
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		ruleSet, err := buildRuleSet(cfg, appLogger)
		if err != nil {
			log.Error("Rule configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mb := bus.NewMessageBus()
		defer mb.Close()

		publisher, err := startEventForwarding(runCtx, cfg.Events, mb, appLogger)
		if err != nil {
			log.Error("Failed to start event forwarding", "error", err)
			return
		}
		defer publisher.Close()

		dispatcher := dispatch.New(ruleSet,
			dispatch.WithBus(mb),
			dispatch.WithAllowFrom(cfg.WeChat.AllowFrom),
			dispatch.WithLogger(appLogger),
		)

		adapters, err := enabledAdapters(cfg, dispatcher, mb, appLogger)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		svc, err := gateway.NewService(cfg, ruleSet, adapters, mb, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started",
			"addr", cfg.Gateway.Addr(),
			"channels", enabledChannelNames(adapters),
			"rules", ruleSet.Len(),
			"admin", cfg.Admin.Enabled,
			"events", cfg.Events.AMQPURL != "",
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

// startEventForwarding subscribes a forwarder to mb before any request is served. Without a
// broker URL events go to a publisher that only logs them at debug level.
func startEventForwarding(ctx context.Context, cfg config.EventsConfig, mb *bus.MessageBus, log *slog.Logger) (io.Closer, error) {
	var publisher events.Publisher = events.NopPublisher{Log: log.With("component", "events")}

	if url := strings.TrimSpace(cfg.AMQPURL); url != "" {
		amqpPublisher, err := events.NewAMQP(ctx, events.ConnectionOptions{URL: url, Logger: log}, cfg.Exchange)
		if err != nil {
			return nil, fmt.Errorf("connect events broker: %w", err)
		}
		publisher = amqpPublisher
	}

	forwarder := events.NewForwarder(mb, publisher, log)
	subscription := forwarder.Subscribe(ctx)
	go forwarder.Forward(ctx, subscription)

	return publisher, nil
}

func enabledAdapters(cfg *config.Config, dispatcher wechat.Dispatcher, mb *bus.MessageBus, log *slog.Logger) ([]channel.Adapter, error) {
	adapter, err := wechat.NewAdapter(cfg.WeChat, dispatcher, mb, log)
	if err != nil {
		return nil, fmt.Errorf("configure %s channel: %w", dispatch.Channel, err)
	}

	return []channel.Adapter{adapter}, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
