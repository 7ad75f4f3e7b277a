/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wxreply/pkg/config"
	"wxreply/pkg/dispatch"
	"wxreply/pkg/envelope"
	"wxreply/pkg/logger"
	"wxreply/pkg/ui/chat"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	tryFollower = "try-follower"
	tryAccount  = "wxreply-account"
)

var (
	tryText    string
	tryRawXML  bool
	tryVerbose bool
)

// tryCmd represents the try command
var tryCmd = &cobra.Command{
	Use:   "try [text]",
	Short: "Send messages through the rule set locally",
	Long:  "Wraps text in a platform envelope and runs it through the same dispatcher the gateway uses. Without text it opens an interactive console.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := resolveText(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log := quietLogger()
		if tryVerbose {
			appLogger, closer, err := logger.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer closer.Close()
			log = appLogger
		}

		ruleSet, err := buildRuleSet(cfg, log)
		if err != nil {
			return err
		}

		dispatcher := dispatch.New(ruleSet, dispatch.WithLogger(log))
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if tryRawXML {
			if text == "" {
				return errors.New("--xml needs message text")
			}
			out, err := dispatchText(ctx, dispatcher, text, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Body)
			return nil
		}

		info := ruleSet.Info()
		session := chat.SessionInfo{Rules: info.TotalRules, Functions: info.FunctionRules}
		send := trySender(dispatcher)

		if text != "" {
			return chat.RunOneShot(ctx, send, text, session)
		}

		return chat.RunInteractive(ctx, send, session)
	},
}

func init() {
	rootCmd.AddCommand(tryCmd)
	tryCmd.Flags().StringVarP(&tryText, "message", "m", "", "message text to send")
	tryCmd.Flags().BoolVar(&tryRawXML, "xml", false, "print the raw response body instead of the console")
	tryCmd.Flags().BoolVarP(&tryVerbose, "verbose", "v", false, "log with the configured logger")
}

func resolveText(args []string) string {
	if value := strings.TrimSpace(tryText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// dispatchText wraps text in the envelope a follower's message would arrive in.
func dispatchText(ctx context.Context, dispatcher *dispatch.Dispatcher, text string, now time.Time) (dispatch.Outcome, error) {
	raw, err := envelope.EncodeInbound(envelope.InboundMessage{
		ToUser:     tryAccount,
		FromUser:   tryFollower,
		CreateTime: strconv.FormatInt(now.Unix(), 10),
		MsgType:    envelope.KindText,
		Content:    text,
		MsgID:      uuid.NewString(),
	})
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("build envelope: %w", err)
	}

	return dispatcher.Dispatch(logger.WithRequestID(ctx, uuid.NewString()), []byte(raw)), nil
}

func trySender(dispatcher *dispatch.Dispatcher) chat.SendFunc {
	return func(ctx context.Context, text string) (chat.Reply, error) {
		out, err := dispatchText(ctx, dispatcher, text, time.Now())
		if err != nil {
			return chat.Reply{}, err
		}
		if out.Disposition == dispatch.Failed {
			return chat.Reply{}, fmt.Errorf("dispatch failed: %w", out.Reason)
		}

		return chat.Reply{Text: out.Reply, Rule: out.Rule, Reason: string(out.Disposition)}, nil
	}
}
