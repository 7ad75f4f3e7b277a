package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wxreply/pkg/config"
	"wxreply/pkg/signature"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	defaultSignEcho = "test_echo_string"
	nonceLength     = 10
)

var (
	signToken     string
	signTimestamp string
	signNonce     string
	signEcho      string
	signBaseURL   string
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Generate a signed verification request",
	Long:  "Computes the handshake signature for a token, timestamp and nonce and prints a ready-made verification URL. Timestamp and nonce are generated when omitted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		token := strings.TrimSpace(signToken)
		if token == "" {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			token = cfg.WeChat.Token
		}
		if token == "" {
			return errors.New("no token: pass --token or set WECHAT_TOKEN")
		}

		req := signedRequest(token, signTimestamp, signNonce, signEcho, time.Now())
		return printSignedRequest(cmd.OutOrStdout(), req, signBaseURL)
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().StringVar(&signToken, "token", "", "shared webhook token (defaults to config)")
	signCmd.Flags().StringVar(&signTimestamp, "timestamp", "", "timestamp to sign (defaults to now)")
	signCmd.Flags().StringVar(&signNonce, "nonce", "", "nonce to sign (defaults to a random string)")
	signCmd.Flags().StringVar(&signEcho, "echo", defaultSignEcho, "echostr the server should return")
	signCmd.Flags().StringVar(&signBaseURL, "url", "http://localhost:5000"+config.DefaultWebhookPath, "webhook URL the query is appended to")
}

func signedRequest(token string, timestamp string, nonce string, echo string, now time.Time) signature.Request {
	if timestamp == "" {
		timestamp = strconv.FormatInt(now.Unix(), 10)
	}
	if nonce == "" {
		nonce = randomNonce()
	}

	return signature.NewVerifier(token).Sign(timestamp, nonce, echo)
}

func randomNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:nonceLength]
}

func printSignedRequest(w io.Writer, req signature.Request, baseURL string) error {
	target, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parse --url: %w", err)
	}
	target.RawQuery = req.Query().Encode()

	fmt.Fprintf(w, "signature: %s\n", req.Signature)
	fmt.Fprintf(w, "timestamp: %s\n", req.Timestamp)
	fmt.Fprintf(w, "nonce:     %s\n", req.Nonce)
	fmt.Fprintf(w, "echostr:   %s\n", req.Echo)
	fmt.Fprintf(w, "\ncurl '%s'\n", target.String())
	return nil
}
