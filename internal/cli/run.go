package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/bufbuild/connect-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/netoneko/meow/internal/rpc"
	agentrpc "github.com/netoneko/meow/internal/rpc/agent"
	"github.com/netoneko/meow/internal/rpc/connectjson"
)

// NewRunCmd wires the run command to stream events from the daemon.
func NewRunCmd(opts *Options) *cobra.Command {
	var (
		sessionID string
		provider  string
		model     string
		transport string
	)

	cmd := &cobra.Command{
		Use:   "run \"<prompt>\"",
		Short: "Send a prompt to the daemon and stream the turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			prompt := args[0]
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("prompt cannot be empty")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if sessionID == "" {
				sessionID = "cli-" + uuid.NewString()
			}
			reqBody := rpc.RunTurnRequest{
				SessionID:     sessionID,
				CorrelationID: uuid.NewString(),
				Provider:      provider,
				Model:         model,
				Prompt:        prompt,
			}

			if transport == "" {
				transport = cfg.Server.Transport
			}
			r := newRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr())
			baseURL := daemonURL(cfg.Server.Addr)
			switch strings.ToLower(strings.TrimSpace(transport)) {
			case "ndjson":
				return runNDJSON(ctx, r, baseURL+"/agent/run", reqBody)
			default:
				return runConnect(ctx, r, baseURL+agentrpc.ConnectRunTurnProcedure, reqBody)
			}
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to continue (default: new session)")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name for this session")
	cmd.Flags().StringVar(&model, "model", "", "Override the provider's model")
	cmd.Flags().StringVar(&transport, "transport", "", "connect or ndjson (default: server.transport)")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runNDJSON(ctx context.Context, r *renderer, url string, reqBody rpc.RunTurnRequest) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		var evt rpc.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := r.event(evt); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func runConnect(ctx context.Context, r *renderer, url string, reqBody rpc.RunTurnRequest) error {
	client := connect.NewClient[rpc.RunTurnStreamRequest, rpc.Event](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&rpc.RunTurnStreamRequest{Run: &reqBody}); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Send(&rpc.RunTurnStreamRequest{Cancel: true, SessionID: reqBody.SessionID, CorrelationID: reqBody.CorrelationID})
			_ = stream.CloseRequest()
		case <-finished:
		}
	}()

	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := r.event(*evt); err != nil {
			return err
		}
	}
	return stream.CloseResponse()
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
