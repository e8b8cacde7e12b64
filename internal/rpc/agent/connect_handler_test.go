package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bufbuild/connect-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	llmmock "github.com/netoneko/meow/internal/llm/mock"
	"github.com/netoneko/meow/internal/rpc"
	"github.com/netoneko/meow/internal/rpc/connectjson"
)

func TestConnectHandlerStreamsEvents(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{llmmock.Complete("hello back")}}
	path, handler := NewConnectHandler(NewAgentRunner(newTestAgent(t, s), nil), nil)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open listener in sandbox: %v", err)
	}

	server := httptest.NewUnstartedServer(h2c.NewHandler(mux, &http2.Server{}))
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)

	client := connect.NewClient[rpc.RunTurnStreamRequest, rpc.Event](
		&http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
		server.URL+path,
		connect.WithCodec(connectjson.Codec{}),
	)

	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&rpc.RunTurnStreamRequest{
		Run: &rpc.RunTurnRequest{SessionID: "conn-1", Prompt: "hello world"},
	}))
	require.NoError(t, stream.CloseRequest())

	var messageSeen, doneSeen bool
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.Equal(t, "conn-1", evt.SessionID)
		switch evt.Type {
		case rpc.EventMessage:
			messageSeen = true
			require.Equal(t, "hello back", evt.Message)
		case rpc.EventDone:
			doneSeen = true
		}
	}
	require.NoError(t, stream.CloseResponse())
	require.True(t, messageSeen)
	require.True(t, doneSeen)
}
