package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/netoneko/meow/internal/agent"
	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/logging"
	"github.com/netoneko/meow/internal/tools"
)

const chatHelp = `Commands:
  /provider [name]  show or switch provider
  /model [name]     show or set the model
  /reset            clear the conversation
  /exit             quit
Ctrl-C cancels the running turn.`

// NewChatCmd runs an interactive agent session in-process.
func NewChatCmd(opts *Options) *cobra.Command {
	var (
		sessionID string
		provider  string
		model     string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a local agent that can use tools in the sandbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(logLevel, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			rt, err := agent.Build(cfg, logger, nil, tools.Options{ChangeProcessDir: true})
			if err != nil {
				return err
			}
			sess, err := rt.Agent.Session(sessionID)
			if err != nil {
				return err
			}
			if provider != "" {
				if err := rt.Agent.SwitchProvider(sess, provider); err != nil {
					return err
				}
			}
			if model != "" {
				sess.SetModel(model)
			}

			c := newChat(rt.Agent, sess, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt)
			defer signal.Stop(sigs)
			go func() {
				for range sigs {
					c.interrupt()
				}
			}()

			return c.loop(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: random)")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name (default: default_provider)")
	cmd.Flags().StringVar(&model, "model", "", "Override the provider's model")
	cmd.Flags().StringVar(&logLevel, "log-level", "error", "Log level while chatting")
	return cmd
}

type chat struct {
	agent   *agent.Agent
	session *agent.Session
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	render  *renderer
	logger  *zap.Logger
	busy    atomic.Bool
}

func newChat(a *agent.Agent, s *agent.Session, in io.Reader, out, errOut io.Writer, logger *zap.Logger) *chat {
	r := newRenderer(out, errOut)
	s.Hooks = r.hooks()
	return &chat{agent: a, session: s, in: in, out: out, errOut: errOut, render: r, logger: logger}
}

func (c *chat) loop(ctx context.Context) error {
	fmt.Fprintf(c.out, "meow chat (session %s, provider %s, model %s). /help for commands.\n",
		c.session.ID, c.session.Provider().Name, c.session.Model())

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Fprint(c.out, "meow> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		if quit := c.handle(ctx, scanner.Text()); quit {
			return nil
		}
	}
}

// handle processes one input line and reports whether the chat should end.
func (c *chat) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "/") {
		return c.command(line)
	}

	c.busy.Store(true)
	defer c.busy.Store(false)

	c.render.sawDelta = false
	res, err := c.agent.RunTurn(ctx, c.session, line)
	if err != nil {
		c.render.breakLine()
		if errors.Is(err, agent.ErrTurnCancelled) || llm.KindOf(err) == llm.KindCancelled {
			fmt.Fprintln(c.errOut, "[cancelled]")
		} else {
			fmt.Fprintf(c.errOut, "[error: %v]\n", err)
		}
		return false
	}
	c.render.result(res)
	return false
}

func (c *chat) command(line string) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch fields[0] {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Fprintln(c.out, chatHelp)
	case "/reset":
		c.session.History().Reset()
		fmt.Fprintln(c.out, "conversation cleared")
	case "/provider":
		if arg == "" {
			fmt.Fprintf(c.out, "provider: %s (available: %s)\n", c.session.Provider().Name, strings.Join(c.agent.Providers(), ", "))
			return false
		}
		if err := c.agent.SwitchProvider(c.session, arg); err != nil {
			fmt.Fprintf(c.errOut, "[error: %v]\n", err)
			return false
		}
		fmt.Fprintf(c.out, "provider: %s, model: %s\n", arg, c.session.Model())
	case "/model":
		if arg == "" {
			fmt.Fprintf(c.out, "model: %s\n", c.session.Model())
			return false
		}
		c.session.SetModel(arg)
		fmt.Fprintf(c.out, "model: %s\n", arg)
	default:
		fmt.Fprintf(c.errOut, "unknown command %s; /help lists commands\n", fields[0])
	}
	return false
}

// interrupt cancels the running turn, if any.
func (c *chat) interrupt() {
	if c.busy.Load() {
		c.session.Cancel()
		return
	}
	fmt.Fprintln(c.errOut, "\n(type /exit to quit)")
}
