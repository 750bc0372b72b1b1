package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-dev/tether/internal/errors"
	"github.com/vango-dev/tether/pkg/client"
	"github.com/vango-dev/tether/pkg/protocol"
)

type connectFlags struct {
	url      string
	token    string
	check    []string
	generate int
	timeout  time.Duration
}

func connectCmd(global *globalFlags) *cobra.Command {
	flags := &connectFlags{}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a client session and send username requests",
		Long: `Open a client session to a tether server.

With --check or --generate the requests are sent, the replies printed,
and the command exits. Otherwise each line read from stdin is sent: the
word "gen" asks for a suggestion and anything else is checked for
availability.

Requests made while the connection is down are queued and sent once it
is back.

Examples:
  tether connect --check river_fox --check admin
  tether connect --generate 3
  echo gen | tether connect --url ws://localhost:9000/ws`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), global)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				cfg.Client.URL = flags.url
			}
			if cmd.Flags().Changed("token") {
				cfg.Client.Token = flags.token
			}
			cc, err := cfg.ClientConfig()
			if err != nil {
				return err
			}
			if err := cc.Validate(); err != nil {
				return errors.New("T200").Wrap(err)
			}
			logger, err := newLogger(cfg.Log, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			opts := []client.Option{
				client.WithLogger(logger),
				client.OnReconnect(func(d time.Duration) {
					logger.Info("reconnecting", "delay", d)
				}),
			}
			if cfg.Client.Token != "" {
				opts = append(opts, client.WithHeader(http.Header{
					"Authorization": {"Bearer " + cfg.Client.Token},
				}))
			}

			replies := make(chan protocol.BackendMessage, 16)
			m := client.NewManager(cc, client.RouterFunc(func(msg protocol.BackendMessage) {
				replies <- msg
			}), opts...)
			m.Start()
			defer m.Close()

			requests := batchRequests(flags.check, flags.generate)
			if len(requests) > 0 {
				return runBatch(ctx, m, requests, replies, flags.timeout, cmd.OutOrStdout())
			}
			return runInteractive(ctx, m, cmd.InOrStdin(), replies, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.url, "url", "", "Server WebSocket URL (default from config)")
	cmd.Flags().StringVar(&flags.token, "token", "", "Bearer token for authenticated sessions")
	cmd.Flags().StringArrayVar(&flags.check, "check", nil, "Username to check (repeatable)")
	cmd.Flags().IntVar(&flags.generate, "generate", 0, "Number of usernames to generate")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "How long to wait for replies")

	return cmd
}

// batchRequests turns the command-line flags into app messages.
func batchRequests(check []string, generate int) []protocol.AppMessage {
	var msgs []protocol.AppMessage
	for _, name := range check {
		msgs = append(msgs, protocol.CheckUsernameAvailability{Username: protocol.Username(name)})
	}
	for i := 0; i < generate; i++ {
		msgs = append(msgs, protocol.GenerateUsername{})
	}
	return msgs
}

// parseLine maps one line of input to a request. Blank lines yield nil.
func parseLine(line string) protocol.AppMessage {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return nil
	case "gen":
		return protocol.GenerateUsername{}
	default:
		return protocol.CheckUsernameAvailability{Username: protocol.Username(line)}
	}
}

// send reports the request state of one message.
func send(m *client.Manager, msg protocol.AppMessage, out io.Writer) bool {
	switch state := client.StateFromError(m.Send(msg)); state {
	case client.RequestOffline:
		fmt.Fprintf(out, "queued %s (offline)\n", msg.Kind())
		return true
	case client.RequestError:
		fmt.Fprintf(out, "failed %s, retry once reconnected\n", msg.Kind())
		return false
	default:
		return true
	}
}

func printReply(msg protocol.BackendMessage, out io.Writer) {
	switch r := msg.(type) {
	case protocol.UsernameAvailability:
		status := "taken"
		if r.Available {
			status = "available"
		}
		fmt.Fprintf(out, "%s: %s\n", r.Username, status)
	case protocol.GeneratedUsername:
		fmt.Fprintf(out, "suggested: %s\n", r.Username)
	default:
		fmt.Fprintf(out, "received %s\n", msg.Kind())
	}
}

func runBatch(ctx context.Context, m *client.Manager, requests []protocol.AppMessage, replies <-chan protocol.BackendMessage, timeout time.Duration, out io.Writer) error {
	pending := 0
	for _, msg := range requests {
		if send(m, msg, out) {
			pending++
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for pending > 0 {
		select {
		case msg := <-replies:
			printReply(msg, out)
			pending--
		case <-deadline.C:
			return errors.New("T300").WithDetail(fmt.Sprintf("%d replies still outstanding after %s.", pending, timeout))
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func runInteractive(ctx context.Context, m *client.Manager, in io.Reader, replies <-chan protocol.BackendMessage, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if msg := parseLine(line); msg != nil {
				send(m, msg, out)
			}
		case msg := <-replies:
			printReply(msg, out)
		case <-ctx.Done():
			return nil
		}
	}
}
