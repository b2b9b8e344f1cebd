// Command chat-cli is a terminal client for community chat. Lines typed on
// stdin are sent to the current room; lines starting with / are commands.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"peersupport-chat/internal/chatclient"
	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/reconcile"
	ws "peersupport-chat/internal/websocket"

	"github.com/spf13/cobra"
)

func main() {
	var (
		url   string
		token string
		name  string
		room  string
	)

	cmd := &cobra.Command{
		Use:   "chat-cli",
		Short: "Chat in community rooms from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("CHAT_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("a bearer token is required (--token or CHAT_TOKEN)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := chatclient.Dial(ctx, url, token, name)
			if err != nil {
				return err
			}
			defer client.Close()

			s := &session{client: client, room: room, out: cmd.OutOrStdout()}
			if err := client.Join(room); err != nil {
				return err
			}
			go s.render(client.Updates())
			return s.readInput(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "gateway websocket URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (defaults to $CHAT_TOKEN)")
	cmd.Flags().StringVar(&name, "name", "me", "display name for your own pending messages")
	cmd.Flags().StringVar(&room, "room", domain.DefaultCommunityID, "room to join on start")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type sender interface {
	Join(room string) error
	Leave(room string) error
	Ping() error
	Send(text, room string) (reconcile.Entry, error)
}

type session struct {
	client sender
	room   string
	out    io.Writer
}

func (s *session) readInput(ctx context.Context, in io.Reader) error {
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
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.handleLine(line)
			if err != nil {
				fmt.Fprintf(s.out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line and reports whether the user asked to quit
func (s *session) handleLine(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := s.client.Send(line, s.room)
		return false, err
	}

	command, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "join":
		if arg == "" {
			arg = domain.DefaultCommunityID
		}
		if err := s.client.Join(arg); err != nil {
			return false, err
		}
		s.room = arg
		fmt.Fprintf(s.out, "* now in %s\n", arg)
	case "leave":
		if arg == "" {
			arg = s.room
		}
		return false, s.client.Leave(arg)
	case "ping":
		return false, s.client.Ping()
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command /%s", command)
	}
	return false, nil
}

func (s *session) render(updates <-chan chatclient.Update) {
	for u := range updates {
		if line := formatUpdate(u); line != "" {
			fmt.Fprintln(s.out, line)
		}
	}
	fmt.Fprintln(s.out, "* disconnected")
}

func formatUpdate(u chatclient.Update) string {
	switch u.Event {
	case ws.EventReceiveMessage:
		if !u.Applied || u.Entry == nil {
			return ""
		}
		return formatEntry(*u.Entry)
	case ws.EventMessageSent:
		if u.Entry == nil {
			return ""
		}
		return fmt.Sprintf("* delivered %s", u.Entry.ID)
	case ws.EventError:
		if u.Error == nil {
			return ""
		}
		return fmt.Sprintf("! %s", u.Error.Message)
	case ws.EventPong:
		return fmt.Sprintf("* pong %d", u.Timestamp)
	}
	return ""
}

func formatEntry(e reconcile.Entry) string {
	status := ""
	switch {
	case e.Pending:
		status = " (sending)"
	case e.Failed:
		status = " (failed: " + e.Reason + ")"
	}
	return fmt.Sprintf("[%s] %s %s: %s%s", e.CommunityID, e.CreatedAt.Local().Format("15:04"), e.SenderName, e.Text, status)
}
