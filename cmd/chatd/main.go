// chatd runs the realtime client engine for one authenticated user and
// exposes a minimal line-oriented console for poking at it during
// development: listing contacts, opening conversations, sending messages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/craftlance/relay/internal/bus"
	"github.com/craftlance/relay/internal/composer"
	"github.com/craftlance/relay/internal/config"
	"github.com/craftlance/relay/internal/daemon"
	"github.com/craftlance/relay/internal/engine"
	"github.com/craftlance/relay/internal/profile"
	"github.com/craftlance/relay/internal/wire"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (default: \"default\")")
	userFlag := flag.String("user", "", "authenticated user id")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *userFlag == "" {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		os.Exit(1)
	}
	token := os.Getenv("RELAY_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: RELAY_TOKEN is not set")
		os.Exit(1)
	}

	var (
		eng  *engine.Engine
		comp *composer.Composer
		b    *bus.Bus
		cfg  *config.Config
	)
	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, UserID: *userFlag, Token: token}),
		fx.Populate(&eng, &comp, &b, &cfg),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Echo live messages onto the console while it is idle at the prompt.
	events, unsub := b.Subscribe("chat.message", cfg.Bus.EventBuffer)
	go func() {
		for evt := range events {
			if msg, ok := evt.Payload.(wire.ChatMessage); ok {
				fmt.Printf("\n<< [%s] %s\n> ", msg.SenderID, msg.Content)
			}
		}
	}()

	console(eng, comp)
	unsub()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// console reads commands from stdin until EOF or "quit".
func console(eng *engine.Engine, comp *composer.Composer) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: contacts | open <user> | close | send <text> | notif | read <id> | readall | quit")

	for fmt.Print("> "); scanner.Scan(); fmt.Print("> ") {
		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")

		switch cmd {
		case "":
		case "quit", "exit":
			return

		case "contacts":
			for _, c := range eng.Contacts() {
				fmt.Printf("  %-12s %-20s unread=%d\n", c.ID, c.DisplayName, c.Unread)
			}

		case "open":
			msgs, err := eng.OpenConversation(context.Background(), rest)
			if err != nil {
				fmt.Printf("  error: %v\n", err)
				continue
			}
			for _, m := range msgs {
				fmt.Printf("  [%s] %s\n", m.SenderID, m.Content)
			}

		case "close":
			eng.CloseConversation()

		case "send":
			peer := eng.ActiveConversation()
			if peer == "" {
				fmt.Println("  no open conversation")
				continue
			}
			comp.SetText(rest)
			if _, err := comp.Send(peer); err != nil {
				fmt.Printf("  error: %v\n", err)
			}

		case "notif":
			fmt.Printf("  unread: %d\n", eng.NotificationUnread())
			for _, n := range eng.Notifications() {
				mark := " "
				if !n.Read {
					mark = "*"
				}
				fmt.Printf("  %s %-10s %s: %s\n", mark, n.ID, n.Title, n.Message)
			}

		case "read":
			eng.MarkNotificationRead(context.Background(), rest)

		case "readall":
			eng.MarkAllNotificationsRead(context.Background())

		default:
			fmt.Printf("  unknown command %q\n", cmd)
		}
	}
}
