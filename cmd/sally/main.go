package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/comigor/sally-go/internal/config"
	"github.com/comigor/sally-go/internal/controller"
	"github.com/comigor/sally-go/internal/logger"
	"github.com/comigor/sally-go/internal/profile"
	"github.com/comigor/sally-go/internal/session"
	"github.com/comigor/sally-go/internal/storage"
	"github.com/comigor/sally-go/internal/stream"
	"github.com/comigor/sally-go/internal/transport"
)

// printingTransport tees streamed deltas to stdout before handing them to
// the controller's own delta routing.
type printingTransport struct {
	inner *transport.Client
}

func (p *printingTransport) Send(ctx context.Context, req transport.SendRequest, onDelta stream.DeltaFunc) (string, error) {
	return p.inner.Send(ctx, req, func(delta, full string, first bool) {
		fmt.Print(delta)
		if onDelta != nil {
			onDelta(delta, full, first)
		}
	})
}

func main() {
	healthOnly := flag.Bool("health", false, "Check backend connectivity and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	// Wire the stack: storage → session store + profile → transport → controller
	kv := storage.New(cfg.Storage.Path)
	defer kv.Close()

	store := session.NewStore(kv)
	profiles := profile.NewManager(kv)
	store.EnsureDisplayName(profiles.Profile().PreferredName())

	client := transport.NewClient(transport.Options{
		BaseURL:        cfg.Backend.BaseURL,
		Streaming:      cfg.Backend.Streaming,
		RequestTimeout: cfg.Backend.RequestTimeout(),
		HealthTimeout:  cfg.Backend.HealthTimeout(),
	})

	if *healthOnly {
		if err := client.Health(context.Background()); err != nil {
			fmt.Println("backend unreachable:", err)
			os.Exit(1)
		}
		fmt.Println("connected to backend")
		return
	}

	ctrl := controller.New(store, &printingTransport{inner: client}, cfg.Guidance, func(active bool) {
		if active {
			fmt.Print("sally is thinking...\r")
		}
	})

	runREPL(store, profiles, client, ctrl)
}

func runREPL(store *session.Store, profiles *profile.Manager, client *transport.Client, ctrl *controller.Controller) {
	ctx := context.Background()

	active := store.ActiveSession()
	for _, m := range active.Messages {
		printMessage(m)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("\n> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(ctx, line, store, profiles, client, ctrl); quit {
				return
			}
			fmt.Print("\n> ")
			continue
		}

		if line != "" {
			err := ctrl.Send(ctx, line, profiles.Role(), profiles.Profile().Preference())
			if err != nil || !client.StreamingEnabled() {
				// failures are already recorded in the conversation; plain
				// mode prints the settled reply in one piece
				printLastMessage(store)
			}
			fmt.Println()
		}
		fmt.Print("\n> ")
	}
}

func handleCommand(ctx context.Context, line string, store *session.Store, profiles *profile.Manager, client *transport.Client, ctrl *controller.Controller) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/new":
		sesh := store.CreateSession(profiles.Profile().PreferredName())
		fmt.Println("started session", sesh.ID)
		printMessage(sesh.Messages[0])
	case "/sessions":
		activeID := store.ActiveID()
		for _, s := range store.Sessions() {
			marker := "  "
			if s.ID == activeID {
				marker = "* "
			}
			fmt.Printf("%s%s\t%s\t%d messages\n", marker, s.ID, s.UserDisplayName, len(s.Messages))
		}
	case "/select":
		if len(args) == 1 {
			store.SelectSession(args[0])
			for _, m := range store.ActiveSession().Messages {
				printMessage(m)
			}
		}
	case "/rename":
		if len(args) >= 2 {
			store.RenameSession(args[0], strings.Join(args[1:], " "))
		}
	case "/delete":
		if len(args) == 1 {
			store.DeleteSession(args[0])
		}
	case "/clear":
		store.ClearSession(store.ActiveID())
	case "/retry":
		if payload := lastRetryPayload(store); payload != nil {
			err := ctrl.Retry(ctx, payload)
			if err != nil || !client.StreamingEnabled() {
				printLastMessage(store)
			}
			fmt.Println()
		} else {
			fmt.Println("nothing to retry")
		}
	case "/health":
		if err := client.Health(ctx); err != nil {
			fmt.Println("backend unreachable:", err)
		} else {
			fmt.Println("connected to backend")
		}
	case "/role":
		if len(args) >= 1 {
			profiles.SetRole(strings.Join(args, " "))
		}
		fmt.Println("role:", profiles.Role())
	case "/profile":
		// /profile <name...> [--mode first|full|custom] [--nickname <nick>]
		if len(args) >= 1 {
			p := profiles.Profile()
			var name []string
			for i := 0; i < len(args); i++ {
				switch args[i] {
				case "--mode":
					if i+1 < len(args) {
						i++
						p.Mode = args[i]
					}
				case "--nickname":
					if i+1 < len(args) {
						i++
						p.Nickname = args[i]
					}
				default:
					name = append(name, args[i])
				}
			}
			if len(name) > 0 {
				p.Name = strings.Join(name, " ")
			}
			profiles.SaveProfile(p)
		}
		p := profiles.Profile()
		fmt.Printf("name=%q mode=%s nickname=%q preferred=%q\n", p.Name, p.Mode, p.Nickname, p.PreferredName())
	default:
		fmt.Println("commands: /new /sessions /select /rename /delete /clear /retry /health /role /profile /quit")
	}
	return false
}

// lastRetryPayload finds the most recent error message in the active session.
func lastRetryPayload(store *session.Store) *session.RetryPayload {
	msgs := store.ActiveSession().Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsError() {
			return msgs[i].RetryPayload
		}
	}
	return nil
}

func printLastMessage(store *session.Store) {
	msgs := store.ActiveSession().Messages
	if len(msgs) > 0 {
		printMessage(msgs[len(msgs)-1])
	}
}

func printMessage(m session.Message) {
	who := "you"
	if m.Sender == session.SenderAssistant {
		who = "sally"
	}
	if m.IsError() {
		who = "error"
	}
	fmt.Printf("[%s] %s\n", who, m.Text)
}
