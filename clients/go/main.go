// chatmesh CLI - interactive chat client for a chatmesh authority
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatmesh/clients/go/chatmesh"
	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/config"
	"github.com/eldtechnologies/chatmesh/internal/ids"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/participant"
	"github.com/eldtechnologies/chatmesh/internal/presence"
	"github.com/eldtechnologies/chatmesh/internal/store"
	"github.com/eldtechnologies/chatmesh/internal/transport"
)

func main() {
	cmd := "chat"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	cfg := config.Load()
	client := chatmesh.NewClient(cfg.ServerURL)
	ctx := context.Background()

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "channels":
		resp, err := client.ListChannels(ctx)
		exitOnError(err)
		for _, ch := range resp.Channels {
			fmt.Printf("  %-10s %s  max %d chars\n", ch.ID, ch.Prefix, ch.MaxMessageLength)
		}

	case "chat":
		exitOnError(chat(cfg, client))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`chatmesh CLI - multi-channel chat client

Usage: chatmesh [command]

Commands:
  chat        Interactive chat session (default)
  channels    List subscribable channels
  health      Check server health

Chat commands:
  /join <channel>        Ask the authority to subscribe you
  /leave <channel>       Ask the authority to unsubscribe you
  /ch <channel>          Switch the active channel
  /history [channel]     Show buffered history
  /clear [channel]       Clear buffered history
  /move <x> <y> <z>      Update your position
  /area <id>             Update your area
  /subs                  List subscriptions
  /quit                  Leave the session
  <text>                 Send on the active channel

Environment:
  SERVER_URL      Authority HTTP URL (default: http://localhost:$PORT)
  REDIS_URL       Transport (required for chat)
  PARTICIPANT_ID  Participant UUID (default: random)
  DISPLAY_NAME    Display name (required for chat)
  HISTORY_SIZE    Per-channel history size (default: 100)
  CATALOG_FILE    Channel catalog YAML (default: built-in channels)`)
}

// console renders manager notifications.
type console struct{}

func (c console) OnEnvelopeReceived(env models.Envelope) {
	fmt.Printf("\r%s %s %s: %s\n> ", env.Timestamp.Format("15:04:05"), prefixOf(env.Channel), env.SenderDisplayName, env.Content)
}

func (c console) OnSubscriptionChanged(channel models.ChannelID, subscribed bool) {
	verb := "left"
	if subscribed {
		verb = "joined"
	}
	fmt.Printf("\r* %s %s\n> ", verb, channel)
}

func (c console) OnActiveChannelChanged(channel models.ChannelID) {
	fmt.Printf("\r* now talking in %s\n> ", channel)
}

func prefixOf(ch models.ChannelID) string {
	if cfg, ok := catalog.DefaultFor(ch); ok {
		return cfg.Prefix
	}
	return "[" + ch.String() + "]"
}

// displayName trims raw and checks it against the length the server
// accepts for sender names.
func displayName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", errors.New("DISPLAY_NAME is required for chat")
	}
	if n := utf8.RuneCountInString(name); n > models.MaxDisplayNameLength {
		return "", fmt.Errorf("DISPLAY_NAME is %d characters, at most %d allowed", n, models.MaxDisplayNameLength)
	}
	return name, nil
}

func chat(cfg *config.Config, api *chatmesh.Client) error {
	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required for chat")
	}
	name, err := displayName(cfg.DisplayName)
	if err != nil {
		return err
	}
	id := cfg.ParticipantID
	if id == uuid.Nil {
		id = ids.NewParticipantID()
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source catalog.Source = catalog.DefaultSource{}
	if cfg.CatalogFile != "" {
		source = catalog.FileSource{Path: cfg.CatalogFile}
	}
	cat := catalog.New(source, logger)
	if err := cat.Reload(ctx); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisStore.Close()

	self := presence.NewRegistry()
	if err := self.Upsert(presence.Participant{ID: id, DisplayName: name}); err != nil {
		return err
	}
	if _, err := api.PutPresence(ctx, id, chatmesh.Presence{DisplayName: name}); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = api.DeletePresence(cleanup, id)
	}()

	tc := transport.NewClient(redisStore.Client(), transport.NewRedisBus(redisStore.Client()), logger,
		transport.WithRejectHandler(func(m transport.ControlMessage) {
			fmt.Printf("\r! %s %s rejected: %s\n> ", m.Op, m.Channel, m.Error)
		}))

	mgr := participant.NewManager(id, self, tc, logger,
		participant.WithHistorySize(cfg.HistorySize),
		participant.WithDisplay(console{}))

	ready := make(chan struct{})
	listenErr := make(chan error, 1)
	go func() { listenErr <- tc.Listen(ctx, id, mgr, ready) }()
	select {
	case <-ready:
	case err := <-listenErr:
		return err
	}

	mgr.Initialize(catalog.DefaultSubscriptions, catalog.DefaultActiveChannel, cat)
	fmt.Printf("connected as %s (%s)\n> ", name, id)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-listenErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, mgr, self, api, line); quit {
				return nil
			}
			fmt.Print("> ")
		}
	}
}

func handleLine(ctx context.Context, mgr *participant.Manager, self *presence.Registry, api *chatmesh.Client, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := mgr.Send(ctx, line, mgr.Active()); err != nil {
			fmt.Println("!", err)
		}
		return false
	}

	fields := strings.Fields(line)
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	channelArg := func() (models.ChannelID, bool) {
		if arg(1) == "" {
			return mgr.Active(), true
		}
		ch, err := models.ParseChannelID(arg(1))
		if err != nil {
			fmt.Println("!", err)
			return models.NoChannel, false
		}
		return ch, true
	}

	var err error
	switch fields[0] {
	case "/quit":
		return true
	case "/join", "/leave", "/ch":
		if arg(1) == "" {
			fmt.Printf("usage: %s <channel>\n", fields[0])
			return false
		}
		ch, ok := channelArg()
		if !ok {
			return false
		}
		switch fields[0] {
		case "/join":
			err = mgr.Join(ctx, ch)
		case "/leave":
			err = mgr.Leave(ctx, ch)
		default:
			err = mgr.SetActiveChannel(ch)
		}
	case "/history":
		ch, ok := channelArg()
		if !ok {
			return false
		}
		for _, env := range mgr.History(ch) {
			fmt.Printf("%s %s %s: %s\n", env.Timestamp.Format("15:04:05"), prefixOf(env.Channel), env.SenderDisplayName, env.Content)
		}
	case "/clear":
		ch, ok := channelArg()
		if !ok {
			return false
		}
		mgr.ClearHistory(ch)
	case "/subs":
		for _, ch := range mgr.Subscriptions() {
			marker := " "
			if ch == mgr.Active() {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, ch)
		}
	case "/move":
		var pos models.Vec3
		if pos.X, err = strconv.ParseFloat(arg(1), 64); err == nil {
			if pos.Y, err = strconv.ParseFloat(arg(2), 64); err == nil {
				pos.Z, err = strconv.ParseFloat(arg(3), 64)
			}
		}
		if err == nil {
			err = updatePresence(ctx, self, api, mgr, func(p *presence.Participant) { p.Position = pos })
		}
	case "/area":
		var area int64
		if area, err = strconv.ParseInt(arg(1), 10, 64); err == nil {
			err = updatePresence(ctx, self, api, mgr, func(p *presence.Participant) { p.AreaID = area })
		}
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
	if err != nil {
		fmt.Println("!", err)
	}
	return false
}

// updatePresence applies fn locally and publishes the result to the authority.
func updatePresence(ctx context.Context, self *presence.Registry, api *chatmesh.Client, mgr *participant.Manager, fn func(*presence.Participant)) error {
	p, ok := self.Get(mgr.ID())
	if !ok {
		return models.ErrNotFound
	}
	fn(&p)
	if err := self.Move(p.ID, p.Position, p.AreaID); err != nil {
		return err
	}
	_, err := api.PutPresence(ctx, p.ID, chatmesh.Presence{
		DisplayName: p.DisplayName,
		Position:    p.Position,
		AreaID:      p.AreaID,
	})
	return err
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
