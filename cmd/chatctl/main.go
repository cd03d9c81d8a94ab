// chatctl administers a relay store offline: the relay must be stopped
// before running a command that writes.
package main

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/services"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath    string        `envconfig:"BADGER_FILEPATH" required:"true"`
	JwtSecret         string        `envconfig:"JWT_SECRET" required:"true"`
	AuthTokenDuration time.Duration `envconfig:"AUTH_TOKEN_DURATION" default:"720h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"WARN"`
}

const usage = `usage:
  chatctl user add <username> <name> <password>
  chatctl user token <username> <password>
  chatctl chat create <name> <creator-id> [member-id...]
  chatctl chat list
  chatctl chat members <chat-id>`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		color.Error.Println(err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("%s", usage)
	}

	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	cli := newCLI(log, db, auth.NewTokens(config.JwtSecret, config.AuthTokenDuration), out)
	return cli.dispatch(context.Background(), args)
}

type cli struct {
	out   io.Writer
	chats repositories.IChatRepository
	auth  services.IAuthService
	chat  services.IChatService
}

// newCLI builds the services over an empty registry. The CLI works on the
// store of a stopped relay, so emitted events reach no one; a running relay
// serves the same operations to its clients over the socket.
func newCLI(log *slog.Logger, db *badger.DB, tokens auth.Tokens, out io.Writer) *cli {
	chats := repositories.NewChatRepository(db, log)
	router := runtime.NewRouter(log, runtime.NewRegistry())
	return &cli{
		out:   out,
		chats: chats,
		auth:  services.NewAuthService(repositories.NewUserRepository(db), tokens),
		chat:  services.NewChatService(log, chats, router),
	}
}

func (c *cli) dispatch(ctx context.Context, args []string) error {
	switch args[0] + " " + args[1] {
	case "user add":
		if len(args) != 5 {
			return fmt.Errorf("%s", usage)
		}
		user, token, err := c.auth.Register(args[2], args[3], args[4])
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, color.Success.Sprintf("user %s created", user.ID))
		fmt.Fprintln(c.out, token)
	case "user token":
		if len(args) != 4 {
			return fmt.Errorf("%s", usage)
		}
		token, err := c.auth.Login(args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, token)
	case "chat create":
		if len(args) < 4 {
			return fmt.Errorf("%s", usage)
		}
		members := make([]domain.UserID, 0, len(args)-4)
		for _, id := range args[4:] {
			members = append(members, domain.UserID(id))
		}
		chat, err := c.chat.CreateGroup(ctx, domain.UserID(args[3]), args[2], members)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, color.Success.Sprintf("chat %s created with %d members", chat.ID, len(chat.Members)))
	case "chat list":
		chats, err := c.chats.ListChats(ctx)
		if err != nil {
			return err
		}
		c.renderChats(chats)
	case "chat members":
		if len(args) != 3 {
			return fmt.Errorf("%s", usage)
		}
		members, err := c.chats.GetChatMembers(ctx, domain.ChatID(args[2]))
		if err != nil {
			return err
		}
		for _, id := range members {
			fmt.Fprintln(c.out, id)
		}
	default:
		return fmt.Errorf("unknown command %q\n%s", strings.Join(args[:2], " "), usage)
	}
	return nil
}

func (c *cli) renderChats(chats []domain.Chat) {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"ID", "Name", "Group", "Creator", "Members", "Created"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, chat := range chats {
		table.Append([]string{
			string(chat.ID),
			chat.Name,
			fmt.Sprintf("%t", chat.GroupChat),
			string(chat.Creator),
			fmt.Sprintf("%d", len(chat.Members)),
			chat.CreatedAt.Format(time.RFC3339),
		})
	}
	table.Render()
}
