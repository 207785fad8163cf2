// batepapo CLI - Command line client for batepapo
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/eldtechnologies/batepapo/clients/go/batepapo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	var baseURL, user string
	var limit int
	var interval time.Duration

	flagSet := pflag.NewFlagSet("batepapo", pflag.ContinueOnError)
	flagSet.StringVar(&baseURL, "url", os.Getenv("BATEPAPO_URL"), "server URL (default: http://localhost:5000)")
	flagSet.StringVarP(&user, "user", "u", os.Getenv("BATEPAPO_USER"), "participant name")
	flagSet.IntVarP(&limit, "limit", "n", 20, "messages to read, 0 for the whole history")
	flagSet.DurationVar(&interval, "interval", 5*time.Second, "heartbeat interval for join")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			usage(flagSet)
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if help, _ := flagSet.GetBool("help"); help || len(args) == 0 {
		usage(flagSet)
		return nil
	}

	client := batepapo.NewClient(baseURL, user)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "health":
		resp, err := client.Health(ctx)
		if err != nil {
			return err
		}
		printJSON(resp)

	case "stats":
		resp, err := client.Stats(ctx)
		if err != nil {
			return err
		}
		printJSON(resp)

	case "who":
		resp, err := client.Participants(ctx)
		if err != nil {
			return err
		}
		for _, p := range resp {
			seen := time.UnixMilli(p.LastStatus).Format("15:04:05")
			fmt.Printf("  %s (last seen %s)\n", p.Name, seen)
		}

	case "join":
		if client.Name == "" {
			return errNoUser
		}
		if _, err := client.Register(ctx); err != nil {
			return err
		}
		fmt.Printf("Joined as %s, sending heartbeats (Ctrl+C to leave)\n", client.Name)
		if err := client.KeepAlive(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

	case "read":
		if client.Name == "" {
			return errNoUser
		}
		resp, err := client.Messages(ctx, limit)
		if err != nil {
			return err
		}
		// Oldest first on the terminal
		for i := len(resp) - 1; i >= 0; i-- {
			fmt.Println(formatMessage(resp[i]))
		}

	case "post":
		if client.Name == "" {
			return errNoUser
		}
		if len(rest) < 1 {
			return errors.New("usage: batepapo post <message> [to]")
		}
		to := batepapo.Broadcast
		if len(rest) > 1 {
			to = rest[1]
		}
		resp, err := client.PostMessage(ctx, to, rest[0], batepapo.TypeMessage)
		if err != nil {
			return err
		}
		fmt.Printf("Posted: %s\n", resp.ID)

	case "whisper":
		if client.Name == "" {
			return errNoUser
		}
		if len(rest) < 2 {
			return errors.New("usage: batepapo whisper <to> <message>")
		}
		resp, err := client.PostMessage(ctx, rest[0], strings.Join(rest[1:], " "), batepapo.TypePrivateMessage)
		if err != nil {
			return err
		}
		fmt.Printf("Posted: %s\n", resp.ID)

	case "help":
		usage(flagSet)

	default:
		usage(flagSet)
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

var errNoUser = errors.New("participant name required: set --user or BATEPAPO_USER")

func formatMessage(msg batepapo.Message) string {
	switch msg.Type {
	case "status":
		return fmt.Sprintf("(%s) %s %s", msg.Time, msg.From, msg.Text)
	case batepapo.TypePrivateMessage:
		return fmt.Sprintf("(%s) %s reservadamente para %s: %s", msg.Time, msg.From, msg.To, msg.Text)
	default:
		return fmt.Sprintf("(%s) %s para %s: %s", msg.Time, msg.From, msg.To, msg.Text)
	}
}

func usage(flagSet *pflag.FlagSet) {
	fmt.Println(`batepapo CLI - chat room client

Usage: batepapo [flags] <command> [args]

Commands:
  join                    Join the room and keep presence alive
  post <message> [to]     Post a public message (default to: Todos)
  whisper <to> <message>  Post a private message
  read                    Read the latest visible messages
  who                     List participants
  stats                   Show room statistics
  health                  Check server health

Flags:`)
	fmt.Println(flagSet.FlagUsages())
	fmt.Println(`Environment:
  BATEPAPO_URL    Server URL (default: http://localhost:5000)
  BATEPAPO_USER   Participant name`)
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
