// Command chatlink is a terminal chat client that can switch between
// socket, short-poll and long-poll delivery while running.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"chatlink/internal/app"
	"chatlink/internal/config"
	"chatlink/internal/delivery"
	"chatlink/internal/logger"
	"chatlink/pkg/types"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	clientID   string
	serverURL  string
	mode       string
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("chatlink", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", os.Getenv("CHATLINK_CONFIG_FILE"), "path to a JSON config file")
	fs.StringVar(&opts.clientID, "id", "", "client id (default $CHATLINK_CLIENT_ID, otherwise prompted)")
	fs.StringVar(&opts.serverURL, "server", "", "relay base URL")
	fs.StringVar(&opts.mode, "mode", "", "initial transport: socket, poll, longpoll or disconnected")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func run(args []string, in io.Reader, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.serverURL != "" {
		cfg.Client.ServerURL = opts.serverURL
	}
	if opts.mode != "" {
		cfg.Client.InitialMode = opts.mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	lines := bufio.NewScanner(in)
	id, err := resolveClientID(opts.clientID, cfg.Client.ClientID, lines, out)
	if err != nil {
		return err
	}

	client, err := app.NewClient(cfg, id, delivery.NewPrinter(out), log)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	client.OnStateChange(func(mode types.TransportMode) {
		fmt.Fprintf(out, "[%s]\n", mode)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		fmt.Fprintf(out, "initial mode failed: %v\n", err)
	}
	fmt.Fprintf(out, "connected as %s to %s; /help for commands\n", id, cfg.Client.ServerURL)

	return loop(ctx, &console{client: client, out: out}, lines)
}

// loop feeds input lines to the console until /quit, EOF or a signal.
func loop(ctx context.Context, con *console, lines *bufio.Scanner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	input := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(input)
		for lines.Scan() {
			select {
			case input <- lines.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- lines.Err()
	}()

	for {
		select {
		case line, ok := <-input:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if con.handle(ctx, line) {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// resolveClientID prefers the flag, then configuration, then asks.
func resolveClientID(flagID, configID string, lines *bufio.Scanner, out io.Writer) (types.ClientID, error) {
	for _, candidate := range []string{flagID, configID} {
		if candidate == "" {
			continue
		}
		id := types.ClientID(strings.TrimSpace(candidate))
		if err := id.Validate(); err != nil {
			return "", fmt.Errorf("client id %q: %w", candidate, err)
		}
		return id, nil
	}

	for {
		fmt.Fprint(out, "client id: ")
		if !lines.Scan() {
			if err := lines.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("no client id given")
		}
		id := types.ClientID(strings.TrimSpace(lines.Text()))
		if id.Validate() == nil {
			return id, nil
		}
		fmt.Fprintf(out, "enter a name of at most %d bytes\n", types.MaxClientIDBytes)
	}
}
