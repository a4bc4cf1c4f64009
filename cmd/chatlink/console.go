package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"chatlink/pkg/types"
)

const defaultHistory = 20

// chatClient is the part of app.Client the console drives.
type chatClient interface {
	ID() types.ClientID
	Mode() types.TransportMode
	Available() []types.TransportMode
	SwitchTo(ctx context.Context, mode types.TransportMode) error
	Send(ctx context.Context, text string) error
	History(ctx context.Context, limit int) ([]*types.TranscriptEntry, error)
	Stats() map[string]int
}

// console turns input lines into client actions. Plain lines are sent;
// lines starting with "/" are commands.
type console struct {
	client chatClient
	out    io.Writer
}

// handle executes one line and reports whether the user asked to quit.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := c.client.Send(ctx, line); err != nil {
			fmt.Fprintf(c.out, "send failed: %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/mode":
		c.mode(ctx, fields[1:])
	case "/status":
		c.status()
	case "/history":
		c.history(ctx, fields[1:])
	case "/help":
		c.help()
	default:
		fmt.Fprintf(c.out, "unknown command %s (try /help)\n", fields[0])
	}
	return false
}

func (c *console) mode(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintf(c.out, "usage: /mode <%s>\n", c.modeNames())
		return
	}
	mode, err := types.ParseMode(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "unknown mode %q; choose one of %s\n", args[0], c.modeNames())
		return
	}
	if err := c.client.SwitchTo(ctx, mode); err != nil {
		fmt.Fprintf(c.out, "switch to %s failed: %v\n", mode, err)
	}
}

func (c *console) status() {
	stats := c.client.Stats()
	fmt.Fprintf(c.out, "client %s, mode %s, active transports %d\n",
		c.client.ID(), c.client.Mode(), stats["total_active"])
}

func (c *console) history(ctx context.Context, args []string) {
	limit := defaultHistory
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintln(c.out, "usage: /history [n]")
			return
		}
		limit = n
	}

	entries, err := c.client.History(ctx, limit)
	if err != nil {
		fmt.Fprintf(c.out, "history unavailable: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "no messages yet")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%s [%s] %s: %s\n", e.DeliveredAt.Local().Format("15:04:05"), e.Mode, e.SenderID, e.Text)
	}
}

func (c *console) help() {
	fmt.Fprintf(c.out, `commands:
  /mode <%s>  switch transport
  /status       show the active transport
  /history [n]  show the last n received messages
  /quit         exit
anything else is sent as a message
`, c.modeNames())
}

func (c *console) modeNames() string {
	names := make([]string, 0, len(c.client.Available()))
	for _, m := range c.client.Available() {
		names = append(names, m.String())
	}
	return strings.Join(names, "|")
}
