package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/squadbets/realtime/internal/client"
	"github.com/squadbets/realtime/internal/config"
	"github.com/squadbets/realtime/internal/domain"
	"github.com/squadbets/realtime/internal/transport"
)

var tailGroupID int64

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Connect, join a group, and print its live message stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := client.New(cfg, transport.StaticToken(cfg.Token))
		defer c.Dispose()

		if err := c.Init(ctx); err != nil {
			return err
		}

		if err := c.OnStateChange(ctx, func(change domain.StateChange) {
			fmt.Fprintf(os.Stderr, "-- connection: %s -> %s\n", change.Previous, change.Current)
		}); err != nil {
			return err
		}
		if err := c.OnMessageEvent(ctx, func(ev domain.MessageEvent) {
			printEvent(ev)
		}); err != nil {
			return err
		}
		if err := c.OnServerError(ctx, func(serr domain.ServerError) {
			fmt.Fprintf(os.Stderr, "-- server error: %s\n", serr.Error())
		}); err != nil {
			return err
		}

		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if err := c.JoinGroup(ctx, tailGroupID); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "-- tailing group %d, ctrl-c to quit\n", tailGroupID)
		<-ctx.Done()
		return nil
	},
}

func printEvent(ev domain.MessageEvent) {
	switch ev.Kind {
	case domain.MessageEventNew:
		if ev.Message != nil {
			fmt.Printf("[%d] %s: %s\n", ev.Message.ID, senderLabel(*ev.Message), ev.Message.Content)
		}
	case domain.MessageEventEdit:
		if ev.Message != nil {
			fmt.Printf("[%d] (edited) %s\n", ev.Message.ID, ev.Message.Content)
		}
	case domain.MessageEventDelete:
		fmt.Printf("[%d] (deleted)\n", ev.MessageID)
	}
}

func senderLabel(m domain.Message) string {
	if m.IsSystem() {
		return "system"
	}
	return strings.TrimSpace(m.SenderDisplayName)
}

func init() {
	tailCmd.Flags().Int64Var(&tailGroupID, "group", 0, "group id to tail")
	tailCmd.MarkFlagRequired("group")
	rootCmd.AddCommand(tailCmd)
}
