package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/squadbets/realtime/internal/client"
	"github.com/squadbets/realtime/internal/config"
	"github.com/squadbets/realtime/internal/transport"
)

var (
	sendGroupID int64
	sendParent  int64
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a single message to a group",
	Long: `Send connects, delivers one message, waits for the server
confirmation, and exits. If the push channel cannot be established the
message still goes out over the HTTP fallback.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		c := client.New(cfg, transport.StaticToken(cfg.Token))
		defer c.Dispose()

		if err := c.Init(ctx); err != nil {
			return err
		}

		// A failed connect is fine here: the coordinator falls back to
		// the HTTP path when the push channel is down.
		if err := c.Connect(ctx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "-- push channel unavailable, using fallback:", err)
		}

		var parent *int64
		if sendParent != 0 {
			parent = &sendParent
		}

		msg, err := c.SendMessage(ctx, sendGroupID, args[0], parent)
		if err != nil {
			return err
		}

		fmt.Printf("delivered as message %d\n", msg.ID)
		return nil
	},
}

func init() {
	sendCmd.Flags().Int64Var(&sendGroupID, "group", 0, "group id to send to")
	sendCmd.Flags().Int64Var(&sendParent, "reply-to", 0, "parent message id for a threaded reply")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "overall timeout")
	sendCmd.MarkFlagRequired("group")
	rootCmd.AddCommand(sendCmd)
}
