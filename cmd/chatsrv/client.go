package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wtask/chatcast/internal/chat/client"
	"github.com/wtask/chatcast/internal/chat/text"
)

// clientFlags - connection settings of protocol client commands.
type clientFlags struct {
	address string
	timeout time.Duration
}

func (f *clientFlags) bind(cmd *cobra.Command, cfg *Configuration) {
	cmd.Flags().StringVar(&f.address, "addr",
		net.JoinHostPort("127.0.0.1", strconv.FormatUint(uint64(cfg.Port), 10)), "Chat server address")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "Overall timeout")
}

func (f *clientFlags) dial(ctx context.Context) (*client.Client, error) {
	return client.Dial(ctx, f.address)
}

func pingCmd(cfg *Configuration) *cobra.Command {
	flags := clientFlags{}
	count := 0
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure round trip to running chat server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()
			c, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				pong, err := c.Ping(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pong from %s: time=%v\n", flags.address, pong.RoundTrip())
			}
			return nil
		},
	}
	flags.bind(cmd, cfg)
	cmd.Flags().IntVarP(&count, "count", "c", 3, "Number of pings")
	return cmd
}

func sayCmd(cfg *Configuration) *cobra.Command {
	flags := clientFlags{}
	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Send one chat message and print messages until it is echoed back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()
			c, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Send(args[0]); err != nil {
				return err
			}
			// server may run with payload cleaning
			raw, cleaned := args[0], text.Clean(args[0])
			out := cmd.OutOrStdout()
			for {
				m, err := c.Receive(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "[%s] %s\n", m.Sender.Name, m.Payload)
				if m.Payload == raw || m.Payload == cleaned {
					return nil
				}
			}
		},
	}
	flags.bind(cmd, cfg)
	return cmd
}
