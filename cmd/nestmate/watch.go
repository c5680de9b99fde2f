package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nestmate "github.com/nestmate-app/nestmate/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live channel and print incoming activity",
	Long:  "Connect to the live channel, load the conversation directory and print messages, read receipts and unread changes until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		rc, err := realtimeConfig(a.cfg)
		if err != nil {
			return err
		}
		rt := a.client.Realtime(rc)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.store.On(nestmate.StoreUnreadChanged, func(_ string, payload any) {
			fmt.Printf("* unread total: %v\n", payload)
		})
		rt.OnEvent(func(ev nestmate.Event) {
			switch e := ev.(type) {
			case nestmate.MessageEvent:
				fmt.Printf("%s ", e.ConversationID)
				printMessage(e.Message)
			case nestmate.ReadEvent:
				fmt.Printf("%s read by %s\n", e.ConversationID, e.UserID)
			}
		})
		rt.OnStateChange(func(s nestmate.ConnectionState) {
			fmt.Fprintf(os.Stderr, "live channel: %s\n", s)
			if s == nestmate.StateDisconnected && ctx.Err() == nil {
				a.logger.Warn("live channel gave up reconnecting")
				stop()
			}
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			a.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		})
		a.session.Bind(rt)

		loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		_, err = a.session.ListConversations(loadCtx, 1, 20)
		cancel()
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d conversations, %d unread\n", len(a.store.Conversations()), a.store.UnreadTotal())

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err = rt.Connect(dialCtx)
		cancel()
		if err != nil {
			return err
		}

		<-ctx.Done()
		if err := rt.Disconnect(); err != nil {
			a.logger.Debug("disconnect", "error", err)
		}
		return nil
	},
}
