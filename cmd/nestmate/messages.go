package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	nestmate "github.com/nestmate-app/nestmate/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations
	conversationsPage  int
	conversationsLimit int
	conversationsJSON  bool

	// messages
	messagesMore int
	messagesJSON bool

	// send
	sendPhotos []string
	sendJSON   bool

	// dm / listing
	openJSON bool
)

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		// Later pages append to the directory, so walk up from page 1.
		for p := 1; p <= conversationsPage; p++ {
			if _, err := a.session.ListConversations(ctx, p, conversationsLimit); err != nil {
				return err
			}
		}
		list := a.store.Conversations()

		if conversationsJSON {
			return printJSON(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		me := a.cfg.Auth.UserID
		for _, c := range list {
			preview := ""
			if c.LastMessage != nil {
				preview = truncate(c.LastMessage.Text, 50)
			}
			unread := ""
			if n := c.UnreadFor(me); n > 0 {
				unread = fmt.Sprintf(" (%d unread)", n)
			}
			fmt.Printf("  %s  %-7s %s%s  %s\n", shortTime(c.UpdatedAt), c.Kind, c.ID, unread, preview)
		}
		fmt.Printf("\nUnread total: %d\n", a.store.UnreadTotal())
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation's history, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]
		a := getApp()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := a.session.EnsureLoaded(ctx, convID); err != nil {
			return err
		}
		for i := 0; i < messagesMore && a.store.HasMore(convID); i++ {
			if err := a.session.LoadMore(ctx, convID); err != nil {
				return err
			}
		}
		msgs := a.store.Messages(convID)

		if messagesJSON {
			return printJSON(os.Stdout, msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			printMessage(msgs[i])
		}
		if a.store.HasMore(convID) {
			fmt.Println("(older messages available, use --more)")
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, text := args[0], args[1]
		a := getApp()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := a.session.Send(ctx, convID, nestmate.SendInput{Text: text, Photos: sendPhotos})
		if err != nil {
			return err
		}
		if sendJSON {
			return printJSON(os.Stdout, msg)
		}
		fmt.Printf("Message sent to conversation %s\n", convID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Text:       %s\n", msg.Text)
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]
		a := getApp()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := a.session.ListConversations(ctx, 1, 20); err != nil {
			a.logger.Warn("could not load directory before marking read", "error", err)
		}
		before := a.store.UnreadTotal()
		if _, err := a.session.MarkRead(ctx, convID); err != nil {
			return err
		}
		fmt.Printf("Marked %s as read (unread %d -> %d)\n", convID, before, a.store.UnreadTotal())
		return nil
	},
}

// ============================================================================
// dm / listing
// ============================================================================

var dmCmd = &cobra.Command{
	Use:   "dm <user-id>",
	Short: "Open the direct conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conv, err := a.session.OpenDirect(ctx, args[0])
		if err != nil {
			return err
		}
		return printConversation(conv)
	},
}

var listingCmd = &cobra.Command{
	Use:   "listing <listing-id> <seller-id>",
	Short: "Open the conversation about a marketplace listing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conv, err := a.session.OpenListing(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printConversation(conv)
	},
}

// ============================================================================
// Helpers
// ============================================================================

func printConversation(c *nestmate.Conversation) error {
	if openJSON {
		return printJSON(os.Stdout, c)
	}
	fmt.Printf("Conversation %s\n", c.ID)
	fmt.Printf("  Kind:         %s\n", valueOrDefault(string(c.Kind), "-"))
	if c.ListingID != "" {
		fmt.Printf("  Listing:      %s\n", c.ListingID)
	}
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserID
	}
	fmt.Printf("  Participants: %s\n", strings.Join(ids, ", "))
	fmt.Printf("  Updated:      %s\n", shortTime(c.UpdatedAt))
	return nil
}

func printMessage(m nestmate.Message) {
	photos := ""
	if len(m.Photos) > 0 {
		photos = fmt.Sprintf(" [%d photo(s)]", len(m.Photos))
	}
	fmt.Printf("[%s] %s: %s%s\n", shortTime(m.CreatedAt), m.FromUserID, m.Text, photos)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	conversationsCmd.Flags().IntVar(&conversationsPage, "page", 1, "Number of pages to load")
	conversationsCmd.Flags().IntVarP(&conversationsLimit, "limit", "n", 20, "Conversations per page")
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output JSON")

	messagesCmd.Flags().IntVar(&messagesMore, "more", 0, "Number of older pages to load")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output JSON")

	sendCmd.Flags().StringSliceVar(&sendPhotos, "photo", nil, "Photo URL to attach (repeatable)")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output JSON")

	dmCmd.Flags().BoolVar(&openJSON, "json", false, "Output JSON")
	listingCmd.Flags().BoolVar(&openJSON, "json", false, "Output JSON")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(dmCmd)
	rootCmd.AddCommand(listingCmd)
}
