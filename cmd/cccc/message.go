package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/types"
)

var sendCmd = &cobra.Command{
	Use:   "send GROUP_ID TEXT...",
	Short: "Send a chat message into a group",
	Long: `Send a chat message. Without --to the message broadcasts to every
enabled actor plus the user; --to accepts actor ids, user, @all,
@peers, and @foreman, and may repeat.

Examples:
  cccc send g-1a2b3c4d "status check please" --to @all --attention
  cccc send g-1a2b3c4d "see attached" --attach report.txt`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetStringArray("to")
		replyTo, _ := cmd.Flags().GetString("reply-to")
		quote, _ := cmd.Flags().GetString("quote")
		markdown, _ := cmd.Flags().GetBool("markdown")
		attention, _ := cmd.Flags().GetBool("attention")
		replyRequired, _ := cmd.Flags().GetBool("reply-required")
		attach, _ := cmd.Flags().GetStringArray("attach")
		as, _ := cmd.Flags().GetString("as")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		c.By = as

		groupID := args[0]
		msg := types.ChatMessage{
			Text:          strings.Join(args[1:], " "),
			To:            to,
			ReplyTo:       replyTo,
			QuoteText:     quote,
			ReplyRequired: replyRequired,
		}
		if markdown {
			msg.Format = types.FormatMarkdown
		}
		if attention {
			msg.Priority = types.PriorityAttention
		}

		for _, path := range attach {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read attachment: %v", err)
			}
			blob, err := c.PutBlob(groupID, data)
			if err != nil {
				return fmt.Errorf("failed to store attachment: %v", err)
			}
			msg.Attachments = append(msg.Attachments, types.Attachment{
				SHA256:   blob.SHA256,
				Bytes:    blob.Bytes,
				Filename: filepath.Base(path),
			})
		}

		ev, err := c.SendMessage(groupID, msg)
		if err != nil {
			return fmt.Errorf("failed to send message: %v", err)
		}
		fmt.Printf("✓ Message sent: %s\n", ev.ID)
		return nil
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Read and advance a principal's inbox",
}

var inboxListCmd = &cobra.Command{
	Use:   "list GROUP_ID",
	Short: "List unread chat events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		as, _ := cmd.Flags().GetString("as")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		c.By = as

		res, err := c.ListInbox(args[0], limit)
		if err != nil {
			return fmt.Errorf("failed to list inbox: %v", err)
		}
		if len(res.Items) == 0 {
			fmt.Println("Inbox empty")
			return nil
		}
		texts := make(map[string]string, len(res.Events))
		for _, ev := range res.Events {
			var m types.ChatMessage
			if json.Unmarshal(ev.Data, &m) == nil {
				texts[ev.ID] = m.Text
			}
		}
		for _, item := range res.Items {
			line := fmt.Sprintf("%s\t%s\t%s", item.EventID, item.From, item.TS.Format(time.RFC3339))
			if item.Priority == types.PriorityAttention {
				line += "\t[attention]"
			}
			if item.ReplyRequired {
				line += "\t[reply required]"
			}
			fmt.Println(line)
			if t := texts[item.EventID]; t != "" {
				fmt.Printf("  %s\n", t)
			}
		}
		return nil
	},
}

var inboxMarkReadCmd = &cobra.Command{
	Use:   "mark-read GROUP_ID UP_TO_EVENT_ID",
	Short: "Advance the read cursor; an older cursor is a no-op",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		as, _ := cmd.Flags().GetString("as")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		c.By = as

		cursor, err := c.MarkRead(args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to mark read: %v", err)
		}
		fmt.Printf("✓ Read cursor: %s\n", cursor)
		return nil
	},
}

var inboxAckCmd = &cobra.Command{
	Use:   "ack GROUP_ID EVENT_ID",
	Short: "Acknowledge an attention message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		as, _ := cmd.Flags().GetString("as")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()
		c.By = as

		ev, err := c.AckMessage(args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to ack: %v", err)
		}
		fmt.Printf("✓ Acknowledged %s (ack event %s)\n", args[1], ev.ID)
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail GROUP_ID",
	Short: "Stream a group's events live",
	Long: `Stream a group's events as they commit. With --from the daemon
replays committed history from that event id before going live.
Press Ctrl+C to stop.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		kinds, _ := cmd.Flags().GetStringSlice("kinds")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		filter := ipc.SubscribeFilter{GroupID: args[0], FromID: from}
		for _, k := range kinds {
			filter.Kinds = append(filter.Kinds, types.EventKind(k))
		}
		sub, err := c.Subscribe(filter)
		if err != nil {
			return fmt.Errorf("failed to subscribe: %v", err)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		go func() {
			<-sigCh
			sub.Cancel()
		}()

		for ev := range sub.Events {
			printEvent(ev)
		}
		if err := sub.Err(); err != nil {
			return fmt.Errorf("stream ended: %v", err)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history GROUP_ID",
	Short: "Search or window a group's ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, _ := cmd.Flags().GetStringSlice("kinds")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		around, _ := cmd.Flags().GetString("around")
		before, _ := cmd.Flags().GetInt("before")
		after, _ := cmd.Flags().GetInt("after")
		contains, _ := cmd.Flags().GetString("contains")
		limit, _ := cmd.Flags().GetInt("limit")

		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		readArgs := ipc.LedgerReadArgs{
			GroupID: args[0],
			FromID:  from,
			ToID:    to,
			Around:  around,
			Before:  before,
			After:   after,
			Substr:  contains,
			Limit:   limit,
		}
		for _, k := range kinds {
			readArgs.Kinds = append(readArgs.Kinds, types.EventKind(k))
		}
		res, err := c.ReadLedger(readArgs)
		if err != nil {
			return fmt.Errorf("failed to read ledger: %v", err)
		}

		if res.MoreBefore {
			fmt.Println("(more before)")
		}
		for _, ev := range res.Events {
			printEvent(ev)
		}
		if res.MoreAfter {
			fmt.Println("(more after)")
		}
		return nil
	},
}

// printEvent renders one event line; chat messages get their text.
func printEvent(ev *types.Event) {
	line := fmt.Sprintf("%s  %s  %s  %s", ev.ID, ev.TS.Format(time.RFC3339), ev.Kind, ev.By)
	if ev.Kind == types.KindChatMessage {
		var m types.ChatMessage
		if json.Unmarshal(ev.Data, &m) == nil {
			text := m.Text
			if len(text) > 80 {
				text = text[:77] + "..."
			}
			line += "  " + text
		}
	}
	fmt.Println(line)
}

func init() {
	inboxCmd.AddCommand(inboxListCmd)
	inboxCmd.AddCommand(inboxMarkReadCmd)
	inboxCmd.AddCommand(inboxAckCmd)

	sendCmd.Flags().StringArray("to", nil, "Recipient: actor id, user, @all, @peers, @foreman (repeatable)")
	sendCmd.Flags().String("reply-to", "", "Event id this message replies to")
	sendCmd.Flags().String("quote", "", "Quoted text carried with the reply")
	sendCmd.Flags().Bool("markdown", false, "Mark the text as markdown")
	sendCmd.Flags().Bool("attention", false, "Require an explicit acknowledgement from recipients")
	sendCmd.Flags().Bool("reply-required", false, "Expect a reply from recipients")
	sendCmd.Flags().StringArray("attach", nil, "File to attach (repeatable)")
	sendCmd.Flags().String("as", "user", "Principal to send as")

	inboxListCmd.Flags().Int("limit", 0, "Maximum entries (0 = all)")
	inboxListCmd.Flags().String("as", "user", "Principal whose inbox to read")
	inboxMarkReadCmd.Flags().String("as", "user", "Principal whose cursor to advance")
	inboxAckCmd.Flags().String("as", "user", "Principal acknowledging")

	tailCmd.Flags().String("from", "", "Replay committed events from this id before going live")
	tailCmd.Flags().StringSlice("kinds", nil, "Only these event kinds (comma separated)")

	historyCmd.Flags().StringSlice("kinds", nil, "Only these event kinds (comma separated)")
	historyCmd.Flags().String("from", "", "Start event id")
	historyCmd.Flags().String("to", "", "End event id")
	historyCmd.Flags().String("around", "", "Center a context window on this event id")
	historyCmd.Flags().Int("before", 0, "Events before the --around id")
	historyCmd.Flags().Int("after", 0, "Events after the --around id")
	historyCmd.Flags().String("contains", "", "Only events whose payload contains this substring")
	historyCmd.Flags().Int("limit", 0, "Maximum events (0 = no limit)")
}
