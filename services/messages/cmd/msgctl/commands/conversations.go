package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"xmtp-legacy/services/messages/pkg/envelope"
	"xmtp-legacy/services/messages/pkg/msgclient"
)

var conversationID string

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convos"},
		Short:   "List or start conversations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Sync invitations and list conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			convs, err := s.client.Conversations().List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PEER\tVERSION\tCONVERSATION ID\tCREATED\tTOPIC")
			for _, c := range convs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.PeerAddress(), c.Version(), c.ConversationID(), c.CreatedAt().Format(time.RFC3339), c.Topic())
			}
			return tw.Flush()
		},
	})
	newCmd := &cobra.Command{
		Use:   "new <peer>",
		Short: "Start (or find) a conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			conv, err := conversationWith(cmd.Context(), s.client, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.Topic())
			return nil
		},
	}
	newCmd.Flags().StringVar(&conversationID, "conversation-id", "", "application conversation id")
	cmd.AddCommand(newCmd)
	return cmd
}

func conversationWith(ctx context.Context, c *msgclient.Client, peer string) (msgclient.Conversation, error) {
	var convCtx *envelope.InvitationContext
	if conversationID != "" {
		convCtx = &envelope.InvitationContext{ConversationID: conversationID}
	}
	return c.Conversations().NewConversation(ctx, peer, convCtx)
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <peer> <text>",
		Short: "Send a text message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			conv, err := conversationWith(cmd.Context(), s.client, args[0])
			if err != nil {
				return err
			}
			id, err := conv.Send(cmd.Context(), args[1], nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "application conversation id")
	return cmd
}

func messagesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "messages <peer>",
		Short: "Print the messages exchanged with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := s.client.Conversations().List(cmd.Context()); err != nil {
				return err
			}
			conv, err := conversationWith(cmd.Context(), s.client, args[0])
			if err != nil {
				return err
			}
			msgs, err := conv.Messages(cmd.Context(), &msgclient.MessageOptions{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				body := m.Content
				if _, ok := body.(string); !ok {
					body = m.Fallback()
				}
				fmt.Fprintf(out, "%s  %s: %v\n", m.Sent.Format(time.RFC3339), m.SenderAddress, body)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of messages")
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "application conversation id")
	return cmd
}
