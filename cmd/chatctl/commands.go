package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"matchchat/internal/domain/entity"
	"matchchat/internal/usecase"
)

var (
	// create
	createMatchID      string
	createTitle        string
	createSport        string
	createParticipants string

	// send
	sendAs     string
	sendSystem bool

	// tail
	tailLimit int
)

const commandTimeout = 15 * time.Second

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the chat room for a match",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		roomID, err := s.engine.CreateMatchChatRoom(ctx, usecase.CreateRoomInput{
			MatchID:      createMatchID,
			Title:        createTitle,
			SportType:    createSport,
			Participants: splitList(createParticipants),
		})
		if roomID == "" && err != nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: room created but welcome message failed: %v\n", err)
		}
		if jsonOutput {
			return printJSON(map[string]string{"roomId": roomID})
		}
		fmt.Println(roomID)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <text>",
	Short: "Post a message to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !sendSystem && sendAs == "" {
			return fmt.Errorf("--as is required unless --system is set")
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		input := usecase.MessageInput{Text: args[1], SenderID: sendAs}
		if sendSystem {
			input.SenderID = entity.SystemSenderID
			input.SenderName = "System"
			input.System = true
		}
		id, err := s.engine.SendMessage(ctx, args[0], input)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"messageId": id})
		}
		fmt.Println(id)
		return nil
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms <user-id>",
	Short: "List a user's active rooms, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		snapshot := make(chan []*entity.Room, 1)
		failed := make(chan error, 1)
		unsubscribe, err := s.engine.SubscribeToUserChatRooms(ctx, args[0],
			func(rooms []*entity.Room) {
				select {
				case snapshot <- rooms:
				default:
				}
			},
			func(err error) {
				select {
				case failed <- err:
				default:
				}
			})
		if err != nil {
			return err
		}
		defer unsubscribe()

		select {
		case rooms := <-snapshot:
			if jsonOutput {
				return printJSON(rooms)
			}
			for _, r := range rooms {
				fmt.Printf("%s\t%s\tunread=%d\t%s\n", r.ID, r.MatchTitle, r.Unread(args[0]), r.LastMessage)
			}
			return nil
		case err := <-failed:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread <user-id>",
	Short: "Print a user's unread total across active rooms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		n, err := s.engine.GetUnreadCount(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]int{"unread": n})
		}
		fmt.Println(n)
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail <room-id>",
	Short: "Follow a room's messages until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		seen := newSeenSet()
		failed := make(chan error, 1)
		unsubscribe, err := s.engine.SubscribeToMessages(ctx, args[0],
			func(messages []*entity.Message) {
				for _, m := range seen.fresh(messages) {
					printMessage(m)
				}
			},
			func(err error) {
				select {
				case failed <- err:
				default:
				}
			},
			usecase.WithPageSize(tailLimit))
		if err != nil {
			return err
		}
		defer unsubscribe()

		select {
		case err := <-failed:
			return err
		case <-ctx.Done():
			return nil
		}
	},
}

func init() {
	createCmd.Flags().StringVar(&createMatchID, "match", "", "match id (required)")
	createCmd.Flags().StringVar(&createTitle, "title", "", "match title")
	createCmd.Flags().StringVar(&createSport, "sport", "", "sport type")
	createCmd.Flags().StringVar(&createParticipants, "participants", "", "comma-separated user ids (required)")
	_ = createCmd.MarkFlagRequired("match")
	_ = createCmd.MarkFlagRequired("participants")

	sendCmd.Flags().StringVar(&sendAs, "as", "", "sender user id")
	sendCmd.Flags().BoolVar(&sendSystem, "system", false, "post as a system message")

	tailCmd.Flags().IntVar(&tailLimit, "limit", 0, "initial page size (default from MESSAGE_PAGE_SIZE)")

	rootCmd.AddCommand(createCmd, sendCmd, roomsCmd, unreadCmd, tailCmd)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// seenSet filters snapshot deliveries down to messages not yet printed.
// Snapshots arrive newest first; fresh returns them oldest first.
type seenSet map[string]bool

func newSeenSet() seenSet { return seenSet{} }

func (s seenSet) fresh(messages []*entity.Message) []*entity.Message {
	var out []*entity.Message
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if s[m.ID] || m.Status == entity.MessageStatusSending {
			continue
		}
		s[m.ID] = true
		out = append(out, m)
	}
	return out
}

func printMessage(m *entity.Message) {
	if jsonOutput {
		_ = printJSON(m)
		return
	}
	sender := m.Sender.Name
	if sender == "" {
		sender = m.Sender.ID
	}
	if m.System {
		sender = "*"
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), sender, m.Preview())
}
