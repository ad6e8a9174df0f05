package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NeboLoop/supportchat-go/event"
	"github.com/NeboLoop/supportchat-go/frame"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively; each input line is sent as a message",
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := openConversation()
		if err != nil {
			return err
		}
		defer conv.Close()

		out := cmd.OutOrStdout()
		conv.OnMessage(func(e event.Event) { printEvent(out, e) })
		conv.OnTypingStatus(func(typing bool) {
			if typing {
				fmt.Fprintln(out, "... agent is typing")
			}
		})
		conv.OnLiveChatStatus(func(live bool, _ event.Event) {
			if live {
				fmt.Fprintln(out, "--- connected to an agent")
			} else {
				fmt.Fprintln(out, "--- live chat ended")
			}
		})
		if err := connect(conv); err != nil {
			return err
		}
		conv.SendEnterChat()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				conv.ExitConversation()
				return nil
			case line, ok := <-lines:
				if !ok {
					conv.ExitConversation()
					return nil
				}
				line = strings.TrimSpace(line)
				switch {
				case line == "":
				case line == "/end":
					if !conv.EndLiveChat() {
						fmt.Fprintln(out, "not connected")
					}
				default:
					conv.SendTextMessage(line, nil)
				}
			}
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Fetch and print the conversation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := openConversation()
		if err != nil {
			return err
		}
		defer conv.Close()

		if err := connect(conv); err != nil {
			return err
		}

		done := make(chan error, 1)
		conv.GetEvents(nil, func(_ []event.Event, err error) { done <- err })

		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-time.After(waitTimeout):
			return fmt.Errorf("no history after %v", waitTimeout)
		}
		for _, e := range conv.Events() {
			printEvent(cmd.OutOrStdout(), e)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and wait for the server to accept it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := openConversation()
		if err != nil {
			return err
		}
		defer conv.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
		defer cancel()

		accepted := make(chan string, 1)
		conv.SendTextMessage(strings.Join(args, " "), func(m frame.Incoming) { accepted <- m.Body })
		conv.EnterConversation()

		select {
		case body := <-accepted:
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		case <-ctx.Done():
			return fmt.Errorf("message not accepted: %w", ctx.Err())
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd, historyCmd, sendCmd)
}
