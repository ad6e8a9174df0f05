package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	supportchat "github.com/NeboLoop/supportchat-go"
	"github.com/NeboLoop/supportchat-go/event"
	"github.com/NeboLoop/supportchat-go/metrics"
)

var (
	configFile  string
	metricsAddr string
	verbose     bool
	waitTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "supportchat",
	Short: "Command line client for support chat conversations",
	Long: `supportchat connects to a support chat backend over the chat socket.

Configuration comes from --config (YAML), SUPPORTCHAT_* environment variables
and a .env file in the working directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if metricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("metrics server", "addr", metricsAddr, "error", err)
				}
			}()
		}
		return nil
	},
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "How long to wait for the server")
}

func openConversation() (*supportchat.Conversation, error) {
	cfg, err := supportchat.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	conv, err := supportchat.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	return conv, nil
}

// connect enters the conversation and waits for the first successful
// authentication.
func connect(conv *supportchat.Conversation) error {
	connected := make(chan struct{})
	var once bool
	conv.OnConnectionStatus(func(ok bool) {
		if ok && !once {
			once = true
			close(connected)
		}
	})
	conv.EnterConversation()

	select {
	case <-connected:
		return nil
	case <-time.After(waitTimeout):
		return fmt.Errorf("not connected after %v", waitTimeout)
	}
}

func printEvent(w io.Writer, e event.Event) {
	who := "agent"
	switch {
	case e.IsCustomerEvent():
		who = "you"
	case e.IsAutomated():
		who = "bot"
	}
	text := e.Text()
	if text == "" {
		text = fmt.Sprintf("<event type %d>", e.Type)
	}
	fmt.Fprintf(w, "%6d %s %-5s %s\n", e.Seq, e.Time.Local().Format("2006-01-02 15:04:05"), who, text)
}
