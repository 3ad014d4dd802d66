package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/billychen0894/spareTalk/internal/client"
	"github.com/billychen0894/spareTalk/internal/config"
	"github.com/billychen0894/spareTalk/internal/localization"
	"github.com/billychen0894/spareTalk/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:          "sparetalk",
	Short:        "Anonymous one-to-one chat in the terminal",
	SilenceUsage: true,
	RunE:         runChat,
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Drop the stored session so the next start matches a new partner",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Clear()
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Print the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		sess, err := store.Load()
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

var (
	flagServerURL string
	flagDataPath  string
	flagLang      string
	flagLogLevel  string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", envOr("SPARETALK_URL", "ws://localhost:8080/ws"), "websocket endpoint of the chat server (env SPARETALK_URL)")
	flags.StringVar(&flagDataPath, "data-path", defaultDataPath(), "directory holding the stored session and the client log")
	flags.StringVar(&flagLang, "lang", "", "language for server notices, e.g. en or uk")
	flags.StringVar(&flagLogLevel, "log-level", "info", "client log level")
	rootCmd.AddCommand(forgetCmd, sessionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := logger.Init(config.LogConfig{
		FileName: filepath.Join(flagDataPath, "sparetalk-client.log"),
		Level:    flagLogLevel,
	}); err != nil {
		return err
	}
	defer func() { _ = zap.L().Sync() }()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	notices, err := localization.NewLocalizer()
	if err != nil {
		return err
	}

	view := newTerminalView(cmd.OutOrStdout())
	ctrl := client.NewController(client.NewConnectionManager(flagServerURL, nil), store, view, client.Options{
		Lang:    flagLang,
		Notices: notices,
	})

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	ctrl.Start()
	cmd.Println("Type a message and press enter. Commands: /new, /leave, /quit")

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case err := <-done:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				stop()
				<-done
				return nil
			}
			switch strings.TrimSpace(line) {
			case "":
			case "/quit":
				stop()
				<-done
				return nil
			case "/leave":
				ctrl.Leave()
			case "/new":
				ctrl.NewChat()
			default:
				ctrl.Send(line)
			}
		}
	}
}

func openStore() (*client.PebbleStore, error) {
	if err := os.MkdirAll(flagDataPath, 0o700); err != nil {
		return nil, fmt.Errorf("create data path: %w", err)
	}
	return client.OpenPebbleStore(filepath.Join(flagDataPath, "session"), nil)
}

func defaultDataPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".sparetalk"
	}
	return filepath.Join(dir, "sparetalk")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
