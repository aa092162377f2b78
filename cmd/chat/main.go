// Command chat is a terminal client for the chat edge service. Conversations
// are kept in a local SQLite database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/streamchat/internal/chat"
	"github.com/capitalize-ai/streamchat/internal/client"
	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/store"
	"github.com/capitalize-ai/streamchat/internal/stream"
	"github.com/capitalize-ai/streamchat/pkg/logger"
)

// localTenant scopes every conversation in the local database.
const localTenant = "local"

type settings struct {
	server   string
	token    string
	dbPath   string
	userID   string
	model    string
	logLevel string
	retries  int
}

// app holds the dependencies shared by all subcommands.
type app struct {
	settings settings
	log      *logger.Logger
	store    *store.SQLite
	client   *client.Client
}

func (a *app) open() error {
	log, err := logger.NewConsole(a.settings.logLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.log = log

	if dir := filepath.Dir(a.settings.dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn, err := store.DSNForFile(a.settings.dbPath)
	if err != nil {
		return err
	}
	st, err := store.NewSQLite(dsn)
	if err != nil {
		return err
	}
	a.store = st

	a.client = client.New(client.Config{
		BaseURL:      a.settings.server,
		Token:        a.settings.token,
		RetryMax:     a.settings.retries,
		RetryWaitMin: 250 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}, log)
	return nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		a.log.Sync()
	}
}

// controller builds a chat controller, optionally selecting conversationID.
func (a *app) controller(ctx context.Context, conversationID string, sched stream.Scheduler, onUpdate func([]model.Turn)) (*chat.Controller, error) {
	ctrl := chat.New(a.store, a.client, chat.Options{
		TenantID:  localTenant,
		UserID:    a.settings.userID,
		Model:     a.settings.model,
		Scheduler: sched,
		OnUpdate:  onUpdate,
	}, a.log)
	if conversationID != "" {
		if err := ctrl.Load(ctx, conversationID); err != nil {
			return nil, err
		}
	}
	return ctrl, nil
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "chat",
		Short:         "Chat with the streamchat service from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.settings.server, "server", envOr("STREAMCHAT_SERVER", "http://localhost:8080"), "Chat service base URL")
	flags.StringVar(&a.settings.token, "token", os.Getenv("STREAMCHAT_TOKEN"), "Bearer token for the chat service")
	flags.StringVar(&a.settings.dbPath, "db", envOr("STREAMCHAT_DB", defaultDBPath()), "Path of the local conversation database")
	flags.StringVar(&a.settings.userID, "user", envOr("STREAMCHAT_USER", "local"), "User id sent with chat requests")
	flags.StringVar(&a.settings.model, "model", os.Getenv("STREAMCHAT_MODEL"), "Model override")
	flags.StringVar(&a.settings.logLevel, "log-level", envOr("STREAMCHAT_LOG_LEVEL", "warn"), "Log level")
	flags.IntVar(&a.settings.retries, "retries", 2, "Retries for failed connection attempts")

	root.AddCommand(
		newSendCommand(a),
		newRegenerateCommand(a),
		newListCommand(a),
		newHistoryCommand(a),
		newPinCommand(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		stop()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "streamchat.db"
	}
	return filepath.Join(home, ".streamchat", "chat.db")
}
