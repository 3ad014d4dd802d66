package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/billychen0894/spareTalk/internal/config"
	"github.com/billychen0894/spareTalk/internal/logger"
	"github.com/billychen0894/spareTalk/internal/storage"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]

Commands:
  rooms               list rooms that are still open
  room <room_id>      show one room record
  history <room_id>   print the stored messages of a room
  close-stale         close every open room (run while the server is down)
  watch               stream room lifecycle events from redis`

func main() {
	_ = godotenv.Load()
	defaults := config.Default()
	if err := initLogging(defaults.Log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = zap.L().Sync() }()

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(getenv("DATABASE_DSN", defaults.Postgres.DSN)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		zap.L().Fatal("failed to connect database", zap.Error(err))
	}

	var rdb *redis.Client
	if os.Args[1] == "watch" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     getenv("REDIS_ADDR", defaults.Redis.Addr),
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		defer rdb.Close()
	}
	storageSvc := storage.NewStorageService(db, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch os.Args[1] {
	case "rooms":
		if err := listRooms(ctx, storageSvc); err != nil {
			zap.L().Fatal("error listing rooms", zap.Error(err))
		}
	case "room":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin room <room_id>")
			os.Exit(1)
		}
		if err := showRoom(ctx, storageSvc, os.Args[2]); err != nil {
			zap.L().Fatal("error reading room", zap.Error(err))
		}
	case "history":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin history <room_id>")
			os.Exit(1)
		}
		if err := printHistory(ctx, storageSvc, os.Args[2]); err != nil {
			zap.L().Fatal("error reading history", zap.Error(err))
		}
	case "close-stale":
		n, err := storageSvc.CloseStaleRooms(ctx)
		if err != nil {
			zap.L().Fatal("error closing rooms", zap.Error(err))
		}
		fmt.Printf("%d room(s) closed.\n", n)
	case "watch":
		if err := watch(ctx, storageSvc); err != nil {
			zap.L().Fatal("error watching events", zap.Error(err))
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func listRooms(ctx context.Context, s storage.Storage) error {
	ids, err := s.GetActiveRoomIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No open rooms.")
		return nil
	}
	for _, id := range ids {
		room, err := s.GetRoomByID(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("%s  started %s  participants %v\n", room.RoomID, room.StartedAt.Format(time.RFC3339), []string(room.Participants))
	}
	return nil
}

func showRoom(ctx context.Context, s storage.Storage, roomID string) error {
	room, err := s.GetRoomByID(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Printf("Room %s does not exist.\n", roomID)
		return nil
	}
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(room, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printHistory(ctx context.Context, s storage.Storage, roomID string) error {
	msgs, err := s.GetChatHistory(ctx, roomID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Printf("#%d %s [%s] %s\n", m.Seq, m.Timestamp.Format(time.RFC3339), m.Sender, m.Body)
	}
	fmt.Printf("%d message(s).\n", len(msgs))
	return nil
}

func watch(ctx context.Context, s *storage.Service) error {
	events, err := s.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Watching room events, Ctrl+C to stop.")
	for ev := range events {
		fmt.Printf("%s  %-9s %s %v\n", ev.At.Format(time.RFC3339), ev.Type, ev.RoomID, ev.Participants)
	}
	return nil
}

// initLogging installs the zap logger used by the admin commands. Entries
// go to their own file under the log path and to the terminal.
func initLogging(cfg config.LogConfig) error {
	cfg.LogPath = getenv("LOG_PATH", cfg.LogPath)
	cfg.FileName = filepath.Join(cfg.LogPath, "sparetalk-admin.log")
	cfg.Level = getenv("LOG_LEVEL", cfg.Level)
	cfg.Mode = "dev"
	return logger.Init(cfg)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
