// Command token registers a user in the directory and prints a signed token for it.
package main

import (
	"chat-hub/auth"
	"chat-hub/domain"
	"chat-hub/internal"
	"chat-hub/repositories"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	userID := flag.String("user", "", "User id")
	username := flag.String("name", "", "Display name, defaults to the id")
	avatar := flag.String("avatar", "", "Avatar URL")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if err := run(*userID, *username, *avatar, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, color.Red.Render(err.Error()))
		os.Exit(1)
	}
}

func run(userID, username, avatar string, ttl time.Duration) error {
	if userID == "" {
		return fmt.Errorf("-user is required")
	}
	if username == "" {
		username = userID
	}

	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	exec := repositories.NewExecutor(logger, config.PersistenceTimeout, config.PersistenceRetries, config.PersistenceBackoff)
	user := domain.User{ID: userID, Username: username, Avatar: avatar}
	if err = repositories.NewUserRepository(db, logger, exec).Upsert(context.Background(), user); err != nil {
		return err
	}

	token, err := auth.GenerateToken(config.JWTSecret, userID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf(" %s (%s) ", user.Username, user.ID)))
	fmt.Println(token)
	return nil
}
