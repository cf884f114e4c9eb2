package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sweeplab/internal/infra"
	"sweeplab/internal/infra/credentials"
)

func main() {
	var keyFlag string
	flag.StringVar(&keyFlag, "key", "", "SinkIn API key (falls back to SINKIN_API_KEY)")
	flag.Parse()

	_ = godotenv.Load()

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("SINKIN_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "SinkIn API key is required via -key or SINKIN_API_KEY")
		os.Exit(1)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := infra.NewLogger("cli").With().Str("cmd", "apikey").Logger()
	database, err := infra.OpenDatabase(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := credentials.Migrate(ctx, database.Gorm); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate credentials: %v\n", err)
		os.Exit(1)
	}
	if err := credentials.NewStore(database.Gorm).SetSinkInAPIKey(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SINKIN API key stored successfully")
}
