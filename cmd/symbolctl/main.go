// Command symbolctl manages the tracked-symbol registry in Redis.
//
// Usage:
//
//	go run ./cmd/symbolctl [-config configs/development.yaml] list
//	go run ./cmd/symbolctl [-config configs/development.yaml] add AAPL TSLA
//	go run ./cmd/symbolctl [-config configs/development.yaml] remove TSLA
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/pulsewire/newsfuse/internal/symbols"
	"github.com/pulsewire/newsfuse/pkg/config"
	"github.com/pulsewire/newsfuse/pkg/logger"
	"github.com/pulsewire/newsfuse/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	client, err := redis.NewClient(cfg.Redis)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	registry := symbols.NewRegistry(client, cfg.Redis.SymbolsKey)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "list":
		active, err := registry.ListActive(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
			os.Exit(1)
		}
		for _, s := range active {
			fmt.Println(s)
		}
	case "add":
		if len(args) < 2 {
			usage()
		}
		if err := registry.Add(ctx, args[1:]...); err != nil {
			fmt.Fprintf(os.Stderr, "add failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("added %d symbol(s)\n", len(args)-1)
	case "remove":
		if len(args) < 2 {
			usage()
		}
		if err := registry.Remove(ctx, args[1:]...); err != nil {
			fmt.Fprintf(os.Stderr, "remove failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("removed %d symbol(s)\n", len(args)-1)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: symbolctl [-config path] {list | add SYMBOL... | remove SYMBOL...}")
	os.Exit(2)
}
