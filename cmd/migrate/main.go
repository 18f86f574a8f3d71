package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"campuscoin/internal/config"
	"campuscoin/internal/db"
	"campuscoin/internal/logger"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := args[0]

	cfg := config.Load()
	logger.InitLogger(cfg.LogLevel)
	log := logger.Default().WithField("command", command)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, command); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Info("migration finished")
}

func usage() {
	fmt.Println("Usage: migrate <command>")
	fmt.Println("Commands:")
	fmt.Println("  up      apply pending migrations")
	fmt.Println("  down    roll back the latest migration")
	fmt.Println("  status  print migration status")
	fmt.Println("  reset   roll back every migration")
}
