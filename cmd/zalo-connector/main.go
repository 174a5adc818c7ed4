package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"zalo-connector-go/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to CONFIG_PATH, then ./config.yaml)")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [bootstrap] starting zalo-connector...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), *configPath); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "zalo-connector failed: %v\n", err)
		os.Exit(1)
	}
}
