// Command healthcheck checks every configured carrier once and prints the
// resulting provider table. It exits non-zero when no carrier is healthy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/acme/call-dispatch-engine/internal/app"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	timeout := flag.Duration("timeout", 15*time.Second, "overall health check timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	router, err := container.Router()
	if err != nil {
		log.Fatalf("failed to build router: %v", err)
	}

	records := router.CheckAll(ctx)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tPRIORITY\tHEALTHY\tCOST/MIN\tERROR")
	healthy := 0
	for _, rec := range records {
		if rec.Healthy {
			healthy++
		}
		primary := ""
		if rec.Name == router.Primary() {
			primary = " (primary)"
		}
		fmt.Fprintf(w, "%s%s\t%d\t%t\t%.4f\t%s\n", rec.Name, primary, rec.Priority, rec.Healthy, rec.CostPerMinute, rec.LastError)
	}
	_ = w.Flush()

	if healthy == 0 {
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
