package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"forge-sync/syncclient"
)

func main() {
	force := flag.Bool("force", false, "sync even if recently synced")
	retry := flag.Bool("retry", false, "drain the offline queue and exit")
	status := flag.Bool("status", false, "show pending queue length and exit")
	flag.Parse()

	cfg, err := syncclient.LoadConfig()
	if err != nil {
		log.Fatal("Configuration failed: ", err)
	}

	client, err := syncclient.New(cfg)
	if err != nil {
		log.Fatal("Failed to initialize sync client: ", err)
	}

	ctx := context.Background()

	switch {
	case *status:
		st, err := client.Status()
		if err != nil {
			log.Fatal("Failed to read status: ", err)
		}
		fmt.Printf("pending: %d\n", st.Pending)
		if !st.LastSync.IsZero() {
			fmt.Printf("last sync: %s (success: %v)\n", st.LastSync.Format("2006-01-02 15:04:05"), st.LastSyncSuccess)
		}
		if st.LastError != "" {
			fmt.Printf("last error: %s\n", st.LastError)
		}

	case *retry:
		delivered, remaining, err := client.Retry(ctx)
		fmt.Printf("delivered: %d, remaining: %d\n", delivered, remaining)
		if err != nil {
			log.Fatal("Retry stopped: ", err)
		}

	default:
		result, err := client.Sync(ctx, *force)
		if err != nil {
			log.Fatal("Sync failed: ", err)
		}
		if result.Outcome == syncclient.OutcomeSucceeded {
			fmt.Printf("synced %d records\n", result.RecordsUpserted)
		} else {
			fmt.Printf("%s: %s\n", result.Outcome, result.Message)
		}
	}
}
