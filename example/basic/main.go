// Command basic shows how to embed the acquisition runtime in another Go
// program with a custom sink. Here every snapshot is summarized to stdout
// instead of being persisted.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/JeffersonLab/RFWScopeDAQ/pkg/rfwscopedaq"
)

type printSink struct{}

func (printSink) Name() string { return "print" }

func (printSink) Write(_ context.Context, snap *rfwscopedaq.Snapshot) error {
	fmt.Printf("%s: %d channels, %d samples, window %s .. %s\n",
		snap.Cavity, len(snap.Channels), snap.Length(),
		snap.Start.Format(time.RFC3339Nano), snap.End.Format(time.RFC3339Nano))
	return nil
}

func main() {
	cfg, err := rfwscopedaq.LoadConfig("./config.yaml")
	if err != nil {
		log.Fatal(err)
	}
	cfg.DurationMinutes = 1

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := rfwscopedaq.NewRuntime(ctx, cfg, []string{"R1M1"}, "",
		rfwscopedaq.WithSink(printSink{}))
	if err != nil {
		log.Fatal(err)
	}

	if err := rt.Run(ctx); err != nil {
		log.Fatal(err)
	}
	for _, s := range rt.Stats() {
		fmt.Printf("%s: %d/%d attempts succeeded\n", s.Cavity, s.Successes, s.Attempts)
	}
}
