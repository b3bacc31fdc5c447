// Command simulator generates synthetic targets and sends their noisy plots
// to a tracker over UDP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/tws/internal/network"
	"github.com/banshee-data/tws/internal/sim"
	"github.com/banshee-data/tws/internal/timeutil"
)

var (
	target   = flag.String("target", fmt.Sprintf("127.0.0.1:%d", network.DefaultPort), "tracker UDP address")
	interval = flag.Duration("interval", sim.DefaultUpdateInterval, "plot update interval")
	noise    = flag.Float64("noise", sim.DefaultNoiseStdDev, "measurement noise standard deviation in metres")
	seed     = flag.Uint64("seed", 0, "noise seed (0 picks one from the clock)")
	scenario = flag.String("scenario", "", "JSON file with a list of targets (default: two crossing targets)")
	duration = flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
)

// loadScenario reads a target list from path, or returns the default scenario.
func loadScenario(path string) ([]sim.TargetSpec, error) {
	if path == "" {
		return sim.DefaultScenario(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	var specs []sim.TargetSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse scenario JSON: %w", err)
	}
	if len(specs) == 0 {
		return nil, errors.New("scenario has no targets")
	}
	return specs, nil
}

func main() {
	flag.Parse()

	specs, err := loadScenario(*scenario)
	if err != nil {
		log.Fatal(err)
	}
	if *interval <= 0 {
		log.Fatalf("-interval must be positive, got %v", *interval)
	}
	s := *seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	sc, err := sim.NewScenario(specs, *noise, s)
	if err != nil {
		log.Fatalf("invalid scenario: %v", err)
	}

	sender, err := network.NewSender(*target)
	if err != nil {
		log.Fatalf("failed to create sender: %v", err)
	}
	defer sender.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	log.Printf("Sending %d targets to %s every %v (noise %.1f m, seed %d)", len(specs), *target, *interval, *noise, s)
	err = sc.Run(ctx, timeutil.RealClock{}, *interval, sender)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Fatalf("simulation failed: %v", err)
	}
	log.Printf("Simulator stopped")
}
