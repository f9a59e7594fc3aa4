// tracker is a command-line client that follows rides the way the mobile
// apps do: push first, polling when realtime is unavailable.
//
// Passengers follow one ride with --ride. Drivers watch the pending board
// with --board, optionally accepting the first ride offered with
// --accept, and can stream a simulated position with --simulate.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/chachabrian/mooveit-ridesync/internal/apperr"
	"github.com/chachabrian/mooveit-ridesync/internal/client"
	"github.com/chachabrian/mooveit-ridesync/internal/logging"
	"github.com/chachabrian/mooveit-ridesync/internal/models"
	"github.com/chachabrian/mooveit-ridesync/internal/syncagent"
	"github.com/chachabrian/mooveit-ridesync/internal/tracking"
	"github.com/chachabrian/mooveit-ridesync/pkg/utils"
)

type options struct {
	baseURL  string
	token    string
	userID   uint
	role     string
	rideID   uint
	board    bool
	accept   bool
	simulate string
	liveness time.Duration
	logLevel string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("tracker", pflag.ContinueOnError)
	flagSet.StringVar(&opts.baseURL, "api", "http://localhost:8080", "API base URL")
	flagSet.StringVar(&opts.token, "token", os.Getenv("RIDESYNC_TOKEN"), "bearer token (default $RIDESYNC_TOKEN)")
	flagSet.UintVar(&opts.userID, "user-id", 0, "user id the token was issued for")
	flagSet.StringVar(&opts.role, "role", models.RolePassenger, "passenger or driver")
	flagSet.UintVar(&opts.rideID, "ride", 0, "ride to follow")
	flagSet.BoolVar(&opts.board, "board", false, "watch pending rides (drivers)")
	flagSet.BoolVar(&opts.accept, "accept", false, "accept the first ride on the board")
	flagSet.StringVar(&opts.simulate, "simulate", "", "stream a simulated position from LAT,LNG:LAT,LNG")
	flagSet.DurationVar(&opts.liveness, "liveness", client.DefaultLiveness, "drop a silent subscription after this long")
	flagSet.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.token == "" || opts.userID == 0 {
		return errors.New("--token and --user-id are required")
	}
	if opts.rideID == 0 && !opts.board {
		return errors.New("one of --ride or --board is required")
	}
	if (opts.board || opts.simulate != "") && opts.role != models.RoleDriver {
		return errors.New("--board and --simulate need --role driver")
	}

	logger := logging.New(os.Stderr, opts.logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := client.NewSession(opts.baseURL, opts.liveness, logger)
	session.Login(opts.token, opts.userID, opts.role)
	defer session.Logout()

	g, gctx := errgroup.WithContext(ctx)

	if opts.simulate != "" {
		src, err := parseRoute(opts.simulate)
		if err != nil {
			return err
		}
		tr := tracking.NewTracker(src, session.API(), tracking.DefaultUploadEvery, logger)
		if err := tr.Start(gctx); err != nil {
			return fmt.Errorf("start tracking: %w", err)
		}
		session.Track(tr)
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case err := <-tr.Warnings():
					fmt.Fprintf(os.Stderr, "location: %v\n", err)
				}
			}
		})
	}

	if opts.board {
		g.Go(func() error {
			defer stop()
			return watchBoard(gctx, session, opts.accept, logger)
		})
	}
	if opts.rideID != 0 {
		g.Go(func() error {
			defer stop()
			return follow(gctx, session.Agent(opts.rideID, syncagent.Options{Logger: logger}))
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// follow prints the ride every time its view changes and returns once it
// is terminal.
func follow(ctx context.Context, agent *syncagent.Agent) error {
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	var last string
	for {
		select {
		case err := <-done:
			printView(agent.View(), &last)
			return err
		case <-agent.Changed():
			printView(agent.View(), &last)
		}
	}
}

func printView(v syncagent.View, last *string) {
	line := fmt.Sprintf("ride %d: %s (%s)", v.Ride.ID, v.Status(), v.Mode)
	if v.Ride.DriverID != nil {
		line += fmt.Sprintf(" driver=%d", *v.Ride.DriverID)
	}
	if v.Ride.FinalPrice != nil {
		line += fmt.Sprintf(" final=%.2f", *v.Ride.FinalPrice)
	}
	if line == *last {
		return
	}
	*last = line
	fmt.Println(line)
}

func watchBoard(ctx context.Context, session *client.Session, accept bool, logger *slog.Logger) error {
	board := session.Board(syncagent.BoardOptions{Logger: logger})
	go func() { _ = board.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-board.Changed():
		}
		rides := board.Rides()
		fmt.Printf("%d pending (%s)\n", len(rides), board.Mode())
		for _, r := range rides {
			fmt.Printf("  ride %d %s -> %s %.2f\n", r.ID, r.PickupAddress, r.DropoffAddress, r.EstimatedPrice)
		}
		if !accept || len(rides) == 0 {
			continue
		}

		agent := session.Agent(rides[0].ID, syncagent.Options{Logger: logger})
		ride, err := agent.Accept(ctx)
		switch {
		case err == nil:
			fmt.Printf("accepted ride %d\n", ride.ID)
			return follow(ctx, agent)
		case errors.Is(err, apperr.ErrAlreadyAccepted):
			fmt.Printf("ride %d went to another driver\n", rides[0].ID)
			board.Remove(rides[0].ID)
		default:
			fmt.Printf("accept ride %d: %v\n", rides[0].ID, err)
			board.Remove(rides[0].ID)
		}
	}
}

func parseRoute(s string) (tracking.Simulated, error) {
	from, to, ok := strings.Cut(s, ":")
	if !ok {
		return tracking.Simulated{}, fmt.Errorf("--simulate: want LAT,LNG:LAT,LNG, got %q", s)
	}
	a, err := parsePoint(from)
	if err != nil {
		return tracking.Simulated{}, err
	}
	b, err := parsePoint(to)
	if err != nil {
		return tracking.Simulated{}, err
	}
	return tracking.Simulated{From: a, To: b, Steps: 60, Interval: time.Second}, nil
}

func parsePoint(s string) (utils.Point, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return utils.Point{}, fmt.Errorf("bad point %q", s)
	}
	var p utils.Point
	var err error
	if p.Lat, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
		return utils.Point{}, fmt.Errorf("bad latitude in %q: %w", s, err)
	}
	if p.Lng, err = strconv.ParseFloat(strings.TrimSpace(lng), 64); err != nil {
		return utils.Point{}, fmt.Errorf("bad longitude in %q: %w", s, err)
	}
	if !p.Valid() {
		return utils.Point{}, fmt.Errorf("point %q out of range", s)
	}
	return p, nil
}
