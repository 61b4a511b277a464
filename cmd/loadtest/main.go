package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aeolun/squadrelay/pkg/client"
	"github.com/aeolun/squadrelay/pkg/logger"
	"github.com/aeolun/squadrelay/pkg/lobby"
	"github.com/aeolun/squadrelay/pkg/protocol"
)

const announceInterval = 15 * time.Second

var (
	serverAddr string
	numSquads  int
	squadSize  int
	duration   time.Duration
	minDelay   time.Duration
	maxDelay   time.Duration
	verbose    bool

	rootCmd = &cobra.Command{
		Use:          "loadtest",
		Short:        "Drive a SquadRelay server with bot squads",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	rootCmd.Flags().StringVar(&serverAddr, "server", "localhost:3000", "server address (host:port or ws:// URL)")
	rootCmd.Flags().IntVar(&numSquads, "squads", 10, "number of concurrent squads")
	rootCmd.Flags().IntVar(&squadSize, "squad-size", lobby.MaxMembers, "players per squad, host included")
	rootCmd.Flags().DurationVar(&duration, "duration", time.Minute, "test duration")
	rootCmd.Flags().DurationVar(&minDelay, "min-delay", 50*time.Millisecond, "minimum delay between game actions")
	rootCmd.Flags().DurationVar(&maxDelay, "max-delay", 500*time.Millisecond, "maximum delay between game actions")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "log every bot error")
}

// Stats tracks load test counters
type Stats struct {
	squadsStarted    atomic.Int64
	setupFailures    atomic.Int64
	connectionErrors atomic.Int64
	actionsSent      atomic.Int64
	actionsReceived  atomic.Int64
	controlsReceived atomic.Int64
	errorsReceived   atomic.Int64
	disconnections   atomic.Int64
}

func (s *Stats) log(lg *zap.Logger, elapsed time.Duration) {
	sent := s.actionsSent.Load()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(sent) / elapsed.Seconds()
	}
	lg.Info("load test progress",
		zap.Duration("elapsed", elapsed.Round(time.Second)),
		zap.Int64("squads", s.squadsStarted.Load()),
		zap.Int64("setup_failures", s.setupFailures.Load()),
		zap.Int64("connection_errors", s.connectionErrors.Load()),
		zap.Int64("actions_sent", sent),
		zap.Int64("actions_received", s.actionsReceived.Load()),
		zap.Int64("controls_received", s.controlsReceived.Load()),
		zap.Int64("errors_received", s.errorsReceived.Load()),
		zap.Int64("disconnections", s.disconnections.Load()),
		zap.Float64("actions_per_sec", rate))
}

// Bot is one simulated player
type Bot struct {
	name  string
	conn  *client.Connection
	stats *Stats
}

func dialBot(ctx context.Context, name string, stats *Stats, lg *zap.Logger) (*Bot, error) {
	conn, err := client.Dial(ctx, serverAddr, lg)
	if err != nil {
		stats.connectionErrors.Add(1)
		return nil, err
	}
	if _, err := conn.Expect(ctx, protocol.EventServerInfo); err != nil {
		conn.Close()
		return nil, err
	}
	return &Bot{name: name, conn: conn, stats: stats}, nil
}

// setupSquad creates a session, fills it and starts the game
func setupSquad(ctx context.Context, id int, stats *Stats, lg *zap.Logger) (*Bot, []*Bot, string, error) {
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	host, err := dialBot(setupCtx, fmt.Sprintf("host-%d", id), stats, lg)
	if err != nil {
		return nil, nil, "", err
	}

	if err := host.conn.Send(protocol.EventCreateRoom, map[string]string{"displayName": host.name}); err != nil {
		host.conn.Close()
		return nil, nil, "", err
	}
	frame, err := host.conn.Expect(setupCtx, protocol.EventRoomCreated)
	if err != nil {
		host.conn.Close()
		return nil, nil, "", err
	}
	var created protocol.RoomCreatedMessage
	if err := json.Unmarshal(frame.Data, &created); err != nil {
		host.conn.Close()
		return nil, nil, "", err
	}
	sessionID := created.SessionID

	host.announce(sessionID, 1, protocol.StatusWaiting)

	joiners := make([]*Bot, 0, squadSize-1)
	closeAll := func() {
		host.conn.Close()
		for _, j := range joiners {
			j.conn.Close()
		}
	}

	for i := 1; i < squadSize; i++ {
		j, err := dialBot(setupCtx, fmt.Sprintf("bot-%d-%d", id, i), stats, lg)
		if err != nil {
			closeAll()
			return nil, nil, "", err
		}
		joiners = append(joiners, j)

		if err := j.conn.Send(protocol.EventJoinRoom, &protocol.JoinRoomMessage{
			SessionID:   sessionID,
			DisplayName: j.name,
		}); err != nil {
			closeAll()
			return nil, nil, "", err
		}
		if _, err := j.conn.Expect(setupCtx, protocol.EventPlayerJoined); err != nil {
			closeAll()
			return nil, nil, "", err
		}
	}

	if err := host.conn.Send(protocol.EventRequestStart, map[string]interface{}{
		"sessionId":  sessionID,
		"difficulty": "normal",
		"map":        rand.IntN(8),
	}); err != nil {
		closeAll()
		return nil, nil, "", err
	}
	for _, b := range append([]*Bot{host}, joiners...) {
		if _, err := b.conn.Expect(setupCtx, protocol.EventGameStart); err != nil {
			closeAll()
			return nil, nil, "", err
		}
	}

	host.announce(sessionID, squadSize, protocol.StatusPlaying)
	return host, joiners, sessionID, nil
}

func (b *Bot) announce(sessionID string, players int, status string) {
	_ = b.conn.Send(protocol.EventAnnounceRoom, &protocol.AnnounceRoomMessage{
		SessionID:   sessionID,
		HostName:    b.name,
		PlayerCount: players,
		Status:      status,
	})
}

// drain counts what the server relays to this bot until the connection ends
func (b *Bot) drain() {
	for frame := range b.conn.Incoming() {
		switch frame.Event {
		case protocol.EventRemoteAction, protocol.EventForceGameState:
			b.stats.actionsReceived.Add(1)
		case protocol.EventForceStartWave, protocol.EventForcePause, protocol.EventForceRestart:
			b.stats.controlsReceived.Add(1)
		case protocol.EventErrorMsg:
			b.stats.errorsReceived.Add(1)
		case protocol.EventHostLeft, protocol.EventServerShutdown:
			b.stats.disconnections.Add(1)
		}
	}
}

// play sends game actions until ctx ends. The host also drives waves and
// keeps the directory entry fresh.
func (b *Bot) play(ctx context.Context, sessionID string, isHost bool) {
	announce := time.NewTicker(announceInterval)
	defer announce.Stop()

	for seq := 0; ; seq++ {
		delay := minDelay
		if maxDelay > minDelay {
			delay += rand.N(maxDelay - minDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-announce.C:
			if isHost {
				b.announce(sessionID, squadSize, protocol.StatusPlaying)
			}
			continue
		case <-time.After(delay):
		}

		event := protocol.EventGameAction
		payload := map[string]interface{}{
			"sessionId": sessionID,
			"type":      "move",
			"seq":       seq,
			"x":         rand.IntN(1000),
			"y":         rand.IntN(1000),
		}
		if isHost && seq%20 == 19 {
			event = protocol.EventRequestWave
			payload = map[string]interface{}{"sessionId": sessionID}
		}

		if err := b.conn.Send(event, payload); err != nil {
			return
		}
		if event == protocol.EventGameAction {
			b.stats.actionsSent.Add(1)
		}
	}
}

func runSquad(ctx context.Context, id int, stats *Stats, lg *zap.Logger) error {
	host, joiners, sessionID, err := setupSquad(ctx, id, stats, lg)
	if err != nil {
		stats.setupFailures.Add(1)
		return fmt.Errorf("squad %d setup: %w", id, err)
	}
	stats.squadsStarted.Add(1)

	bots := append([]*Bot{host}, joiners...)
	var wg sync.WaitGroup
	for i, b := range bots {
		go b.drain()
		wg.Add(1)
		go func(b *Bot, isHost bool) {
			defer wg.Done()
			b.play(ctx, sessionID, isHost)
		}(b, i == 0)
	}
	wg.Wait()

	// Joiners leave first so the host sees playerLeft before closing the session
	for i := len(bots) - 1; i >= 0; i-- {
		bots[i].conn.Close()
	}
	return nil
}

func run(ctx context.Context) error {
	if squadSize < 1 || squadSize > lobby.MaxMembers {
		return fmt.Errorf("squad-size must be between 1 and %d", lobby.MaxMembers)
	}

	cfg := logger.DefaultConfig()
	cfg.Format = "console"
	if verbose {
		cfg.Level = "debug"
	}
	lg, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	lg.Info("starting load test",
		zap.String("server", serverAddr),
		zap.Int("squads", numSquads),
		zap.Int("squad_size", squadSize),
		zap.Duration("duration", duration))

	stats := &Stats{}
	start := time.Now()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.log(lg, time.Since(start))
			}
		}
	}()

	var g errgroup.Group
	for i := 0; i < numSquads; i++ {
		id := i
		g.Go(func() error {
			if err := runSquad(ctx, id, stats, lg); err != nil {
				lg.Debug("squad failed", zap.Error(err))
			}
			return nil
		})
		// Stagger connections
		time.Sleep(10 * time.Millisecond)
	}
	_ = g.Wait()

	stats.log(lg, time.Since(start))
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("loadtest: %v", err)
		os.Exit(1)
	}
}
