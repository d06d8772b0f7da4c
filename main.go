// Command mmdvmmon tails the MMDVMHost log, tracks contact (QSO) lifecycle
// state, and serves the result over HTTP, WebSocket, and optionally MQTT.
//
// Pipeline: Tailer -> Parser -> Engine -> broadcast hub -> consumers. One
// goroutine owns each stage; the engine is the only writer of shared state.
// Nothing after startup is fatal: lost files, unparseable lines, and dead
// consumers are all counted, logged, and survived.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mmdvmmon/api"
	"mmdvmmon/broadcast"
	"mmdvmmon/config"
	"mmdvmmon/engine"
	"mmdvmmon/internal/ratelimit"
	"mmdvmmon/mqttpub"
	"mmdvmmon/parser"
	"mmdvmmon/qso"
	"mmdvmmon/stats"
	"mmdvmmon/tailer"
)

const version = "1.2.0"

const (
	statsInterval     = 60 * time.Second
	shutdownGrace     = 10 * time.Second
	apiShutdownWindow = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mmdvmmon v%s\n", version)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
		cfg = loaded
		log.Printf("Loaded configuration from %s", *configPath)
	} else if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid default config: %v", err)
	}

	fanout := setupLogging(cfg.Logging)
	defer fanout.Close()
	log.SetFlags(0)
	log.SetOutput(fanout)

	log.Printf("mmdvmmon v%s starting", version)
	cfg.Print()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := stats.NewTracker()
	hub := broadcast.NewHub()
	eng := engine.New(engine.Options{
		HistorySize:   cfg.Engine.HistorySize,
		Timeout:       cfg.Engine.QSOTimeout(),
		SweepInterval: cfg.Engine.SweepInterval(),
	}, hub, tracker)
	tl := tailer.New(cfg.Monitor.LogDirectory, cfg.Monitor.FilePattern, cfg.Monitor.PollInterval(), tracker)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tl.Run(ctx)
	}()

	events := make(chan *qso.LogEvent, 256)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(events)
		runExtractor(ctx, tl.Lines(), tracker, events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx, events)
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Listen, eng, hub, tracker, cfg.API.WSBuffer)
		if err := apiServer.Start(); err != nil {
			log.Fatalf("Error starting API server: %v", err)
		}
	}

	if cfg.MQTT.Enabled {
		pub := mqttpub.NewPublisher(cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.TopicPrefix, cfg.MQTT.ClientID)
		if err := pub.Connect(); err != nil {
			// The broker being down is a transient condition, not a config
			// error; run without MQTT rather than refusing to start.
			log.Printf("MQTT: %v (continuing without MQTT)", err)
		} else {
			sub := hub.Subscribe(broadcast.DefaultBuffer)
			wg.Add(1)
			go func() {
				defer wg.Done()
				pub.Run(ctx, sub)
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		displayStats(ctx, tracker)
	}()

	log.Printf("Monitor running; press Ctrl+C to stop")
	<-ctx.Done()
	log.Printf("Shutdown signal received, stopping...")

	if apiServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), apiShutdownWindow)
		if err := apiServer.Shutdown(sctx); err != nil {
			log.Printf("API: shutdown: %v", err)
		}
		cancel()
	}
	hub.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("All components stopped")
	case <-time.After(shutdownGrace):
		log.Printf("Shutdown grace period elapsed, exiting anyway")
	}
}

// runExtractor is the middle pipeline stage: raw lines in, structured events
// out. Unmatched lines are counted and sampled into the log, never fatal.
// The send is ctx-guarded: on shutdown the engine stops consuming, and a
// full events buffer must not pin this goroutine past the grace period.
func runExtractor(ctx context.Context, lines <-chan string, tracker *stats.Tracker, events chan<- *qso.LogEvent) {
	p := parser.New()
	missLog := ratelimit.NewCounter(ratelimit.DefaultLogInterval)

	for line := range lines {
		tracker.LineSeen()
		ev, ok := p.Parse(line)
		if !ok {
			tracker.ParseFailure()
			if total, allow := missLog.Inc(); allow {
				log.Printf("Parser: no match (%d so far), e.g. %q", total, line)
			}
			continue
		}
		tracker.LineMatched(string(ev.Kind))
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// displayStats logs a one-line summary periodically.
func displayStats(ctx context.Context, tracker *stats.Tracker) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("%s", tracker.SummaryLine())
		}
	}
}
