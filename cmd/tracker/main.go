// Command tracker receives plots over UDP (or replays a pcap capture), runs
// the track-while-scan pipeline and serves the results over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tws/internal/config"
	"github.com/banshee-data/tws/internal/db"
	"github.com/banshee-data/tws/internal/feed"
	"github.com/banshee-data/tws/internal/monitor"
	"github.com/banshee-data/tws/internal/monitoring"
	"github.com/banshee-data/tws/internal/network"
	"github.com/banshee-data/tws/internal/pipeline"
	"github.com/banshee-data/tws/internal/queue"
	"github.com/banshee-data/tws/internal/sensor"
	"github.com/banshee-data/tws/internal/timeutil"
	"github.com/banshee-data/tws/internal/tracking"
	"github.com/banshee-data/tws/internal/version"
)

type options struct {
	listen     string
	httpAddr   string
	grpcAddr   string
	dbPath     string
	configPath string
	model      string
	timeBase   string

	replayPCAP     string
	replayRealtime bool
	replaySpeed    float64
	replayExit     bool
	recordPCAP     string
	forward        string

	rcvBuf       int
	logInterval  time.Duration
	feedInterval time.Duration
	showVersion  bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("tracker", flag.ContinueOnError)
	fs.StringVar(&o.listen, "listen", fmt.Sprintf(":%d", network.DefaultPort), "UDP address to receive plots on")
	fs.StringVar(&o.httpAddr, "http", ":8080", "HTTP monitor address (empty disables)")
	fs.StringVar(&o.grpcAddr, "grpc", ":50051", "gRPC track feed address (empty disables)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite file to record plots and tracks to (empty disables)")
	fs.StringVar(&o.configPath, "config", "", "JSON tuning file (see "+config.DefaultConfigPath+")")
	fs.StringVar(&o.model, "model", "", "motion model override: ctrv or cv")
	fs.StringVar(&o.timeBase, "time-base", "", "scan clock override: wall or sensor")
	fs.StringVar(&o.replayPCAP, "replay-pcap", "", "replay plots from a pcap file instead of listening")
	fs.BoolVar(&o.replayRealtime, "replay-realtime", true, "pace pcap replay by capture timestamps")
	fs.Float64Var(&o.replaySpeed, "replay-speed", 1, "pcap replay speed multiplier")
	fs.BoolVar(&o.replayExit, "replay-exit", true, "exit once the pcap replay has been processed")
	fs.StringVar(&o.recordPCAP, "record-pcap", "", "write received plot datagrams to a pcap file")
	fs.StringVar(&o.forward, "forward", "", "forward received plot datagrams to host:port")
	fs.IntVar(&o.rcvBuf, "rcvbuf", 4<<20, "UDP receive buffer size in bytes (0 keeps the OS default)")
	fs.DurationVar(&o.logInterval, "log-interval", time.Minute, "receiver statistics log interval")
	fs.DurationVar(&o.feedInterval, "feed-interval", feed.DefaultInterval, "default gRPC feed update interval")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.replayPCAP == "" && o.listen == "" {
		return o, errors.New("-listen is required unless -replay-pcap is set")
	}
	if o.replaySpeed <= 0 {
		return o, fmt.Errorf("-replay-speed must be positive, got %v", o.replaySpeed)
	}
	return o, nil
}

// pipelineSettings is the resolved tracker configuration.
type pipelineSettings struct {
	tracker      tracking.TrackerConfig
	timeBase     pipeline.TimeBase
	scanInterval time.Duration
}

func resolveSettings(o options) (pipelineSettings, error) {
	tuning := config.EmptyTuningConfig()
	if o.configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(o.configPath)
		if err != nil {
			return pipelineSettings{}, err
		}
	}

	s := pipelineSettings{
		tracker:      tuning.TrackerConfig(),
		timeBase:     pipeline.TimeBase(tuning.GetTimeBase()),
		scanInterval: tuning.GetScanInterval(),
	}
	if o.model != "" {
		s.tracker.Model = o.model
	}
	switch {
	case o.timeBase != "":
		s.timeBase = pipeline.TimeBase(o.timeBase)
	case o.replayPCAP != "" && tuning.TimeBase == nil:
		// Captured plots carry capture-era timestamps.
		s.timeBase = pipeline.TimeBaseSensor
	}
	if err := s.tracker.Validate(); err != nil {
		return pipelineSettings{}, fmt.Errorf("invalid tracker configuration: %w", err)
	}
	if s.timeBase != pipeline.TimeBaseWall && s.timeBase != pipeline.TimeBaseSensor {
		return pipelineSettings{}, fmt.Errorf("unknown time base %q", s.timeBase)
	}
	return s, nil
}

// portOf returns the numeric port of a host:port address, or def.
func portOf(addr string, def int) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return def
	}
	port, err := strconv.Atoi(p)
	if err != nil || port == 0 {
		return def
	}
	return port
}

func run(ctx context.Context, o options) error {
	settings, err := resolveSettings(o)
	if err != nil {
		return err
	}
	port := portOf(o.listen, network.DefaultPort)
	source := "udp://" + o.listen
	if o.replayPCAP != "" {
		source = "pcap:" + o.replayPCAP
	}

	mgr := tracking.NewManager(settings.tracker)
	plots := queue.New[sensor.Measurement]()

	collector, err := monitoring.NewTrackerCollector(nil)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var database *db.DB
	var recorder pipeline.Recorder
	if o.dbPath != "" {
		database, err = db.NewDB(o.dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()
		rec, err := database.StartSession(source, settings.tracker.Model, timeutil.UnixSeconds(time.Now()))
		if err != nil {
			return err
		}
		log.Printf("Recording session %s to %s", rec.SessionID(), o.dbPath)
		recorder = rec
	}

	proc, err := pipeline.NewProcessor(mgr, plots, pipeline.Config{
		ScanInterval: settings.scanInterval,
		TimeBase:     settings.timeBase,
		Recorder:     recorder,
		Observers:    []pipeline.MetricsObserver{collector},
	})
	if err != nil {
		return err
	}

	stats := network.NewPacketStats()
	var forwarder *network.PacketForwarder
	if o.forward != "" {
		host, p, err := net.SplitHostPort(o.forward)
		if err != nil {
			return fmt.Errorf("invalid -forward address: %w", err)
		}
		fport, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid -forward port %q: %w", p, err)
		}
		forwarder, err = network.NewPacketForwarder(host, fport, stats, o.logInterval)
		if err != nil {
			return err
		}
		defer forwarder.Close()
	}

	var packetRecorder network.PacketRecorder
	if o.recordPCAP != "" {
		pcapFile, err := network.CreatePcapFile(o.recordPCAP, port)
		if err != nil {
			return err
		}
		defer pcapFile.Close()
		packetRecorder = pcapFile
	}

	var web *monitor.WebServer
	if o.httpAddr != "" {
		web, err = monitor.NewWebServer(monitor.WebServerConfig{
			Address:   o.httpAddr,
			Input:     source,
			Model:     settings.tracker.Model,
			Source:    mgr,
			Now:       proc.Now,
			Stats:     stats,
			Collector: collector,
			DB:        database,
		})
		if err != nil {
			return err
		}
	}

	var feedServer *feed.Server
	if o.grpcAddr != "" {
		feedServer, err = feed.NewServer(feed.Config{
			Address:   o.grpcAddr,
			Source:    mgr,
			Now:       proc.Now,
			Interval:  o.feedInterval,
			Collector: collector,
		})
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	supervise := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	if o.replayPCAP != "" {
		if forwarder != nil {
			forwarder.Start(ctx)
		}
		supervise("replay", func(ctx context.Context) error {
			defer plots.Close()
			n, err := network.ReplayPCAPFile(ctx, o.replayPCAP, plots, network.ReplayConfig{
				Port:      port,
				Realtime:  o.replayRealtime,
				Speed:     o.replaySpeed,
				Stats:     stats,
				Forwarder: forwarder,
			})
			log.Printf("Replayed %d plots from %s", n, o.replayPCAP)
			return err
		})
	} else {
		listener := network.NewUDPListener(network.UDPListenerConfig{
			Address:     o.listen,
			RcvBuf:      o.rcvBuf,
			LogInterval: o.logInterval,
			Stats:       stats,
			Forwarder:   forwarder,
			Recorder:    packetRecorder,
			Sink:        plots,
		})
		supervise("listener", func(ctx context.Context) error {
			defer plots.Close()
			return listener.Start(ctx)
		})
	}

	supervise("pipeline", func(ctx context.Context) error {
		err := proc.Run(ctx)
		if err == nil && o.replayPCAP != "" && o.replayExit {
			cancel()
		}
		return err
	})
	if web != nil {
		supervise("http", web.Start)
	}
	if feedServer != nil {
		supervise("feed", feedServer.Start)
	}

	wg.Wait()
	close(errs)

	m := mgr.Metrics()
	log.Printf("Final metrics: %d tracks (%d confirmed), %d plots, association rate %.3f, purity %.3f",
		m.TotalTracks, m.ConfirmedTracks, m.TotalPlots, m.AssociationRate(), m.TrackPurity())

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
	if opts.showVersion {
		fmt.Println("tracker", version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("tracker failed: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
