package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/config"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/detector"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/iface"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/led"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/observer"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/publisher"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/statetable"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/storage"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/vision"
)

const Version = "1.0.0"

func main() {
	var (
		configPath = flag.String("config", "config.json", "Path to configuration file")
		envFile    = flag.String("env", ".env", "Optional .env file with LED_* overrides")
		mode       = flag.String("mode", "detect", "Operation mode: detect, import, list, export, delete, states, init")
		boardPath  = flag.String("board", "", "Board description file (detect), file, zip or URL (import), output file (export)")
		boardID    = flag.String("board-id", "", "Archived board id (detect, export, delete)")
		tablePath  = flag.String("table", "", "State table CSV (states)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		quiet      = flag.Bool("quiet", false, "Terse terminal output")
		replace    = flag.Bool("replace", false, "Let import overwrite an archived board with the same id")
	)
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)
	if err := cfg.ApplyEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to apply environment: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Interface.LogLevel = "debug"
	}
	if *boardPath != "" && *mode == "detect" {
		cfg.Board.Path = *boardPath
	}
	if *boardID != "" {
		cfg.Board.StoreID = *boardID
	}
	if *tablePath != "" {
		cfg.Detection.TablePath = *tablePath
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare directories: %v\n", err)
		os.Exit(1)
	}

	logger, err := iface.NewLogger(cfg.Interface.LogPath, cfg.Interface.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	cli := iface.NewCLI(cfg, *quiet)
	cli.PrintBanner()
	cli.PrintModeHeader(*mode)

	logger.Info("led detector starting",
		zap.String("version", Version),
		zap.String("mode", *mode),
		zap.String("go_version", runtime.Version()))

	switch *mode {
	case "detect":
		err = runDetect(cfg, logger, cli)
	case "import":
		err = runImport(cfg, *boardPath, *replace, logger, cli)
	case "list":
		err = runList(cfg, cli)
	case "export":
		err = runExport(cfg, *boardPath, cli)
	case "delete":
		err = runDelete(cfg, logger, cli)
	case "states":
		err = runStates(cfg, cli)
	case "init":
		err = runInit(cfg, *configPath, cli)
	default:
		err = fmt.Errorf("unknown mode %q (available: detect, import, list, export, delete, states, init)", *mode)
	}
	if err != nil {
		logger.Error("led detector failed", zap.Error(err))
		cli.PrintError(err)
		logger.Close()
		os.Exit(1)
	}
}

func loadBoard(cfg *config.Config) (*board.Board, error) {
	if cfg.Board.Path != "" {
		return board.Load(cfg.Board.Path)
	}
	store, err := storage.Open(cfg.Board.StorePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Load(cfg.Board.StoreID)
}

func runDetect(cfg *config.Config, logger *iface.Logger, cli *iface.CLI) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.GetZapLogger().With(zap.String("session", uuid.NewString()))

	b, err := loadBoard(cfg)
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}
	defer b.Close()
	log.Info("board loaded",
		zap.String("board", b.ID),
		zap.String("author", b.Author),
		zap.Int("leds", len(b.Leds)))

	tracker, err := vision.NewTracker(b.Image, vision.TrackerOptions{
		Ratio:           cfg.Detection.RatioThreshold,
		ReprojThreshold: cfg.Detection.ReprojThreshold,
		MinMatches:      cfg.Detection.MinMatches,
		Validity:        cfg.Validity(),
	}, log.Named("tracker"))
	if err != nil {
		return fmt.Errorf("failed to prepare board tracking: %w", err)
	}
	defer tracker.Close()

	table := statetable.New()
	if cfg.Detection.TablePath != "" {
		if err := table.LoadFile(cfg.Detection.TablePath); err == nil {
			log.Info("state table resumed", zap.Int("rows", table.Len()))
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load state table: %w", err)
		}
	}

	source, err := vision.OpenSource(cfg.Camera.Source, cfg.Camera.Width, cfg.Camera.Height, log.Named("source"))
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	if _, err := os.Stat(cfg.Camera.Source); err == nil {
		if info, err := vision.GetVideoInfo(cfg.Camera.Source); err == nil {
			log.Info("reading video file",
				zap.String("path", cfg.Camera.Source),
				zap.Float64("fps", info.FPS),
				zap.Int("frames", info.FrameCount),
				zap.Int("width", info.Width),
				zap.Int("height", info.Height))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := publisher.NewQueue(cfg.Publisher.QueueLimit)
	pub := publisher.New(queue, log.Named("publisher"))
	annotate := setupSinks(ctx, cfg, b.ID, table, pub, log) && cfg.Detection.AnnotateFrames

	det := detector.New(b, source, tracker, table, queue, detector.Options{
		PollInterval: cfg.PollInterval(),
		Annotate:     annotate,
		Observer: observer.Options{
			Deviation: cfg.Detection.BoardDeviation,
			History:   cfg.Detection.BoardHistory,
			Led: led.Options{
				Deviation:       cfg.Detection.LedDeviation,
				History:         cfg.Detection.LedHistory,
				BootstrapMargin: cfg.Detection.BootstrapMargin,
			},
		},
	}, log.Named("detector"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("shutdown requested", zap.String("signal", sig.String()))
		case <-source.Done():
			log.Info("frame source finished")
		case <-ctx.Done():
		}
		cancel()
		// closing the source wakes a Step blocked on a stalled camera
		det.Stop()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pub.Run(ctx)
	}()

	start := time.Now()
	cli.PrintStatus("Detection running", "success")
	det.Run(ctx)

	// the loop has exited; release the camera, then let the publisher drain
	if err := source.Close(); err != nil {
		log.Warn("failed to close frame source", zap.Error(err))
	}
	queue.Close()
	wg.Wait()
	if err := pub.Close(); err != nil {
		log.Warn("failed to close sinks", zap.Error(err))
	}

	if cfg.Detection.TablePath != "" {
		if err := table.SaveFile(cfg.Detection.TablePath); err != nil {
			log.Error("failed to save state table", zap.Error(err))
		} else {
			log.Info("state table saved", zap.String("path", cfg.Detection.TablePath), zap.Int("rows", table.Len()))
		}
	}

	stats := det.Stats()
	cli.PrintStates(table.Snapshot())
	cli.PrintSummary(stats.Frames, stats.Processed, stats.Changes, stats.FPS, time.Since(start))
	log.Info("led detector stopped",
		zap.Uint64("dropped_messages", queue.Dropped()),
		zap.Int("invalidations", det.Observer().Invalidations()))
	return nil
}

// setupSinks registers every enabled sink. It reports whether any sink
// consumes frames.
func setupSinks(ctx context.Context, cfg *config.Config, boardID string, table *statetable.Table, pub *publisher.Publisher, log *zap.Logger) bool {
	frames := false

	if cfg.MQTT.Enabled {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "led-detector-" + uuid.NewString()[:8]
		}
		sink := publisher.NewMQTTSink(publisher.MQTTOptions{
			Broker:         cfg.MQTT.Broker,
			ClientID:       clientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			BoardID:        boardID,
			ChangesTopic:   cfg.MQTT.ChangesTopic,
			AvailTopic:     cfg.MQTT.AvailTopic,
			ConfigTopic:    cfg.MQTT.ConfigTopic,
			QoS:            byte(cfg.MQTT.QoS),
			Heartbeat:      time.Duration(cfg.MQTT.HeartbeatSeconds) * time.Second,
			ConnectTimeout: time.Duration(cfg.MQTT.ConnectTimeoutSec) * time.Second,
			OnConfig:       configHandler(ctx, cfg, log.Named("config")),
		}, log.Named("mqtt"))
		if err := sink.Connect(ctx); err != nil {
			// the client keeps retrying in the background
			log.Warn("mqtt broker not reachable yet", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		}
		pub.AddChangeSink(sink)
	}

	if cfg.NATS.Enabled {
		sink, err := publisher.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject, "led-detector", log.Named("nats"))
		if err != nil {
			log.Warn("nats sink disabled", zap.Error(err))
		} else {
			pub.AddChangeSink(sink)
		}
	}

	if cfg.Stream.Enabled {
		server := publisher.NewStreamServer(cfg.Stream.Addr, cfg.Stream.JPEGQuality, table, log.Named("stream"))
		server.Start()
		pub.AddChangeSink(server)
		pub.AddFrameSink(server)
		frames = true
	}

	if cfg.Recorder.Path != "" {
		pub.AddFrameSink(publisher.NewRecorder(cfg.Recorder.Path, cfg.Recorder.Codec, cfg.Recorder.FPS, log.Named("recorder")))
		frames = true
	}
	return frames
}

// configHandler imports boards announced on the MQTT config topic. A
// payload that is not an http(s) URL is only logged.
func configHandler(ctx context.Context, cfg *config.Config, log *zap.Logger) func(payload []byte) {
	return func(payload []byte) {
		src := strings.TrimSpace(string(payload))
		if !board.IsURL(src) {
			log.Info("config message ignored", zap.String("payload", src))
			return
		}
		// the paho callback must not block
		go func() {
			rec, leds, err := importBoard(ctx, cfg, src, false)
			if err != nil {
				log.Warn("board import failed", zap.String("url", src), zap.Error(err))
				return
			}
			log.Info("board imported", zap.String("board", rec.ID), zap.Int("leds", leds), zap.String("url", src))
		}()
	}
}

// importBoard reads a board description from a JSON file, a zip archive or
// an http(s) URL serving an archive, checks it builds and archives it. An id
// that is already archived is rejected unless replace is set.
func importBoard(ctx context.Context, cfg *config.Config, src string, replace bool) (*board.Record, int, error) {
	var rec *board.Record
	switch {
	case board.IsURL(src):
		client := &http.Client{Timeout: 30 * time.Second}
		r, err := board.FetchArchive(ctx, client, src)
		if err != nil {
			return nil, 0, err
		}
		rec = r
	case strings.EqualFold(filepath.Ext(src), ".zip"):
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read board archive: %w", err)
		}
		r, err := board.ParseArchive(data, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)))
		if err != nil {
			return nil, 0, err
		}
		rec = r
	default:
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read board file: %w", err)
		}
		r, err := board.ParseRecord(data)
		if err != nil {
			return nil, 0, err
		}
		if err := r.Embed(filepath.Dir(src)); err != nil {
			return nil, 0, err
		}
		rec = r
	}

	// make sure the record is usable before archiving it
	b, err := rec.Build("")
	if err != nil {
		return nil, 0, fmt.Errorf("invalid board %s: %w", rec.ID, err)
	}
	leds := len(b.Leds)
	b.Close()

	store, err := storage.Open(cfg.Board.StorePath)
	if err != nil {
		return nil, 0, err
	}
	defer store.Close()
	if replace {
		err = store.Put(rec)
	} else {
		err = store.Create(rec)
	}
	if err != nil {
		return nil, 0, err
	}
	return rec, leds, nil
}

func runImport(cfg *config.Config, src string, replace bool, logger *iface.Logger, cli *iface.CLI) error {
	if src == "" {
		return errors.New("import needs -board <file, zip or url>")
	}
	rec, leds, err := importBoard(context.Background(), cfg, src, replace)
	if errors.Is(err, storage.ErrExists) {
		return fmt.Errorf("%w; pass -replace to overwrite it", err)
	}
	if err != nil {
		return err
	}

	logger.Info("board imported", zap.String("board", rec.ID), zap.Int("leds", leds), zap.String("source", src))
	cli.PrintStatus(fmt.Sprintf("Imported board %s with %d leds", rec.ID, leds), "success")
	return nil
}

func runList(cfg *config.Config, cli *iface.CLI) error {
	store, err := storage.Open(cfg.Board.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}
	cli.PrintBoards(entries)

	count, err := store.Count()
	if err != nil {
		return err
	}
	if skipped := count - len(entries); skipped > 0 {
		cli.PrintStatus(fmt.Sprintf("%d unreadable records skipped", skipped), "warning")
	}
	cli.PrintStatus(fmt.Sprintf("%d boards archived", count), "info")
	return nil
}

func runDelete(cfg *config.Config, logger *iface.Logger, cli *iface.CLI) error {
	if cfg.Board.StoreID == "" {
		return errors.New("delete needs -board-id <id>")
	}
	store, err := storage.Open(cfg.Board.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cfg.Board.StoreID); err != nil {
		return err
	}
	logger.Info("board deleted", zap.String("board", cfg.Board.StoreID))
	cli.PrintStatus("Deleted board "+cfg.Board.StoreID, "success")
	return nil
}

func runExport(cfg *config.Config, out string, cli *iface.CLI) error {
	if cfg.Board.StoreID == "" {
		return errors.New("export needs -board-id <id>")
	}
	store, err := storage.Open(cfg.Board.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(cfg.Board.StoreID)
	if err != nil {
		return err
	}
	data, err := rec.Marshal()
	if err != nil {
		return err
	}
	if out == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write board file: %w", err)
	}
	cli.PrintStatus("Exported board "+rec.ID+" to "+out, "success")
	return nil
}

func runStates(cfg *config.Config, cli *iface.CLI) error {
	if cfg.Detection.TablePath == "" {
		return errors.New("states needs -table <file> or detection.table_path")
	}
	table := statetable.New()
	if err := table.LoadFile(cfg.Detection.TablePath); err != nil {
		return err
	}
	cli.PrintStates(table.Snapshot())
	return nil
}

// runInit writes the effective configuration, defaults plus environment
// overrides, to path. An existing file is left alone.
func runInit(cfg *config.Config, path string, cli *iface.CLI) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	cli.PrintStatus("Wrote configuration to "+path, "success")
	return nil
}
