package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	flag "github.com/spf13/pflag"

	httpapi "github.com/RHEW-Laboratory/WU-Scraper/internal/api/http"
	"github.com/RHEW-Laboratory/WU-Scraper/internal/config"
	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
	"github.com/RHEW-Laboratory/WU-Scraper/internal/scheduler"
	"github.com/RHEW-Laboratory/WU-Scraper/internal/store"
	"github.com/RHEW-Laboratory/WU-Scraper/internal/wunderground"
)

const usage = `usage: wu-scraper <command> [flags]

commands:
  harvest  download a station's daily history into a gapless log
  resume   continue an interrupted log from its last record
  gapfill  insert placeholder days into an existing log
  serve    run the job API and scheduler
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "harvest":
		err = runHarvest(cfg, args)
	case "resume":
		err = runResume(cfg, args)
	case "gapfill":
		err = runGapFill(cfg, args)
	case "serve":
		err = runServe(cfg, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Printf("ERROR: %s: %v", cmd, err)
		if history.IsConfigError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// storeFlags registers the flags shared by every command that touches logs.
func storeFlags(fs *flag.FlagSet, cfg *config.AppConfig) {
	fs.StringVar(&cfg.Store.Backend, "store", cfg.Store.Backend, "log store backend: csv, postgres or memory")
	fs.StringVarP(&cfg.Store.Dir, "dir", "d", cfg.Store.Dir, "directory holding csv logs")
	fs.StringVar(&cfg.Store.Postgres.DSN, "pg-dsn", cfg.Store.Postgres.DSN, "PostgreSQL connection string")
}

func sourceFlags(fs *flag.FlagSet, cfg *config.AppConfig) {
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Weather Underground base URL")
	fs.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "timeout for one page request")
	fs.IntVar(&cfg.FetchMaxRetries, "retries", cfg.FetchMaxRetries, "extra attempts per window on transient failures")
	fs.DurationVar(&cfg.RequestInterval, "interval", cfg.RequestInterval, "minimum time between requests")
}

func newService(ctx context.Context, cfg *config.AppConfig) (*history.Service, func(), error) {
	st, closeStore, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	client, err := wunderground.NewClient(wunderground.ClientConfig{
		BaseURL:         cfg.BaseURL,
		HTTPClient:      &http.Client{Timeout: cfg.HTTPTimeout},
		UserAgent:       cfg.UserAgent,
		MaxRetries:      cfg.FetchMaxRetries,
		Backoff:         cfg.FetchBackoff,
		MaxBackoff:      10 * cfg.FetchBackoff,
		RequestInterval: cfg.RequestInterval,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	return history.NewService(client, wunderground.NewParser(), st), closeStore, nil
}

// interruptContext is cancelled on SIGINT/SIGTERM. The harvest loop only
// looks at it between windows.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runHarvest(cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("harvest", flag.ExitOnError)
	station := fs.StringP("airport", "a", "", "airport station code (ex. KSFO)")
	startFlag := fs.StringP("start-date", "s", "", "first day (yyyy-mm-dd)")
	endFlag := fs.StringP("end-date", "e", "", "last day (yyyy-mm-dd)")
	skipGapFill := fs.Bool("no-gapfill", false, "leave the log as downloaded")
	storeFlags(fs, cfg)
	sourceFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *station == "" || *startFlag == "" || *endFlag == "" {
		fs.Usage()
		return fmt.Errorf("%w: --airport, --start-date and --end-date are required", history.ErrInvalidRange)
	}
	start, err := history.ParseDate(*startFlag)
	if err != nil {
		return fmt.Errorf("%w: %v", history.ErrInvalidRange, err)
	}
	end, err := history.ParseDate(*endFlag)
	if err != nil {
		return fmt.Errorf("%w: %v", history.ErrInvalidRange, err)
	}

	ctx, stop := interruptContext()
	defer stop()

	svc, closeStore, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := svc.Run(ctx, history.Request{Station: *station, Start: start, End: end, SkipGapFill: *skipGapFill})
	if err != nil {
		if !res.Harvest.Next.IsZero() && errors.Is(err, context.Canceled) {
			log.Printf("INFO: interrupted; continue with: wu-scraper resume %s", res.Harvest.Log)
		}
		return err
	}
	return nil
}

func runResume(cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	skipGapFill := fs.Bool("no-gapfill", false, "leave the log as downloaded")
	storeFlags(fs, cfg)
	sourceFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("%w: expected one log file name", history.ErrBadLogName)
	}
	name, err := history.ParseLogName(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := useLogDir(fs, cfg, fs.Arg(0)); err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()

	svc, closeStore, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	_, err = svc.Resume(ctx, name, !*skipGapFill)
	return err
}

func runGapFill(cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("gapfill", flag.ExitOnError)
	storeFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("%w: expected one log file name", history.ErrBadLogName)
	}
	if err := useLogDir(fs, cfg, fs.Arg(0)); err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()

	st, closeStore, err := store.New(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	_, err = history.NewGapFiller(st).FillPath(ctx, fs.Arg(0))
	return err
}

// useLogDir points the csv store at the directory of a log path given on
// the command line. An explicit --dir naming another directory is an error.
func useLogDir(fs *flag.FlagSet, cfg *config.AppConfig, path string) error {
	if backend := strings.ToLower(cfg.Store.Backend); backend != "" && backend != store.BackendCSV {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if !fs.Changed("dir") {
		cfg.Store.Dir = dir
		return nil
	}

	want, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	have, err := filepath.Abs(cfg.Store.Dir)
	if err != nil {
		return err
	}
	if want != have {
		return fmt.Errorf("log %s is not in --dir %s", path, cfg.Store.Dir)
	}
	return nil
}

func runServe(cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVarP(&cfg.Port, "port", "p", cfg.Port, "HTTP listen port")
	storeFlags(fs, cfg)
	sourceFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, closeStore, err := newService(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Jobs run one at a time; the API only queues them.
	queue := scheduler.NewQueue(svc)
	sched := scheduler.New(queue, cfg.QueuePollInterval, cfg.DailyStations, cfg.DailyHarvestAt)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "wu-scraper",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "wu-scraper",
			"store":   cfg.Store.Backend,
		})
	})

	httpapi.RegisterRoutes(app, queue)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()
	log.Printf("INFO: listening on :%s", cfg.Port)

	ctx, stop := interruptContext()
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}
