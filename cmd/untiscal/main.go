package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"

	"untiscal/internal/access"
	"untiscal/internal/config"
	"untiscal/internal/export"
	"untiscal/internal/feed"
	appLog "untiscal/internal/log"
	"untiscal/internal/untis"
	"untiscal/internal/web"
	"untiscal/internal/webuntis"
)

const appName = "untiscal"

type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()
	displayAppname(appName)

	if err := run(flags); err != nil {
		appLog.Error("untiscal failed", err)
		os.Exit(1)
	}
	appLog.Info("untiscal exiting")
}

func run(flags flagConfig) error {
	if err := config.LoadEnv(flags.envPath); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	conf.ApplyEnv()

	// CLI flags win over file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLog.SetFormat(conf.LogFormat)
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"store", conf.Store.Driver,
		"weeks", conf.Weeks,
		"refresh", conf.Refresh.String(),
		"export_dir", conf.Export.Dir,
		"accesses", len(conf.Accesses),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLog.Warn("closing access store failed", "error", err.Error())
		}
	}()

	client := untis.NewClient(untis.WebUntisDialer(webuntis.Options{
		Identity:  conf.Provider.Identity,
		UserAgent: conf.Provider.UserAgent,
		Timeout:   conf.Provider.Timeout,
	}))
	gen := feed.NewGenerator(client, feed.Options{Weeks: conf.Weeks, Refresh: conf.Refresh})

	if flags.once {
		if conf.Export.Dir == "" {
			return errors.New("-once needs export.dir")
		}
		sum, err := export.New(store, gen, conf.Export.Dir).Run(ctx)
		if err != nil {
			return err
		}
		if sum.Failed > 0 {
			return fmt.Errorf("%d of %d feeds failed", sum.Failed, sum.Failed+sum.Written+sum.Unchanged)
		}
		return nil
	}

	if conf.Export.Dir != "" {
		sched, err := export.NewScheduler(conf.Export.Cron, export.New(store, gen, conf.Export.Dir))
		if err != nil {
			return err
		}
		sched.Start()
		appLog.Info("export scheduled", "cron", conf.Export.Cron, "dir", conf.Export.Dir)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	return web.StartServer(ctx, conf, store, gen)
}

// openStore builds the configured access store and upserts the accesses
// listed in the config file into it.
func openStore(ctx context.Context, conf *config.Config) (access.Store, error) {
	accesses, err := conf.AccessList()
	if err != nil {
		return nil, err
	}
	if conf.Store.Driver == config.DriverMemory {
		mem, err := access.NewMemoryStore(accesses...)
		if err != nil {
			return nil, err
		}
		return mem, nil
	}

	sealer, err := access.NewSealer(conf.Store.SealKey)
	if err != nil {
		return nil, fmt.Errorf("seal key: %w", err)
	}

	var store access.Store
	switch conf.Store.Driver {
	case config.DriverRedis:
		store, err = access.NewRedisStore(ctx, conf.Store.RedisURL, sealer)
	case config.DriverSQL:
		store, err = access.OpenSQL(conf.Store.DatabaseURL, sealer)
	default:
		err = fmt.Errorf("unknown store driver %q", conf.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	for _, a := range accesses {
		if err := store.Put(ctx, a); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("store access %s: %w", appLog.RedactID(a.ID), err)
		}
	}
	return store, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/untiscal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Path to an optional .env file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.once, "once", false, "Export every feed once to export.dir and exit")

	flag.Parse()

	return cfg
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
