package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/moneyscripter/copytrade/app"
	"github.com/moneyscripter/copytrade/channels/basedping"
	"github.com/moneyscripter/copytrade/config"
	"github.com/moneyscripter/copytrade/logger"
	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/signature"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "copytrade",
		Usage: "relay signed leader trade signals to subscribed followers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config.json",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the bot, listener and delivery API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create the store schema and exit",
				Action: migrate,
			},
			{
				Name:  "sign",
				Usage: "print a signed leader message for a trade",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "symbol", Required: true},
					&cli.StringFlag{Name: "side", Required: true, Usage: "BUY or SELL"},
					&cli.Float64Flag{Name: "size", Required: true},
					&cli.Float64Flag{Name: "price"},
					&cli.Float64Flag{Name: "leverage", Value: 1},
					&cli.StringFlag{
						Name:     "secret",
						EnvVars:  []string{"COPYTRADE_LEADER_SECRET", "APP_SECRET"},
						Required: true,
					},
				},
				Action: sign,
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	return logger.New(logger.Options{
		Level:      cfg.Level,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

func serve(c *cli.Context) error {
	config.LoadConfig(c.String("config"))
	log, err := newLogger(config.AppConfig.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(config.AppConfig, log)
	if err != nil {
		return err
	}
	return a.Run(c.Context)
}

func migrate(c *cli.Context) error {
	config.LoadConfig(c.String("config"))
	log, err := newLogger(config.AppConfig.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := app.OpenStore(config.AppConfig.Store, log.Named("store"))
	if err != nil {
		return err
	}
	log.Info("Store ready", zap.String("driver", config.AppConfig.Store.Driver))
	return st.Close()
}

func sign(c *cli.Context) error {
	sig := models.Signal{
		Symbol:   strings.ToUpper(c.String("symbol")),
		Side:     strings.ToUpper(c.String("side")),
		Size:     c.Float64("size"),
		Price:    c.Float64("price"),
		Leverage: c.Float64("leverage"),
	}
	if sig.Side != models.SideBuy && sig.Side != models.SideSell {
		return errors.Wrapf(models.ErrValidation, "side %q", sig.Side)
	}

	var err error
	if sig.Signature, err = signature.Sign(sig, []byte(c.String("secret"))); err != nil {
		return err
	}
	msg, err := basedping.Format(sig)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, msg)
	return nil
}
