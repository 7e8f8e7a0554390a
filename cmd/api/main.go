package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	formguard "github.com/nazarhussain/form-guard/internal"
	"github.com/nazarhussain/form-guard/internal/logging"
	"github.com/nazarhussain/form-guard/internal/notify"
	"github.com/nazarhussain/form-guard/internal/pipeline"
	"github.com/nazarhussain/form-guard/internal/ratelimit"
	"github.com/nazarhussain/form-guard/internal/spam"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env", "err", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("form-guard stopped", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	conf, err := formguard.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, conf)
	if err != nil {
		return err
	}
	defer closeStore()

	transport, err := newTransport(ctx, conf)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(transport, notify.Config{
		To:            conf.To,
		SiteName:      conf.SiteName,
		SiteURL:       conf.SiteURL,
		ContactPhone:  conf.ContactPhone,
		Location:      conf.Location,
		SendTimeout:   conf.MailTimeout,
		MaxConcurrent: int64(conf.MailMaxConcurrent),
	})

	filter := spam.New(spam.Config{
		MinFill:           conf.MinFill,
		MaxLinks:          conf.MaxLinks,
		Keywords:          conf.Keywords,
		DisposableDomains: conf.DisposableDomains,
	})

	p := pipeline.New(pipeline.Config{
		Window:            conf.RateWindow,
		MaxPerWindow:      conf.RateMax,
		TrustProxyHeaders: conf.TrustProxyHeaders,
	}, filter, store, dispatcher)

	router, err := formguard.NewRouter(conf, p, logger)
	if err != nil {
		return err
	}

	s := &http.Server{
		Addr:              conf.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      conf.MailTimeout*2 + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("form-guard listening",
			"addr", conf.ListenAddr,
			"rate_backend", conf.RateBackend,
			"mail_transport", conf.MailTransport,
		)
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.MailTimeout+5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, conf *formguard.Config) (ratelimit.Store, func(), error) {
	if conf.RateBackend == formguard.BackendSQLite {
		s, err := ratelimit.OpenSQLite(ctx, conf.RateSQLite, conf.RateWindow)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return ratelimit.NewFileStore(conf.RateFile, conf.RateWindow), func() {}, nil
}

func newTransport(ctx context.Context, conf *formguard.Config) (notify.Transport, error) {
	if conf.MailTransport == formguard.TransportSES {
		client, err := notify.NewSESClient(ctx, conf.SESRegion)
		if err != nil {
			return nil, err
		}
		return notify.NewSESTransport(client, conf.SiteName, conf.FromAddr), nil
	}
	return notify.NewSMTPTransport(notify.SMTPConfig{
		Host: conf.SMTP.Host,
		Port: conf.SMTP.Port,
		User: conf.SMTP.User,
		Pass: conf.SMTP.Pass,
		SSL:  conf.SMTP.SSL,
	}, conf.SiteName, conf.FromAddr), nil
}
