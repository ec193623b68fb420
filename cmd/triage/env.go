package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/inbox-triage/internal/action"
	"github.com/nhle/inbox-triage/internal/categorize"
	"github.com/nhle/inbox-triage/internal/classify"
	"github.com/nhle/inbox-triage/internal/credential"
	"github.com/nhle/inbox-triage/internal/dedup"
	"github.com/nhle/inbox-triage/internal/ingest"
	"github.com/nhle/inbox-triage/internal/model"
	"github.com/nhle/inbox-triage/internal/pipeline"
	"github.com/nhle/inbox-triage/internal/review"
	"github.com/nhle/inbox-triage/internal/source"
	"github.com/nhle/inbox-triage/internal/source/email"
	"github.com/nhle/inbox-triage/internal/source/gmail"
	"github.com/nhle/inbox-triage/internal/store"
)

// env holds what a command opened, so it can all be closed in one place.
type env struct {
	cfg     *model.AppConfig
	logger  *zap.Logger
	store   *store.SQLiteStore
	tax     *model.Taxonomy
	vault   *credential.Vault
	cls     *classify.Limited
	closers []func() error
}

func openEnv() (*env, error) {
	tax, err := model.NewTaxonomy(cfg.Taxonomy)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Database.Path, err)
	}
	e := &env{cfg: cfg, logger: logger, store: st, tax: tax}
	e.closers = append(e.closers, st.Close)
	return e, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("closing resource", zap.Error(err))
		}
	}
}

func (e *env) credentials() (*credential.Vault, error) {
	if e.vault != nil {
		return e.vault, nil
	}
	v, err := credential.Open("")
	if err != nil {
		return nil, err
	}
	e.vault = v
	return v, nil
}

// secret reads an optional credential. Missing values are not an error.
func (e *env) secret(key string) (string, error) {
	v, err := e.credentials()
	if err != nil {
		return "", err
	}
	val, err := v.Lookup(key)
	if errors.Is(err, credential.ErrNotFound) {
		return "", nil
	}
	return val, err
}

func (e *env) mailbox(ctx context.Context) (source.Mailbox, error) {
	mc := e.cfg.Mailbox
	switch mc.Provider {
	case string(source.ProviderIMAP), "":
		port, err := strconv.Atoi(mc.Port)
		if err != nil {
			return nil, fmt.Errorf("invalid mailbox.port %q: %w", mc.Port, err)
		}
		password, err := e.secret(credential.KeyIMAPPassword)
		if err != nil {
			return nil, err
		}
		if password == "" {
			return nil, &source.AuthError{
				Provider: source.ProviderIMAP,
				Message:  "no password stored; run 'triage credentials set " + credential.KeyIMAPPassword + "'",
			}
		}
		mb := email.NewMailbox(email.Config{
			Host:        mc.Host,
			Port:        port,
			Username:    mc.Username,
			Password:    password,
			TLS:         mc.TLS,
			Mailbox:     mc.Mailbox,
			MaxMessages: mc.MaxMessages,
		}, e.logger.Named("imap"))
		e.closers = append(e.closers, mb.Close)
		return mb, nil

	case string(source.ProviderGmail):
		v, err := e.credentials()
		if err != nil {
			return nil, err
		}
		tok, err := v.LoadToken()
		if errors.Is(err, credential.ErrNotFound) {
			return nil, &source.AuthError{
				Provider: source.ProviderGmail,
				Message:  "no OAuth token stored; run 'triage credentials gmail-login'",
			}
		}
		if err != nil {
			return nil, err
		}
		mb, err := gmail.NewMailbox(ctx, gmailConfig(e.cfg), tok, e.logger.Named("gmail"))
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, mb.Close)
		return mb, nil

	default:
		return nil, fmt.Errorf("unknown mailbox provider %q", mc.Provider)
	}
}

func gmailConfig(c *model.AppConfig) gmail.Config {
	return gmail.Config{
		ClientID:          c.Mailbox.GmailClientID,
		ClientSecret:      c.Mailbox.GmailClientSecret,
		Query:             c.Mailbox.GmailQuery,
		MaxMessages:       c.Mailbox.MaxMessages,
		RequestsPerSecond: c.Mailbox.RequestsPerSecond,
	}
}

// claims connects to Redis when dedup is configured and returns nil
// otherwise.
func (e *env) claims(ctx context.Context) (ingest.Claimer, error) {
	dc := e.cfg.Dedup
	if dc.RedisAddr == "" {
		return nil, nil
	}
	c, err := dedup.New(ctx, dedup.Options{
		Addr:     dc.RedisAddr,
		Password: dc.RedisPassword,
		DB:       dc.RedisDB,
		TTL:      dc.ClaimTTL,
	})
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, c.Close)
	return c, nil
}

func (e *env) ingester(ctx context.Context) (*ingest.Controller, error) {
	mb, err := e.mailbox(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := e.claims(ctx)
	if err != nil {
		return nil, err
	}
	return ingest.New(e.store, mb, ingest.Options{
		Workers:           e.cfg.Pipeline.Workers,
		RequestsPerSecond: e.cfg.Mailbox.RequestsPerSecond,
		Claims:            claims,
		Logger:            e.logger.Named("ingest"),
	}), nil
}

// classifier builds the configured backend once; the categorizer and the
// language model handlers share its rate limit.
func (e *env) classifier(ctx context.Context) (*classify.Limited, error) {
	if e.cls != nil {
		return e.cls, nil
	}
	var apiKey string
	if key := credential.APIKeyFor(e.cfg.Classifier.Provider); key != "" {
		var err error
		if apiKey, err = e.secret(key); err != nil {
			return nil, err
		}
	}

	c, err := classify.New(ctx, e.cfg.Classifier, apiKey, e.logger.Named("classify"))
	if err != nil {
		return nil, err
	}
	e.cls = c
	return c, nil
}

func (e *env) categorizer(ctx context.Context) (*categorize.Categorizer, error) {
	c, err := e.classifier(ctx)
	if err != nil {
		return nil, err
	}
	return categorize.New(e.store, e.tax, c, categorize.Options{
		Workers:      e.cfg.Pipeline.Workers,
		ContentLimit: e.cfg.Classifier.ContentLimit,
		BatchSize:    e.cfg.Pipeline.BatchSize,
		Logger:       e.logger.Named("categorize"),
	}), nil
}

// router uses language model handlers when the classifier provider can
// answer prompts and rule based handlers otherwise.
func (e *env) router(ctx context.Context) (*action.Router, error) {
	c, err := e.classifier(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := action.DefaultRegistry(e.tax, c.Completer())
	if err != nil {
		return nil, err
	}
	return action.NewRouter(e.store, e.tax, reg, action.Options{
		Workers:      e.cfg.Pipeline.Workers,
		ExampleLimit: e.cfg.Review.ExampleLimit,
		BatchSize:    e.cfg.Pipeline.BatchSize,
		Logger:       e.logger.Named("act"),
	}), nil
}

func (e *env) exchange() *review.Exchange {
	return review.NewExchange(e.store, e.tax, review.Options{
		Reviewer: e.cfg.Review.Reviewer,
		Logger:   e.logger.Named("review"),
	})
}

// runner wires every phase. Without a reachable mailbox the ingest phase
// reports the failure on each run instead of aborting the command.
func (e *env) runner(ctx context.Context, skipIngest bool) (*pipeline.Runner, error) {
	cat, err := e.categorizer(ctx)
	if err != nil {
		return nil, err
	}
	router, err := e.router(ctx)
	if err != nil {
		return nil, err
	}
	r := &pipeline.Runner{
		Store:       e.store,
		Categorizer: cat,
		Actor:       router,
		Logger:      e.logger.Named("pipeline"),
	}
	if skipIngest {
		return r, nil
	}

	ing, err := e.ingester(ctx)
	switch {
	case err == nil:
		r.Ingester = ing
	case source.IsAuthError(err):
		r.Ingester = failingIngester{err: err}
	default:
		return nil, err
	}
	return r, nil
}

type failingIngester struct{ err error }

func (f failingIngester) Ingest(context.Context, source.Window) (ingest.Counts, error) {
	return ingest.Counts{}, f.err
}

// windowFlags are the --days/--since/--until flags shared by commands that
// select messages by time.
type windowFlags struct {
	days  int
	since string
	until string
}

const dateLayout = "2006-01-02"

func (w *windowFlags) register(cmd *cobra.Command, defaultDays int) {
	cmd.Flags().IntVar(&w.days, "days", defaultDays, "look back this many days")
	cmd.Flags().StringVar(&w.since, "since", "", "start date (YYYY-MM-DD), overrides --days")
	cmd.Flags().StringVar(&w.until, "until", "", "end date (YYYY-MM-DD, inclusive)")
}

// window resolves the flags. An unset window with zero days selects
// everything.
func (w *windowFlags) window() (source.Window, error) {
	if w.since == "" && w.until == "" {
		if w.days <= 0 {
			return source.Window{}, nil
		}
		return source.Lookback(w.days), nil
	}
	if w.since == "" {
		return source.Window{}, fmt.Errorf("--until needs --since")
	}
	from, err := time.ParseInLocation(dateLayout, w.since, time.Local)
	if err != nil {
		return source.Window{}, fmt.Errorf("invalid --since: %w", err)
	}
	var to time.Time
	if w.until != "" {
		to, err = time.ParseInLocation(dateLayout, w.until, time.Local)
		if err != nil {
			return source.Window{}, fmt.Errorf("invalid --until: %w", err)
		}
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	win := source.Range(from, to)
	if _, _, err := win.Resolve(time.Now()); err != nil {
		return source.Window{}, err
	}
	return win, nil
}

// bounds returns pointers for report and export filters; nil means open.
func (w *windowFlags) bounds() (*time.Time, *time.Time, error) {
	win, err := w.window()
	if err != nil || win == (source.Window{}) {
		return nil, nil, err
	}
	from, to, err := win.Resolve(time.Now())
	if err != nil {
		return nil, nil, err
	}
	return &from, &to, nil
}
