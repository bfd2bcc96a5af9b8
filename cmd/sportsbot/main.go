// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/dedup"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/dispatch"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/feed"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/forward"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/journal"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/rules"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/sender"
	"go.astrophena.name/sportsbot/cmd/sportsbot/internal/telegram"
	"go.astrophena.name/sportsbot/internal/cli"
	"go.astrophena.name/sportsbot/internal/cli/envflag"
	"go.astrophena.name/sportsbot/internal/filelock"
	"go.astrophena.name/sportsbot/internal/httplogger"
	"go.astrophena.name/sportsbot/internal/logger"
	"go.astrophena.name/sportsbot/internal/store"
	"go.astrophena.name/sportsbot/internal/syncx"
	"go.astrophena.name/sportsbot/internal/systemd"

	"github.com/joho/godotenv"
)

const (
	defaultFeedURL = "https://www.sports.ru/rss/all_news.xml"
	defaultEnvFile = ".env"

	seenFile = "seen.txt"
	dbFile   = "sportsbot.db"
	lockFile = "sportsbot.lock"

	httpTimeout   = 90 * time.Second // longer than the getUpdates long poll
	cacheSize     = 10000
	keptCycles    = 20
	logStreamSize = 1000
)

var errAlreadyRunning = errors.New("already running")

func main() { cli.Main(new(bot)) }

type bot struct {
	// configuration
	dry       bool
	verbose   bool
	envFile   string
	token     string
	channelID string
	feedURL   string
	interval  time.Duration
	delay     time.Duration
	stateDir  string
	dbURL     string
	seenLimit int
	rulesFile string
	adminIDs  []int64
	adminAddr string
	support   string
	badWords  []string

	// initialized by init
	getenv    func(string) string
	httpc     *http.Client
	scrubber  *strings.Replacer
	slog      *slog.Logger
	slogLevel *slog.LevelVar
	logStream logger.Streamer
	logf      logger.Logf

	// initialized by setup
	db         *store.DB
	journal    *journal.Journal
	seen       *dedup.Store
	fetcher    *feed.Fetcher
	poller     *feed.Poller
	dispatcher *dispatch.Dispatcher
	cycles     *syncx.Protected[*cycleLog]
	started    time.Time
	closers    []func() error
}

// cycleLog keeps the most recent polling cycles.
type cycleLog struct{ results []feed.CycleResult }

func (b *bot) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&b.dry, "dry", false, "Enable dry-run mode: log messages, deletions and callback answers instead of sending them, and don't save the seen set.")
	fs.BoolVar(&b.verbose, "verbose", false, "Enable debug logging.")
	fs.StringVar(&b.envFile, "env", "", "Read environment variables from `file` (default \""+defaultEnvFile+"\").")
}

func (b *bot) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	if len(env.Args) > 1 {
		return fmt.Errorf("%w: too many arguments", cli.ErrInvalidArgs)
	}
	command := env.Args[0]

	if err := b.init(ctx, env); err != nil {
		return err
	}

	switch command {
	case "run":
		defer b.close()
		if err := b.setup(ctx, true); err != nil {
			return err
		}
		return b.run(ctx)
	case "once":
		defer b.close()
		if err := b.setup(ctx, false); err != nil {
			return err
		}
		res := b.poller.Cycle(ctx)
		fmt.Fprintf(env.Stdout, "fetched %d, new %d, blocked %d, forwarded %d, failed %d\n",
			res.Fetched, res.New, res.Blocked, res.Forwarded, res.Failed)
		if res.FetchError != "" {
			return fmt.Errorf("fetching feed: %s", res.FetchError)
		}
		return nil
	case "seen":
		for _, id := range b.seenStore().Load().IDs() {
			fmt.Fprintln(env.Stdout, id)
		}
		return nil
	case "stats":
		return b.printStats(ctx, env.Stdout)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

// init loads configuration from the environment and sets up logging.
func (b *bot) init(ctx context.Context, env *cli.Env) error {
	getenv, err := withDotenv(env.Getenv, b.envFile)
	if err != nil {
		return err
	}
	b.getenv = getenv

	b.token = cmp.Or(b.token, getenv("TELEGRAM_TOKEN"))
	b.channelID = cmp.Or(b.channelID, getenv("CHANNEL_ID"))
	b.feedURL = cmp.Or(b.feedURL, getenv("FEED_URL"), defaultFeedURL)
	b.dbURL = cmp.Or(b.dbURL, getenv("DATABASE_URL"))
	b.rulesFile = cmp.Or(b.rulesFile, getenv("RULES_FILE"))
	b.adminAddr = cmp.Or(b.adminAddr, getenv("ADMIN_ADDR"))
	b.support = cmp.Or(b.support, getenv("SUPPORT_URL"))

	var errs []error
	if b.interval == 0 {
		b.interval, err = envflag.Lookup(getenv, "POLL_INTERVAL", feed.DefaultInterval)
		errs = append(errs, err)
	}
	if b.delay == 0 {
		b.delay, err = envflag.Lookup(getenv, "SEND_DELAY", forward.DefaultDelay)
		errs = append(errs, err)
	}
	if b.seenLimit == 0 {
		b.seenLimit, err = envflag.Lookup(getenv, "SEEN_LIMIT", 0)
		errs = append(errs, err)
	}
	if b.adminIDs == nil {
		b.adminIDs, err = parseIDs(getenv("ADMIN_IDS"))
		errs = append(errs, err)
	}
	if b.badWords == nil {
		b.badWords = splitList(getenv("BAD_WORDS"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	if b.interval <= 0 || b.delay < 0 || b.seenLimit < 0 {
		return fmt.Errorf("%w: POLL_INTERVAL must be positive, SEND_DELAY and SEEN_LIMIT must not be negative", cli.ErrInvalidArgs)
	}

	b.stateDir = cmp.Or(b.stateDir, getenv("STATE_DIRECTORY"))
	if b.stateDir == "" {
		xdgStateHome := getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		b.stateDir = filepath.Join(xdgStateHome, "sportsbot")
	}
	if err := os.MkdirAll(b.stateDir, 0o700); err != nil {
		return err
	}
	b.dbURL = cmp.Or(b.dbURL, filepath.Join(b.stateDir, dbFile))

	if b.token != "" {
		b.scrubber = strings.NewReplacer(b.token, "[EXPUNGED]")
	}

	b.logStream = logger.NewStreamer(logStreamSize)
	l := logger.New(io.MultiWriter(env.Stderr, b.logStream))
	b.slog, b.slogLevel = l.Logger, l.Level
	if b.dry || b.verbose {
		b.slogLevel.Set(slog.LevelDebug)
	}
	b.logf = env.Logf

	if b.httpc == nil {
		b.httpc = &http.Client{Timeout: httpTimeout}
	}
	b.httpc.Transport = httplogger.New(b.httpc.Transport, func(format string, args ...any) {
		b.slog.Debug(fmt.Sprintf(format, args...))
	}, b.scrubber)

	return nil
}

// withDotenv returns getenv that falls back to variables from the .env file.
// A missing default file is not an error.
func withDotenv(getenv func(string) string, file string) (func(string) string, error) {
	vars, err := godotenv.Read(cmp.Or(file, defaultEnvFile))
	if err != nil {
		if file == "" && errors.Is(err, fs.ErrNotExist) {
			return getenv, nil
		}
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return vars[key]
	}, nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, f := range splitList(s) {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_IDS: %q is not a user ID", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitList(s string) []string {
	var list []string
	for f := range strings.SplitSeq(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			list = append(list, f)
		}
	}
	return list
}

func (b *bot) seenStore() *dedup.Store {
	if b.seen == nil {
		b.seen = dedup.NewStore(filepath.Join(b.stateDir, seenFile), b.seenLimit, b.slog)
	}
	return b.seen
}

func (b *bot) openJournal(ctx context.Context) error {
	db, err := store.Open(ctx, b.dbURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	j, err := journal.New(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	b.db, b.journal = db, j
	return nil
}

// setup builds the poller and, if interactive is true, the dispatcher.
func (b *bot) setup(ctx context.Context, interactive bool) error {
	if b.token == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN is not set", cli.ErrInvalidArgs)
	}
	if b.channelID == "" {
		return fmt.Errorf("%w: CHANNEL_ID is not set", cli.ErrInvalidArgs)
	}
	if b.feedURL == "" {
		return fmt.Errorf("%w: FEED_URL is empty", cli.ErrInvalidArgs)
	}

	lock, err := filelock.Acquire(filepath.Join(b.stateDir, lockFile), strconv.Itoa(os.Getpid()))
	if errors.Is(err, filelock.ErrAlreadyLocked) {
		holder, _ := filelock.Holder(filepath.Join(b.stateDir, lockFile))
		return fmt.Errorf("%w (pid %s)", errAlreadyRunning, cmp.Or(holder, "unknown"))
	}
	if err != nil {
		return err
	}
	b.closers = append(b.closers, lock.Release)

	var block func(context.Context, feed.Entry) bool
	if b.rulesFile != "" {
		rule, err := rules.LoadFile(b.rulesFile, b.slog)
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
		block = rule.Blocked
	}

	if err := b.openJournal(ctx); err != nil {
		return err
	}
	b.closers = append(b.closers, b.db.Close)

	tg := telegram.New(telegram.Config{
		ChatID:     b.channelID,
		Token:      b.token,
		HTTPClient: b.httpc,
		Scrubber:   b.scrubber,
		Logger:     b.slog,
	})
	var api dispatch.API = tg
	if b.dry {
		api = &dryRunAPI{Client: tg, slog: b.slog}
	}

	b.fetcher = feed.NewFetcher(feed.FetcherConfig{
		URL:        b.feedURL,
		HTTPClient: b.httpc,
		Logger:     b.slog,
	})
	b.cycles = syncx.Protect(new(cycleLog))
	b.poller = &feed.Poller{
		Source: b.fetcher,
		Forwarder: &forward.Forwarder{
			Sender: api,
			ChatID: b.channelID,
			Delay:  b.delay,
			Logger: b.slog,
		},
		Store:    b.seenStore(),
		Block:    block,
		Interval: b.interval,
		Logger:   b.slog,
		Dry:      b.dry,
		OnCycle:  b.recordCycle,
	}

	if !interactive {
		return nil
	}

	state, err := store.NewSQLStore(ctx, b.db, b.slog)
	if err != nil {
		return err
	}
	cache, err := store.NewMemStore(cacheSize)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, cache.Close)

	b.dispatcher = dispatch.New(dispatch.Config{
		API:        api,
		Journal:    b.journal,
		State:      state,
		Cache:      cache,
		ChannelID:  b.channelID,
		SupportURL: b.support,
		AdminIDs:   b.adminIDs,
		BadWords:   b.badWords,
		Logger:     b.slog,
	})
	return nil
}

func (b *bot) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.slog.Warn("cleaning up", "error", err)
		}
	}
	b.closers = nil
}

func (b *bot) recordCycle(res feed.CycleResult) {
	b.cycles.Access(func(cl *cycleLog) {
		cl.results = append(cl.results, res)
		if len(cl.results) > keptCycles {
			cl.results = cl.results[len(cl.results)-keptCycles:]
		}
	})
	systemd.Notify(b.getenv, b.logf, systemd.Status(
		"Last cycle at %s: %d new, %d forwarded, %d failed",
		res.Started.Format(time.TimeOnly), res.New, res.Forwarded, res.Failed,
	))
}

func (b *bot) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.started = time.Now()
	b.slog.Info("starting", "feed", b.feedURL, "channel", b.channelID, "interval", b.interval, "dry", b.dry)

	adminErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Go(func() {
		if err := b.poller.Run(ctx); err != nil {
			b.slog.Error("poller stopped", "error", err)
		}
	})
	wg.Go(func() {
		if err := b.dispatcher.Run(ctx); err != nil {
			b.slog.Error("dispatcher stopped", "error", err)
		}
	})
	wg.Go(func() { systemd.WatchdogLoop(ctx, b.getenv, b.logf) })
	if b.adminAddr != "" {
		wg.Go(func() {
			if err := b.serveAdmin(ctx); err != nil {
				adminErr <- err
				cancel()
			}
		})
	}

	systemd.Notify(b.getenv, b.logf, systemd.Ready)
	<-ctx.Done()
	systemd.Notify(b.getenv, b.logf, systemd.Stopping)
	b.slog.Info("shutting down")
	wg.Wait()

	select {
	case err := <-adminErr:
		return fmt.Errorf("admin server: %w", err)
	default:
		return nil
	}
}

func (b *bot) printStats(ctx context.Context, w io.Writer) error {
	if err := b.openJournal(ctx); err != nil {
		return err
	}
	defer b.db.Close()

	totals, err := b.journal.Totals(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "users:    %d\n", totals.Users)
	fmt.Fprintf(w, "messages: %d\n", totals.Messages)
	fmt.Fprintf(w, "warnings: %d\n", totals.Warnings)
	fmt.Fprintf(w, "feedback: %d\n", totals.Feedback)

	fbs, err := b.journal.RecentFeedback(ctx, 10)
	if err != nil {
		return err
	}
	if len(fbs) > 0 {
		fmt.Fprintln(w, "\nLatest feedback:")
	}
	for _, fb := range fbs {
		fmt.Fprintf(w, "  #%s %s from %d: %s\n", fb.Ticket, fb.Created.Format(time.DateTime), fb.UserID, fb.Message)
	}
	return nil
}

// dryRunAPI logs the calls that change something in Telegram instead of
// making them. Reads such as getUpdates still go to Telegram.
type dryRunAPI struct {
	*telegram.Client
	slog *slog.Logger
}

func (a *dryRunAPI) Send(ctx context.Context, msg sender.Message) error {
	a.slog.Info("dry run, not sending", "chat", msg.ChatID, "text", msg.Body.Text)
	return nil
}

func (a *dryRunAPI) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	a.slog.Info("dry run, not deleting", "chat", chatID, "message", messageID)
	return nil
}

func (a *dryRunAPI) AnswerCallbackQuery(ctx context.Context, id, text string, showAlert bool) error {
	a.slog.Info("dry run, not answering callback", "query", id, "text", text)
	return nil
}
