// Package main runs the WhatsApp bot: it links or resumes a device,
// logs every event it receives and optionally answers a trigger message.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MardaOneli/WaBot/internal/authstate"
	"github.com/MardaOneli/WaBot/internal/config"
	"github.com/MardaOneli/WaBot/internal/db"
	"github.com/MardaOneli/WaBot/internal/dispatch"
	"github.com/MardaOneli/WaBot/internal/failure"
	"github.com/MardaOneli/WaBot/internal/logger"
	"github.com/MardaOneli/WaBot/internal/msgcache"
	"github.com/MardaOneli/WaBot/internal/prompt"
	"github.com/MardaOneli/WaBot/internal/reply"
	"github.com/MardaOneli/WaBot/internal/repository"
	"github.com/MardaOneli/WaBot/internal/server"
	"github.com/MardaOneli/WaBot/internal/server/handler/http"
	"github.com/MardaOneli/WaBot/internal/session"
	"github.com/MardaOneli/WaBot/internal/version"
	"github.com/MardaOneli/WaBot/internal/whatsapp"
)

var (
	// buildVersion holds the build version set via ldflags.
	buildVersion string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, environment and file configuration.
	options := config.MustParse()
	if options.ShowVersion {
		fmt.Printf("WaBot\nVersion: %s\nBuild Date: %s\n", cmp.Or(buildVersion, "N/A"), cmp.Or(buildDate, "N/A"))
		return
	}
	if err := options.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize structured logging.
	lg := logger.New(logger.WithFile(options.Log.File))
	defer func() { _ = lg.Close() }()
	if err := lg.Init(options.Log.Level); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	zapLogger := lg.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, options, zapLogger)
	var closed *failure.ConnectionClosed
	if errors.As(err, &closed) {
		zapLogger.Warn("connection closed", zap.String("reason", closed.Reason), zap.Bool("permanent", closed.Permanent))
	}
	switch {
	case errors.Is(err, failure.ErrLoggedOut):
		zapLogger.Warn("you are logged out")
	case err != nil:
		zapLogger.Fatal("bot stopped", zap.Error(err))
	default:
		zapLogger.Info("bot stopped")
	}
}

func run(ctx context.Context, options *config.Options, zapLogger *zap.Logger) error {
	// Credential store shared by the bootstrapper and the dispatcher.
	authStore := authstate.New(options.Auth.Dialect, options.Auth.DSN, whatsapp.Logger(zapLogger.Named("store")))

	// Optional message cache.
	var (
		cacheStore *msgcache.Store
		cache      dispatch.MessageCache
	)
	if options.EnableMessageCache {
		snap, closeSnap, err := newSnapshotter(ctx, options, zapLogger)
		if err != nil {
			return err
		}
		defer closeSnap()

		cacheStore = msgcache.NewStore(snap, zapLogger.Named("cache"),
			msgcache.WithInterval(options.Cache.FlushInterval.Std()),
			msgcache.WithRetention(options.Cache.Retention.Std()))
		if err := cacheStore.Load(ctx); err != nil {
			zapLogger.Error("failed to load message cache, starting empty", zap.Error(err))
		}
		cacheStore.Start(ctx)
		defer func() {
			if err := cacheStore.Close(context.Background()); err != nil {
				zapLogger.Error("final cache flush failed", zap.Error(err))
			}
		}()
		cache = cacheStore
	}

	// Session bootstrap and supervision.
	phone := prompt.Stdio()
	if options.UsePairingCode && !phone.Interactive() {
		zapLogger.Warn("stdin is not a terminal, the phone number is read from piped input")
	}
	bootstrapper := session.NewBootstrapper(
		authStore,
		version.NewFetcher(options.Version.URL, options.Version.Timeout.Std()),
		&whatsapp.Factory{Devices: authStore, Log: zapLogger.Named("client")},
		phone,
		whatsapp.RenderQR(os.Stdout),
		os.Stdout,
		zapLogger.Named("session"),
		session.BootstrapConfig{
			UsePairingCode: options.UsePairingCode,
			StrictVersion:  options.Version.Strict,
		},
	)
	supervisor := session.NewSupervisor(bootstrapper, zapLogger.Named("supervisor"),
		session.WithBackoff(session.Backoff{
			Initial:     options.Reconnect.Initial.Std(),
			Max:         options.Reconnect.Max.Std(),
			Factor:      options.Reconnect.Factor,
			MaxAttempts: options.Reconnect.MaxAttempts,
		}))

	// Event dispatcher.
	var replier dispatch.Replier
	if options.EnableAutoReply {
		replier = reply.New(supervisor.Messenger(), zapLogger.Named("reply"),
			reply.WithDelays(options.Reply.SubscribeDelay.Std(), options.Reply.TypingDelay.Std()))
	}
	dispatcher := dispatch.New(zapLogger.Named("dispatch"), supervisor, authStore, replier, cache, dispatch.Options{
		AutoReply:   options.EnableAutoReply,
		Trigger:     options.Reply.Trigger,
		ReplyText:   options.Reply.Text,
		HashOptions: whatsapp.HashPollOptions,
	})

	// Optional status endpoint.
	if options.StatusAddr != "" {
		statusHandler := &http.StatusHandler{
			Source:     supervisor,
			InstanceID: uuid.NewString(),
			Version:    cmp.Or(buildVersion, "N/A"),
			Started:    time.Now(),
		}
		if cacheStore != nil {
			statusHandler.Cache = cacheStore
		}
		router := http.NewRouter(statusHandler, zapLogger.Named("http"), options.StatusToken)
		go func() {
			if err := server.Serve(ctx, options.StatusAddr, router, zapLogger, nil); err != nil {
				zapLogger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	return supervisor.Run(ctx, dispatcher)
}

// newSnapshotter builds the configured cache backend and a cleanup func.
func newSnapshotter(ctx context.Context, options *config.Options, zapLogger *zap.Logger) (msgcache.Snapshotter, func(), error) {
	switch options.Cache.Backend {
	case config.CachePostgres:
		postgresDB, err := db.InitPostgres(ctx, options.Cache.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot init cache database: %w", err)
		}
		db.StartCachePruner(ctx, postgresDB,
			options.Cache.PruneInterval.Std(),
			options.Cache.Retention.Std(),
			zapLogger.Named("pruner"),
		)
		return repository.NewPostgresCacheRepository(postgresDB), func() { _ = postgresDB.Close() }, nil
	default:
		var opts []msgcache.FileOption
		if options.Cache.Passphrase != "" {
			opts = append(opts, msgcache.WithPassphrase(options.Cache.Passphrase))
		}
		return msgcache.NewFileSnapshotter(options.Cache.Path, opts...), func() {}, nil
	}
}
