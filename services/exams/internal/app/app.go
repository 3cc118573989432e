// Package app wires the exam-record service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"examtrack/internal/listing"
	"examtrack/internal/mutation"
	"examtrack/internal/profile"
	"examtrack/internal/ratelimit"
	"examtrack/internal/records"
	"examtrack/pkg/docstore"
	"examtrack/pkg/identity"
	"examtrack/pkg/notify"
	"examtrack/pkg/queue"
	"examtrack/pkg/storage"
	"examtrack/pkg/store"
	"examtrack/services/exams/internal/config"
)

const (
	defaultSessionTTL    = 24 * time.Hour
	defaultRedisPrefix   = "examtrack"
	defaultSignupLimit   = 5
	defaultLoginLimit    = 10
	defaultPasswordLimit = 5
)

// registrar is a notification registrar the dispatcher can also drain.
type registrar interface {
	notify.Registrar
	notify.Source
}

// Limiters throttle the unauthenticated auth endpoints.
type Limiters struct {
	Signup   ratelimit.Limiter
	Login    ratelimit.Limiter
	Password ratelimit.Limiter
}

// App holds the wired services.
type App struct {
	Identity   *identity.Service
	Records    *records.Service
	Lists      *listing.Registry
	Mutations  *mutation.Coordinator
	Profiles   *profile.Service
	Reminders  *notify.Scheduler
	Registrar  notify.Registrar
	Dispatcher *notify.Dispatcher
	Limiters   Limiters

	db    *gorm.DB
	redis *redis.Client
}

// Deps lets callers supply pre-built backends; nil fields are built from config.
type Deps struct {
	Redis *redis.Client
	Blobs storage.BlobStore
	// Mailer receives password reset links.
	Mailer identity.Mailer
}

// New builds the application from cfg.
func New(cfg config.FileConfig, deps Deps) (*App, error) {
	a := &App{redis: deps.Redis}
	if a.redis == nil && strings.TrimSpace(cfg.RedisAddr) != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}
	prefix := strings.TrimSpace(cfg.RedisPrefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	var (
		docs     docstore.Store
		accounts store.AccountStore
	)
	switch cfg.Backend {
	case config.BackendMemory:
		docs = docstore.NewMemoryStore()
		accounts = store.NewMemoryStore()
	default:
		db, err := store.OpenPostgres(cfg.DatabaseURL, &store.AccountModel{}, &docstore.DocumentModel{})
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.db = db
		gormDocs, err := docstore.NewGormStore(db)
		if err != nil {
			return nil, fmt.Errorf("init document store: %w", err)
		}
		docs = gormDocs
		accounts = store.NewGormStore(db)
	}

	blobs := deps.Blobs
	if blobs == nil {
		presign, err := config.ParseDuration("presignExpiry", cfg.PresignExpiry)
		if err != nil {
			return nil, err
		}
		blobs, err = storage.NewFromConfig(storage.Config{
			Driver:        cfg.StorageDriver,
			Endpoint:      cfg.StorageEndpoint,
			Region:        cfg.StorageRegion,
			AccessKey:     cfg.StorageAccessKey,
			SecretKey:     cfg.StorageSecretKey,
			Bucket:        cfg.StorageBucket,
			UseSSL:        cfg.StorageUseSSL,
			PublicBaseURL: cfg.StoragePublicBaseURL,
			PresignExpiry: presign,
		})
		if err != nil {
			return nil, fmt.Errorf("init blob store: %w", err)
		}
	}

	ident, err := a.buildIdentity(cfg, accounts, deps.Mailer)
	if err != nil {
		return nil, err
	}
	a.Identity = ident

	loc, err := config.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	var reg registrar = notify.NewMemoryRegistrar()
	if a.redis != nil {
		reg = notify.NewRedisRegistrar(a.redis, prefix+":notify")
	}
	a.Registrar = reg
	a.Reminders = notify.NewScheduler(reg, loc)
	if err := a.buildDispatcher(cfg, reg, prefix); err != nil {
		return nil, err
	}

	a.Records = records.NewService(docs, identity.ContextResolver{})
	a.Lists = listing.NewRegistry(a.Records)
	idle, err := config.ParseDuration("listIdleTTL", cfg.ListIdleTTL)
	if err != nil {
		return nil, err
	}
	a.Lists.SetIdleTTL(idle)
	a.Profiles = profile.NewService(docs, blobs)
	a.Mutations, err = mutation.New(mutation.Config{
		Records:   a.Records,
		Blobs:     blobs,
		Reminders: a.Reminders,
		Observer: func(id string, phase mutation.Phase) {
			slog.Debug("record mutation", "record_id", id, "phase", string(phase))
		},
	})
	if err != nil {
		return nil, err
	}

	if a.Limiters, err = a.buildLimiters(cfg, prefix); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) buildIdentity(cfg config.FileConfig, accounts store.AccountStore, mailer identity.Mailer) (*identity.Service, error) {
	ttl, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	if ttl == 0 {
		ttl = defaultSessionTTL
	}
	leeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		return nil, err
	}
	resetTTL, err := config.ParseDuration("resetTTL", cfg.ResetTTL)
	if err != nil {
		return nil, err
	}

	var (
		revoker     store.TokenRevoker
		resetTokens store.ResetTokenStore
	)
	if a.redis != nil {
		revoker = store.NewRedisTokenRevoker(a.redis)
		resetTokens = store.NewRedisResetTokenStore(a.redis)
	} else {
		revoker = store.NewMemoryTokenRevoker()
		resetTokens = store.NewMemoryResetTokenStore()
	}
	sessions, err := store.NewJWTSessionStore(cfg.SessionSecret, ttl, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("init sessions: %w", err)
	}
	return identity.New(identity.Config{
		Accounts:    accounts,
		Sessions:    sessions,
		ResetTokens: resetTokens,
		Mailer:      mailer,
		ResetTTL:    resetTTL,
		ResetURL:    cfg.ResetURL,
	})
}

func (a *App) buildDispatcher(cfg config.FileConfig, source notify.Source, prefix string) error {
	interval, err := config.ParseDuration("notifyInterval", cfg.NotifyInterval)
	if err != nil {
		return err
	}
	var q *queue.RedisJobQueue
	if a.redis != nil {
		stream := strings.TrimSpace(cfg.NotifyQueueStream)
		if stream == "" {
			stream = prefix + ":deliveries"
		}
		q, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Client:     a.redis,
			Stream:     stream,
			Group:      "exams-notify",
			MaxRetries: cfg.NotifyQueueRetries,
		})
		if err != nil {
			return fmt.Errorf("init delivery queue: %w", err)
		}
	}
	a.Dispatcher, err = notify.NewDispatcher(notify.DispatcherConfig{
		Source:      source,
		Deliverer:   notify.LogDeliverer{},
		Queue:       q,
		Concurrency: cfg.NotifyConcurrency,
		Interval:    interval,
		BatchSize:   cfg.NotifyDispatchBatch,
	})
	return err
}

func (a *App) buildLimiters(cfg config.FileConfig, prefix string) (Limiters, error) {
	newLimiter := func(name string, limit, fallback int) (ratelimit.Limiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		if a.redis == nil {
			limiter, err := ratelimit.NewMemoryLimiter(limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(a.redis, prefix+":ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	var (
		out Limiters
		err error
	)
	if out.Signup, err = newLimiter("signup", cfg.SignupRateLimitPerMinute, defaultSignupLimit); err != nil {
		return Limiters{}, err
	}
	if out.Login, err = newLimiter("login", cfg.LoginRateLimitPerMinute, defaultLoginLimit); err != nil {
		return Limiters{}, err
	}
	if out.Password, err = newLimiter("password", cfg.PasswordRateLimitPerMinute, defaultPasswordLimit); err != nil {
		return Limiters{}, err
	}
	return out, nil
}

// RunBackground runs the reminder dispatcher until ctx is canceled.
func (a *App) RunBackground(ctx context.Context) {
	a.Dispatcher.Run(ctx)
}

// Ping checks the backing services.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.db != nil {
		sqlDB, err := a.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
