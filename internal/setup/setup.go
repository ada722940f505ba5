// Package setup wires the application graph: storage, session manager,
// verification engine, continuations, handlers and middleware.
package setup

import (
	"time"

	"github.com/gatehouse-dev/gatehouse/internal/breach"
	"github.com/gatehouse-dev/gatehouse/internal/config"
	"github.com/gatehouse-dev/gatehouse/internal/email"
	"github.com/gatehouse-dev/gatehouse/internal/handler"
	"github.com/gatehouse-dev/gatehouse/internal/middleware"
	"github.com/gatehouse-dev/gatehouse/internal/service"
	"github.com/gatehouse-dev/gatehouse/internal/session"
	"github.com/gatehouse-dev/gatehouse/internal/storage/pg"
)

const AppName = "Gatehouse"

type Dependencies struct {
	Config   *config.Config
	Storage  *pg.Storage
	Sessions *session.Manager
	Handler  *handler.Handler
	Gate     *middleware.Gate

	// Per-concern limiters: sending codes is expensive (email), checking
	// codes is brute-forceable, login guards the password oracle.
	SendLimiter  *middleware.RateLimiter
	CheckLimiter *middleware.RateLimiter
	LoginLimiter *middleware.RateLimiter
}

// New builds the dependency graph. The returned cleanup releases the storage
// connection and stops the limiters.
func New(cfg *config.Config) (*Dependencies, func(), error) {
	storage, err := pg.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	codec, err := session.NewCodec(cfg.Private.SessionSecrets, cfg.Public.SecureCookies)
	if err != nil {
		storage.Cleanup()
		return nil, nil, err
	}
	sessions := session.NewManager(storage, codec)

	verifier, err := service.NewVerifier(storage, cfg.Public.BaseURL)
	if err != nil {
		storage.Cleanup()
		return nil, nil, err
	}

	breachChecker := breach.New(cfg.Public.Breach.BaseURL, time.Duration(cfg.Public.Breach.TimeoutMS)*time.Millisecond)
	auth := service.NewAuth(storage, breachChecker, sessions, verifier)
	sender := email.New(&cfg.Private.Email)

	h := handler.New(auth, verifier, sessions, codec, sender, storage, AppName)
	h.RegisterFlows(verifier)

	deps := &Dependencies{
		Config:       cfg,
		Storage:      storage,
		Sessions:     sessions,
		Handler:      h,
		Gate:         middleware.NewGate(sessions),
		SendLimiter:  middleware.NewRateLimiter(1.0/10, 2),  // one code email per 10s per IP
		CheckLimiter: middleware.NewRateLimiter(1.0/2, 5),   // 5 guesses, then one per 2s per IP
		LoginLimiter: middleware.NewRateLimiter(1, 3),       // 1/s per IP with a small burst
	}

	cleanup := func() {
		deps.SendLimiter.Stop()
		deps.CheckLimiter.Stop()
		deps.LoginLimiter.Stop()
		storage.Cleanup()
	}
	return deps, cleanup, nil
}
