// Command fleetd is the control-plane daemon: it serves the HTTP API,
// runs the cron evaluator that advances scheduled intents, and runs the
// batch job runner that keeps tracked-app and registry-image descriptors
// current.
//
// Grounded on the teacher's cmd/sentinel/main.go boot sequence (load
// config, build the logger, open the store, wire every domain service,
// start background runners as goroutines, block on signal-context
// cancellation for graceful shutdown), generalized from one local Docker
// daemon to many user-registered instances and from a single update
// engine to the intent/batch split.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Will-Luck/Docker-Sentinel/internal/auth"
	"github.com/Will-Luck/Docker-Sentinel/internal/batch"
	"github.com/Will-Luck/Docker-Sentinel/internal/clock"
	"github.com/Will-Luck/Docker-Sentinel/internal/config"
	"github.com/Will-Luck/Docker-Sentinel/internal/domain"
	"github.com/Will-Luck/Docker-Sentinel/internal/events"
	"github.com/Will-Luck/Docker-Sentinel/internal/instance"
	"github.com/Will-Luck/Docker-Sentinel/internal/intent"
	"github.com/Will-Luck/Docker-Sentinel/internal/inventory"
	"github.com/Will-Luck/Docker-Sentinel/internal/lock"
	"github.com/Will-Luck/Docker-Sentinel/internal/logging"
	"github.com/Will-Luck/Docker-Sentinel/internal/notify"
	"github.com/Will-Luck/Docker-Sentinel/internal/resolver"
	"github.com/Will-Luck/Docker-Sentinel/internal/schedule"
	"github.com/Will-Luck/Docker-Sentinel/internal/store"
	"github.com/Will-Luck/Docker-Sentinel/internal/upgrade"
	"github.com/Will-Luck/Docker-Sentinel/internal/web"
)

// version and commit are set at build time via ldflags:
//
//	-X main.version=$(VERSION) -X main.commit=$(COMMIT)
var version = "dev"
var commit = "unknown"

func versionString() string {
	if commit != "" && commit != "unknown" {
		return version + " (" + commit + ")"
	}
	return version
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if os.Getenv("SENTINEL_COOKIE_SECURE") == "" {
		cfg.CookieSecure = cfg.TLSEnabled()
	}

	log := logging.New(cfg.LogJSON)
	log.Info("fleetd starting", "version", versionString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.SeedBuiltinRoles(); err != nil {
		log.Error("failed to seed builtin roles", "error", err)
		os.Exit(1)
	}

	authSvc := auth.NewService(auth.ServiceConfig{
		Users:          st,
		Sessions:       st,
		Roles:          st,
		Tokens:         st,
		Settings:       st,
		Log:            log.Logger,
		CookieSecure:   cfg.CookieSecure,
		SessionExpiry:  cfg.SessionExpiry,
		AuthEnabledEnv: cfg.AuthEnabled,
	})

	if err := bootstrapFirstUser(st, log); err != nil {
		log.Error("failed to bootstrap first user", "error", err)
		os.Exit(1)
	}

	notifier := buildNotifier(cfg, log)

	limiter := resolver.NewRateLimiter()
	registryProvider := resolver.NewRegistryProvider(limiter, func(host string) *resolver.Credential { return nil })
	forgeA := resolver.NewForgeAProvider(cfg.ForgeABaseURL, func() string { return cfg.ForgeAToken })
	forgeB := resolver.NewForgeBProvider(cfg.ForgeBBaseURL, func() string { return cfg.ForgeBToken })
	res := resolver.New(registryProvider, forgeA, forgeB, log.Logger)

	credFor := func(userID, instanceID string) (instance.Auth, bool) {
		cred, found, err := st.GetCredential(userID, instanceID)
		if err != nil || !found {
			return instance.Auth{}, false
		}
		return instance.Auth{Token: cred.Token, Username: cred.Username, Password: cred.Password}, true
	}
	newScanner := func(inst domain.Instance, a instance.Auth) *instance.Scanner {
		return instance.NewScanner(instance.NewClient(inst.URL, a))
	}
	inv := inventory.New(st, credFor, newScanner, log.Logger)

	// The upgrade executor's client factory is keyed by instance URL alone
	// (spec §4.5's ClientFactory seam) and builds a client that carries no
	// credentials: the intent executor passes only the instance URL, and
	// the per-instance credentials used by inventory scans are not applied
	// to upgrade calls.
	newUpgradeClient := func(instanceURL string) *instance.Client {
		return instance.NewClient(instanceURL, instance.Auth{})
	}
	up := upgrade.New(newUpgradeClient, clock.Real{}, log)

	locks := lock.New()
	intentExec := intent.New(st, inv, locks, up, notifier, clock.Real{}, log)
	evaluator := schedule.New(st, intentExec, clock.Real{}, log)
	batchRunner := batch.New(st, res, notifier, clock.Real{}, log)

	evts := events.New()

	webSrv := web.NewServer(web.Dependencies{
		Store:     st,
		Inventory: inv,
		Executor:  intentExec,
		Auth:      authSvc,
		Events:    evts,
		Log:            log.Logger,
		Addr:           ":" + cfg.WebPort,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	var wg errgroup.Group
	wg.Go(func() error { return evaluator.Run(ctx) })
	wg.Go(func() error { return batchRunner.Run(ctx) })
	wg.Go(func() error {
		if cfg.TLSEnabled() {
			certPath, keyPath := cfg.TLSCert, cfg.TLSKey
			if cfg.TLSAuto {
				var err error
				certPath, keyPath, err = web.EnsureSelfSignedCert("/data")
				if err != nil {
					return fmt.Errorf("ensure self-signed cert: %w", err)
				}
			}
			return webSrv.StartTLS(certPath, keyPath)
		}
		return webSrv.Start()
	})
	wg.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := authSvc.CleanupExpiredSessions(); err != nil {
					log.Warn("session cleanup failed", "error", err)
				} else if n > 0 {
					log.Info("cleaned up expired sessions", "count", n)
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
	wg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return webSrv.Shutdown(shutdownCtx)
	})

	if err := wg.Wait(); err != nil {
		log.Error("fleetd exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("fleetd shutdown complete")
}

func bootstrapFirstUser(st *store.Store, log *logging.Logger) error {
	count, err := st.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := generateRandomPassword()
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	admin := auth.User{
		ID:        "admin",
		Username:  "admin",
		PasswordHash: hash,
		RoleID:    auth.RoleAdminID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := st.CreateFirstUser(admin); err != nil {
		if errors.Is(err, auth.ErrUsersExist) {
			return nil
		}
		return err
	}

	fmt.Println("=============================================")
	fmt.Println("First-run admin account created:")
	fmt.Println("  username: admin")
	fmt.Printf("  password: %s\n", password)
	fmt.Println("  Change this password after logging in.")
	fmt.Println("=============================================")
	log.Info("created first-run admin account")
	return nil
}

func generateRandomPassword() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func buildNotifier(cfg *config.Config, log *logging.Logger) *notify.Multi {
	var notifiers []notify.Notifier
	notifiers = append(notifiers, notify.NewLogNotifier(log))
	if cfg.GotifyURL != "" {
		notifiers = append(notifiers, notify.NewGotify(cfg.GotifyURL, cfg.GotifyToken))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL, nil))
	}
	return notify.NewMulti(log, notifiers...)
}
