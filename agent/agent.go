package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/types"
)

const shutdownTimeout = 5 * time.Second

// App is the hosted application driven by the agent.
type App interface {
	// Run blocks until ctx is cancelled or the app fails.
	Run(ctx context.Context) error
	// Status reports app-specific status fields. A nil snapshot is allowed.
	Status(ctx context.Context) (*types.StatusSnapshot, error)
}

// Recycler is implemented by apps that can veto a recycle.
// Apps without it are always recyclable.
type Recycler interface {
	CanBeRecycled(ctx context.Context) bool
}

// ConfigReceiver is implemented by apps that react to configuration changes.
type ConfigReceiver interface {
	OnConfigChange(ctx context.Context, cfg *types.ServerConfig) error
}

// Identity returns the slot identity handed down by the supervisor.
func Identity() types.AppIdentity {
	return types.AppIdentity{
		Name:       os.Getenv(isolation.EnvAppName),
		WorkingDir: os.Getenv(isolation.EnvWorkingDir),
		ConfigFile: os.Getenv(isolation.EnvConfigFile),
	}
}

// Main runs app under the agent and exits the process. Intended as the body of a hosted program's main.
func Main(app App) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := 0
	if err := Run(ctx, app); err != nil {
		log.WithFunc("agent.Main").Errorf(ctx, err, "agent exited")
		code = 1
	}
	stop()
	os.Exit(code)
}

// Run serves app on the socket named by the slot environment.
func Run(ctx context.Context, app App) error {
	sock := os.Getenv(isolation.EnvSocket)
	if sock == "" {
		return fmt.Errorf("%s not set", isolation.EnvSocket)
	}
	return Serve(ctx, sock, app)
}

// Serve runs app and serves the control API on socketPath until the app returns.
// A shutdown request cancels the app; Serve returns once it has, with the app's
// error (context cancellation is not an error).
func Serve(ctx context.Context, socketPath string, app App) error {
	logger := log.WithFunc("agent.Serve")
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", socketPath, err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := &agent{app: app, name: os.Getenv(isolation.EnvAppName), started: time.Now(), shutdown: cancel}
	srv := &http.Server{Handler: a.routes(), ReadHeaderTimeout: shutdownTimeout}
	served := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			cancel()
		}
		served <- err
	}()

	logger.Infof(ctx, "app %s serving control API on %s", a.name, socketPath)
	runErr := app.Run(appCtx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warnf(ctx, "shutdown control API: %v", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		runErr = errors.Join(runErr, fmt.Errorf("serve %s: %w", socketPath, err))
	}
	logger.Infof(ctx, "app %s stopped", a.name)
	return runErr
}

type agent struct {
	app      App
	name     string
	started  time.Time
	shutdown context.CancelFunc
}

func (a *agent) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+isolation.PathStatus, a.status)
	mux.HandleFunc("GET "+isolation.PathRecyclable, a.recyclable)
	mux.HandleFunc("PUT "+isolation.PathConfig, a.config)
	mux.HandleFunc("PUT "+isolation.PathShutdown, a.stop)
	return mux
}

func (a *agent) status(w http.ResponseWriter, r *http.Request) {
	snap, err := a.app.Status(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if snap == nil {
		snap = types.NewStatusSnapshot(a.name)
	}
	if snap.Name == "" {
		snap.Name = a.name
	}
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = time.Now()
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.SetDefault(types.StatusKeyIsRunning, true)
	snap.SetDefault(types.StatusKeyMemoryUsage, ms.Sys)
	snap.SetDefault(types.StatusKeyGoroutines, runtime.NumGoroutine())
	snap.SetDefault("uptime_seconds", int64(time.Since(a.started).Seconds()))
	writeJSON(w, snap)
}

func (a *agent) recyclable(w http.ResponseWriter, r *http.Request) {
	ok := true
	if rc, is := a.app.(Recycler); is {
		ok = rc.CanBeRecycled(r.Context())
	}
	writeJSON(w, isolation.RecyclableResponse{Recyclable: ok})
}

func (a *agent) config(w http.ResponseWriter, r *http.Request) {
	var cfg types.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rc, ok := a.app.(ConfigReceiver); ok {
		if err := rc.OnConfigChange(r.Context(), &cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *agent) stop(w http.ResponseWriter, r *http.Request) {
	log.WithFunc("agent.stop").Infof(r.Context(), "app %s shutdown requested", a.name)
	a.shutdown()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
