package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/projecteru2/core/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/projecteru2/appslot/cmd/core"
	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/host"
	"github.com/projecteru2/appslot/isolation"
	"github.com/projecteru2/appslot/recycle"
	"github.com/projecteru2/appslot/supervisor"
	"github.com/projecteru2/appslot/types"
	"github.com/projecteru2/appslot/utils"
)

const metricsShutdownTimeout = 5 * time.Second

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) Run(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.run")

	hst := host.New(conf, cmdcore.InitBackend(conf), recycle.NewRegistry(), supervisor.Options{})
	if err := hst.Setup(ctx); err != nil {
		return err
	}

	if conf.MetricsAddr != "" {
		stop := serveMetrics(ctx, conf.MetricsAddr)
		defer stop()
	}

	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			var next config.Config
			if err := viper.Unmarshal(&next); err != nil {
				logger.Warnf(ctx, "reload %s: %v", e.Name, err)
				return
			}
			logger.Infof(ctx, "config %s changed (%s)", e.Name, e.Op)
			hst.ReportConfigChange(ctx, next.Apps)
		})
		viper.WatchConfig()
	}

	logger.Infof(ctx, "hosting %d app(s) under %s", len(conf.Apps), conf.RootDir)
	return hst.Run(ctx)
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if len(conf.Apps) == 0 {
		fmt.Println("No apps configured.")
		return nil
	}
	backend := cmdcore.InitBackend(conf)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSTATE\tPID\tINSTANCE\tUPTIME\tWORKDIR")
	for i := range conf.Apps {
		app := &conf.Apps[i]
		workDir := config.WorkingDir(conf.RootDir, app)
		rec, err := backend.Inspect(ctx, workDir)
		if errors.Is(err, isolation.ErrNotFound) {
			_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t%s\n", app.Name, "never started", workDir)
			continue
		}
		if err != nil {
			return fmt.Errorf("inspect %s: %w", app.Name, err)
		}
		uptime := "-"
		state := reconcileState(rec)
		if state == string(isolation.InstanceStateRunning) {
			uptime = units.HumanDuration(time.Since(rec.StartedAt))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", app.Name, state, rec.PID, rec.ID, uptime, workDir)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	app := findApp(conf, args[0])
	if app == nil {
		return fmt.Errorf("app %s is not configured", args[0])
	}
	rec, err := cmdcore.InitBackend(conf).Inspect(ctx, config.WorkingDir(conf.RootDir, app))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", app.Name, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func findApp(conf *config.Config, name string) *types.ServerConfig {
	for i := range conf.Apps {
		if conf.Apps[i].Name == name {
			return &conf.Apps[i]
		}
	}
	return nil
}

// reconcileState checks process liveness to detect stale "running" records
// left behind by a host that died.
func reconcileState(rec *isolation.InstanceRecord) string {
	if rec.State == isolation.InstanceStateRunning && !utils.VerifyProcess(rec.PID, rec.Command) {
		return "running (stale)"
	}
	return string(rec.State)
}

// serveMetrics exposes the Prometheus registry on addr until the returned
// stop function is called.
func serveMetrics(ctx context.Context, addr string) func() {
	logger := log.WithFunc("cmd.serveMetrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: metricsShutdownTimeout}
	go func() {
		logger.Infof(ctx, "serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf(ctx, err, "metrics listener on %s", addr)
		}
	}()
	return func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
}
