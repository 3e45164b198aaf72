package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hanpama/computed/internal/engine"
	"github.com/hanpama/computed/internal/eventbus"
	"github.com/hanpama/computed/internal/memstore"
	"github.com/hanpama/computed/internal/metrics"
	"github.com/hanpama/computed/internal/model"
	"github.com/hanpama/computed/internal/otel"
)

var runNoCheck bool

var runCmd = &cobra.Command{
	Use:   "run <fixture.yaml>",
	Short: "Apply a write batch to fixture data and print computed values",
	Long: `Seed an in-memory store with the entities of a fixture, compute every
computed member for them and accept the result. Then apply the fixture's
changes as one write batch, bring computed members up to date and print
their values together with a consistency check against a full
recomputation.`,
	Example: `  # Run a fixture against the model under schema_dir
  computed run testdata/pets.yaml

  # Skip the consistency check
  computed run --no-check testdata/pets.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		m, e, err := loadEngine()
		if err != nil {
			return err
		}
		fx, err := readFixture(args[0])
		if err != nil {
			return generalError("reading fixture", err)
		}

		stop, err := startTelemetry()
		if err != nil {
			return generalError("starting telemetry", err)
		}
		defer stop()

		report, err := runFixture(ctx, m, e, fx, !runNoCheck)
		if report != nil {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if encErr := enc.Encode(report); encErr != nil {
				return generalError("encoding YAML", encErr)
			}
			if encErr := enc.Close(); encErr != nil {
				return generalError("encoding YAML", encErr)
			}
		}
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoCheck, "no-check", false, "skip the consistency check")
}

type runReport struct {
	Seed        batchReport         `yaml:"seed"`
	Batch       batchReport         `yaml:"batch"`
	Values      []entityValues      `yaml:"values"`
	Consistency []consistencyReport `yaml:"consistency,omitempty"`
}

type batchReport struct {
	Passes  int   `yaml:"passes"`
	Changes int   `yaml:"changes"`
	PerPass []int `yaml:"perPass,flow"`
}

type entityValues struct {
	Entity string         `yaml:"entity"`
	Values map[string]any `yaml:"values"`
}

type consistencyReport struct {
	Member       string   `yaml:"member"`
	Consistent   int      `yaml:"consistent"`
	Inconsistent int      `yaml:"inconsistent"`
	Ratio        float64  `yaml:"ratio"`
	Mismatches   []string `yaml:"mismatches,omitempty,flow"`
}

func newBatchReport(s engine.RunStats) batchReport {
	return batchReport{Passes: s.Passes, Changes: s.Changes, PerPass: s.PerPass}
}

// runFixture seeds a store from fx, accepts the initial computation and then
// runs fx's changes as one write batch. A partial report is returned along
// with scheduler and consistency errors.
func runFixture(ctx context.Context, m *model.Model, e *engine.Engine, fx *fixture, check bool) (*runReport, error) {
	store := memstore.New(m)
	if err := fx.seed(store); err != nil {
		return nil, generalError("seeding store", err)
	}

	report := &runReport{}
	stats, err := e.RunStats(ctx, store)
	report.Seed = newBatchReport(stats)
	if err != nil {
		return report, schedulerError("computing seed values", err)
	}
	store.AcceptChanges()
	e.AcceptBatch()
	logger.Debug("seeded store", "entities", len(fx.Entities), "changes", stats.Changes)

	for i, c := range fx.Changes {
		if err := c.apply(store); err != nil {
			return report, generalError(fmt.Sprintf("applying change %d (%s)", i+1, c.Op), err)
		}
	}
	stats, err = e.RunStats(ctx, store)
	report.Batch = newBatchReport(stats)
	report.Values = computedValues(m, e, store)
	if err != nil {
		return report, schedulerError("running write batch", err)
	}

	if !check {
		return report, nil
	}
	members, err := checkedMembers(e, fx.Check)
	if err != nil {
		return report, err
	}
	inconsistent := 0
	for _, member := range members {
		prop := member.Property()
		r, err := e.CheckConsistency(ctx, store, prop, store.Entities(prop.Entity.Name))
		if err != nil {
			return report, generalError(fmt.Sprintf("checking %s", member), err)
		}
		cr := consistencyReport{
			Member:       r.Member,
			Consistent:   r.Consistent,
			Inconsistent: r.Inconsistent,
			Ratio:        r.Ratio,
		}
		for _, k := range r.Mismatches {
			cr.Mismatches = append(cr.Mismatches, k.String())
		}
		report.Consistency = append(report.Consistency, cr)
		inconsistent += r.Inconsistent
	}
	if inconsistent > 0 {
		return report, &ExitError{Code: ExitInconsistent, Message: fmt.Sprintf("%d stored values differ from a recomputation", inconsistent)}
	}
	return report, nil
}

func schedulerError(msg string, err error) *ExitError {
	if errors.Is(err, engine.ErrNotConverged) {
		return &ExitError{Code: ExitNotConverged, Message: msg, Err: err}
	}
	return generalError(msg, err)
}

func checkedMembers(e *engine.Engine, names []string) ([]engine.Member, error) {
	members := e.Members()
	if len(names) == 0 {
		return members, nil
	}
	byName := make(map[string]engine.Member, len(members))
	for _, member := range members {
		byName[member.String()] = member
	}
	out := make([]engine.Member, 0, len(names))
	for _, name := range names {
		member, ok := byName[name]
		if !ok {
			return nil, generalError(fmt.Sprintf("%s is not a computed member", name), nil)
		}
		out = append(out, member)
	}
	return out, nil
}

// computedValues lists the computed member values of every live entity in
// store, in model order.
func computedValues(m *model.Model, e *engine.Engine, store *memstore.Store) []entityValues {
	var out []entityValues
	for _, t := range m.EntityTypes() {
		var props []*model.Property
		for _, p := range t.Properties() {
			if e.Member(p) != nil {
				props = append(props, p)
			}
		}
		if len(props) == 0 {
			continue
		}
		for _, ent := range store.Entities(t.Name) {
			values := make(map[string]any, len(props))
			for _, p := range props {
				values[p.Name] = store.CurrentValue(ent, p)
			}
			out = append(out, entityValues{Entity: ent.Key().String(), Values: values})
		}
	}
	return out
}

// startTelemetry installs the event bus with tracing and metrics subscribers
// and serves metrics when an address is configured.
func startTelemetry() (stop func(), err error) {
	eventbus.Use(eventbus.New())
	shutdownTracing, err := otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		eventbus.Use(nil)
		return nil, err
	}

	reg := prometheus.NewRegistry()
	unregister := metrics.New(reg).Register()

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			unregister()
			_ = shutdownTracing(context.Background())
			eventbus.Use(nil)
			return nil, fmt.Errorf("listening on %s: %w", cfg.Metrics.Addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", ln.Addr().String())
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
		unregister()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
		eventbus.Use(nil)
	}, nil
}
