package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	eventbus "github.com/hanpama/computed/internal/eventbus"
	events "github.com/hanpama/computed/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsFollowEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	reg := prometheus.NewRegistry()
	c := New(reg)
	defer c.Register()()

	ctx := context.Background()
	eventbus.Publish(ctx, events.NavigationLoad{Navigation: "Person.pets", Mode: "current", Entities: 3, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.NavigationLoad{Navigation: "Person.pets", Mode: "original", Err: errors.New("down")})
	eventbus.Publish(ctx, events.ComputedUpdated{Member: "Person.petCount", Pass: 1, Changes: 2})
	eventbus.Publish(ctx, events.ComputedUpdated{Member: "Person.petCount", Pass: 2, Changes: 1})
	eventbus.Publish(ctx, events.SchedulerFinish{Passes: 3, Changes: 3})
	eventbus.Publish(ctx, events.SchedulerFinish{Passes: 1, Err: errors.New("down")})
	eventbus.Publish(ctx, events.ConsistencyChecked{Member: "Person.petCount", Consistent: 3, Inconsistent: 1, Ratio: 0.75})

	require.Equal(t, 3.0, testutil.ToFloat64(c.Changes.WithLabelValues("Person.petCount")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Runs.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Runs.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Loads.WithLabelValues("Person.pets", "current", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Loads.WithLabelValues("Person.pets", "original", "error")))
	require.Equal(t, 3.0, testutil.ToFloat64(c.LoadedEntities.WithLabelValues("Person.pets", "current")))
	require.Equal(t, 0.75, testutil.ToFloat64(c.ConsistencyRatio.WithLabelValues("Person.petCount")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Inconsistent.WithLabelValues("Person.petCount")))

	want := `
# HELP computed_scheduler_passes Passes needed by a scheduler run
# TYPE computed_scheduler_passes histogram
computed_scheduler_passes_bucket{le="1"} 1
computed_scheduler_passes_bucket{le="2"} 1
computed_scheduler_passes_bucket{le="3"} 2
computed_scheduler_passes_bucket{le="4"} 2
computed_scheduler_passes_bucket{le="5"} 2
computed_scheduler_passes_bucket{le="7"} 2
computed_scheduler_passes_bucket{le="10"} 2
computed_scheduler_passes_bucket{le="+Inf"} 2
computed_scheduler_passes_sum 4
computed_scheduler_passes_count 2
`
	require.NoError(t, testutil.CollectAndCompare(c.Passes, strings.NewReader(want), "computed_scheduler_passes"))
}

func TestHandlerServesRegistry(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	reg := prometheus.NewRegistry()
	c := New(reg)
	defer c.Register()()
	eventbus.Publish(context.Background(), events.ComputedUpdated{Member: "Person.fullName", Changes: 1})

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `computed_member_changes_total{member="Person.fullName"} 1`)
}
