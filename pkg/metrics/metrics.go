package metrics

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cccc-dev/cccc/pkg/log"
)

var (
	eventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cccc",
		Name:      "events_appended_total",
		Help:      "Ledger events committed, by kind.",
	}, []string{"kind"})

	injections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cccc",
		Name:      "injections_total",
		Help:      "Messages injected into actor sessions.",
	})

	nudges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cccc",
		Name:      "nudges_total",
		Help:      "System nudges emitted, by reason.",
	}, []string{"reason"})

	ipcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cccc",
		Name:      "ipc_requests_total",
		Help:      "IPC requests handled, by op and outcome.",
	}, []string{"op", "outcome"})

	subscriberLagDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cccc",
		Name:      "subscriber_lag_drops_total",
		Help:      "Subscriptions dropped for falling behind.",
	})

	actorStates = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cccc",
		Name:      "actor_state",
		Help:      "Actor sessions by lifecycle state.",
	}, []string{"state"})
)

// IncEvent records one committed ledger event.
func IncEvent(kind string) { eventsAppended.WithLabelValues(kind).Inc() }

// IncInjection records one injection into an actor session.
func IncInjection() { injections.Inc() }

// IncNudge records one emitted nudge reason.
func IncNudge(reason string) { nudges.WithLabelValues(reason).Inc() }

// IncRequest records one handled IPC request.
func IncRequest(op string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	ipcRequests.WithLabelValues(op, outcome).Inc()
}

// IncLagDrop records one subscriber dropped for lag.
func IncLagDrop() { subscriberLagDrops.Inc() }

// SetActorStates replaces the actor state gauge from a state → count map.
func SetActorStates(counts map[string]int) {
	actorStates.Reset()
	for state, n := range counts {
		actorStates.WithLabelValues(state).Set(float64(n))
	}
}

// Serve exposes /metrics and /healthz on a loopback listener. Returns
// the bound address; the listener closes when stop is closed.
func Serve(addr string, stop <-chan struct{}) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-stop
		ln.Close()
	}()
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			log.WithComponent("metrics").Warn().Err(err).Msg("metrics listener stopped")
		}
	}()
	return ln.Addr().String(), nil
}
