package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgrelay/internal/auth"
	"tgrelay/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

func New() *Server {
	r := mux.NewRouter()
	r.Use(Metrics(observability.APIRequests))
	return &Server{Mux: r}
}

// Routes is everything cmd/relay serves on its main port.
type Routes struct {
	Webhook   *Webhook
	API       *API
	Live      *Live
	JWTSecret string
	Ready     []ReadyzCheck
}

// Mount registers health, the public webhook, and the staff routes behind bearer auth.
func (s *Server) Mount(rt Routes) {
	s.Mux.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", Readyz(2*time.Second, rt.Ready...)).Methods(http.MethodGet)
	if rt.Webhook != nil {
		rt.Webhook.Register(s.Mux)
	}

	staff := s.Mux.NewRoute().Subrouter()
	staff.Use(auth.Middleware(rt.JWTSecret, unauthorized))
	if rt.API != nil {
		rt.API.Register(staff)
	}
	if rt.Live != nil {
		rt.Live.Register(staff)
	}
}

// NewMetricsMux serves /metrics for the separate metrics port.
func NewMetricsMux(g prometheus.Gatherer) *http.ServeMux {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return m
}
