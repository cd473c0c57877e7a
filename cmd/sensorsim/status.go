package main

import (
	"net/http"

	"github.com/banshee-data/sensorsim/internal/httputil"
	"github.com/banshee-data/sensorsim/internal/simsensor/manager"
)

type sensorStatus struct {
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Active      bool    `json:"active"`
	Rate        float64 `json:"rate"`
	LastCapture float64 `json:"last_capture"`
	Issued      uint64  `json:"issued"`
	Published   uint64  `json:"published"`
	Dropped     uint64  `json:"dropped"`
	Deferred    uint64  `json:"deferred"`
	Abandoned   uint64  `json:"abandoned"`
}

type sceneStatus struct {
	Time    float64        `json:"time"`
	Sensors []sensorStatus `json:"sensors"`
}

func snapshot(mgr *manager.Manager) sceneStatus {
	st := sceneStatus{Time: mgr.Time(), Sensors: []sensorStatus{}}
	for _, s := range mgr.Sensors() {
		stats := s.Stats()
		st.Sensors = append(st.Sensors, sensorStatus{
			Name:        s.Name(),
			State:       s.State().String(),
			Active:      s.Active(),
			Rate:        s.Rate(),
			LastCapture: s.LastCapture(),
			Issued:      stats.Issued,
			Published:   stats.Published,
			Dropped:     stats.Dropped,
			Deferred:    stats.Deferred,
			Abandoned:   stats.Abandoned,
		})
	}
	return st
}

// statusMux serves Prometheus metrics on /metrics and a JSON snapshot of
// the sensors on /sensors.
func statusMux(metrics http.Handler, mgr *manager.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.Handle("/sensors", httputil.Snapshot(func(*http.Request) (sceneStatus, error) {
		return snapshot(mgr), nil
	}))
	return mux
}
