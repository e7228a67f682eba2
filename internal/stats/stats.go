package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	ActiveRooms        = "NumActiveRooms"
	ActiveClients      = "NumActiveClients"
	OperationsRelayed  = "NumOperationsRelayed"
	MembersEvicted     = "NumMembersEvicted"
	MalformedMessages  = "NumMalformedMessages"
	RateLimitedClients = "NumRateLimitedClients"
)

// Metrics lists every counter the drawroom server maintains.
var Metrics = []string{
	ActiveRooms,
	ActiveClients,
	OperationsRelayed,
	MembersEvicted,
	MalformedMessages,
	RateLimitedClients,
}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater and registers its handler on
// GET /debug/vars. The map is not published globally so several updaters
// may coexist in one process.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 512),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for {
		select {
		case req := <-su.updateChan:
			su.apply(req)
		case <-su.quit:
			for {
				select {
				case req := <-su.updateChan:
					su.apply(req)
				default:
					return
				}
			}
		}
	}
}

func (su *StatsUpdater) apply(req *metricsUpdateReq) {
	if metric, ok := su.vars.Get(req.name).(*expvar.Int); ok {
		metric.Add(int64(req.value))
	}
}

// Incr and Decr never block the caller; updates are dropped when the
// queue is full.
func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

func (su *StatsUpdater) update(name string, value int) {
	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: value}:
	default:
	}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// Value returns the current value of an integer metric.
func (su *StatsUpdater) Value(name string) int64 {
	if metric, ok := su.vars.Get(name).(*expvar.Int); ok {
		return metric.Value()
	}
	return 0
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop applies pending updates and ends the update loop. Later updates
// are queued but never applied.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.quit)
	})
	<-su.done
}
