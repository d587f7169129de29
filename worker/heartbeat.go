package worker

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Heartbeat periodically POSTs this replica's liveness to a status endpoint
// (§4.1 "Heartbeat / status"). A failed post is only logged and never
// interrupts the work loop; it does not change the ok field, which reports
// okFn() at each tick.
type Heartbeat struct {
	URL       string
	Component string
	Interval  time.Duration
	HTTP      *fasthttp.Client

	lastBegin time.Time
	lastEnd   time.Time
}

func NewHeartbeat(url, component string, interval time.Duration) *Heartbeat {
	return &Heartbeat{URL: url, Component: component, Interval: interval, HTTP: &fasthttp.Client{Name: "lta-heartbeat"}}
}

func (h *Heartbeat) BeginWork() { h.lastBegin = time.Now() }
func (h *Heartbeat) EndWork()   { h.lastEnd = time.Now() }

type heartbeatBody struct {
	Timestamp     time.Time `json:"timestamp"`
	LastWorkBegin time.Time `json:"last_work_begin"`
	LastWorkEnd   time.Time `json:"last_work_end"`
	OK            bool      `json:"ok"`
}

func (h *Heartbeat) post(ok bool) {
	if h.URL == "" {
		return
	}
	body := map[string]heartbeatBody{
		h.Component: {
			Timestamp:     time.Now().UTC(),
			LastWorkBegin: h.lastBegin,
			LastWorkEnd:   h.lastEnd,
			OK:            ok,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		nlog.Warningf("heartbeat marshal: %v", err)
		return
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI(h.URL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(b)
	if err := h.HTTP.DoTimeout(req, resp, 10*time.Second); err != nil {
		nlog.Warningf("heartbeat post: %v", err)
		return
	}
	if resp.StatusCode() >= 300 {
		nlog.Warningf("heartbeat post: status %d", resp.StatusCode())
	}
}

// Run posts a heartbeat every Interval until ctx is canceled.
func (h *Heartbeat) Run(ctx context.Context, okFn func() bool) {
	if h.URL == "" || h.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.post(okFn())
		}
	}
}
