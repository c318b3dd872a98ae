package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"netopt/internal/apperr"
	"netopt/internal/model"
	"netopt/internal/scenario"
)

// RunsHandler handles POST/GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.allow(w, r) {
			return
		}
		sc, body, err := readScenario(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := validateScenario(&sc, s.Runner.Defaults); err != nil {
			writeError(w, r, err)
			return
		}
		run := model.Run{ID: uuid.New().String(), Name: sc.Name, Status: model.RunPending, CreatedAt: time.Now().UTC()}
		if err := s.Store.CreateRun(r.Context(), run, body); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
			return
		}
		if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
			run = s.execute(r.Context(), run, sc)
			writeJSON(w, http.StatusOK, run)
			return
		}
		if err := s.enqueue(queuedRun{run: run, sc: sc}); err != nil {
			run.Status, run.Error, run.ErrorKind = model.RunFailed, err.Error(), string(apperr.KindInternal)
			now := time.Now().UTC()
			run.FinishedAt = &now
			_ = s.Store.UpdateRun(context.WithoutCancel(r.Context()), run)
			w.Header().Set("Retry-After", "5")
			writeProblem(w, http.StatusServiceUnavailable, "Busy", err.Error(), r.URL.Path)
			return
		}
		s.Broker.Publish(run.ID, RunEvent{Type: EventQueued, Data: map[string]any{"runId": run.ID}})
		w.Header().Set("Location", "/v1/runs/"+run.ID)
		writeJSON(w, http.StatusAccepted, run)
	case http.MethodGet:
		status := r.URL.Query().Get("status")
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListRuns(r.Context(), status, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RunByIDHandler handles GET /v1/runs/{id} and its /events, /ws, /stats and
// /input sub-resources.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/runs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}
	switch sub {
	case "":
		run, err := s.Store.GetRun(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	case "events":
		s.streamRunEvents(w, r, id)
	case "ws":
		s.RunWSHandler(w, r, id)
	case "stats":
		solver, m, ok := s.Runner.Stats.Get(id)
		if !ok {
			writeProblem(w, http.StatusNotFound, "Not Found", "no solver statistics for run", path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runId": id, "solver": solver, "metrics": m})
	case "input":
		b, err := s.Store.GetRunInput(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

// execute runs one scenario to completion, persisting each state change and
// publishing lifecycle events.
func (s *Server) execute(ctx context.Context, run model.Run, sc scenario.Scenario) model.Run {
	log := s.Logger.With(zap.String("run_id", run.ID))
	persist := func(run model.Run) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Store.UpdateRun(pctx, run); err != nil {
			log.Error("persist run", zap.String("status", run.Status), zap.Error(err))
		}
	}
	run.Status = model.RunRunning
	persist(run)
	s.Broker.Publish(run.ID, RunEvent{Type: EventStarted, Data: map[string]any{"runId": run.ID}})

	res, err := s.Runner.RunWithID(ctx, run.ID, sc)
	now := time.Now().UTC()
	run.FinishedAt = &now
	evt := RunEvent{Data: map[string]any{"runId": run.ID}}
	if err != nil {
		run.Status = model.RunFailed
		run.Error = err.Error()
		run.ErrorKind = string(apperr.KindOf(err))
		evt.Type = EventFailed
		evt.Data["error"] = run.Error
		evt.Data["kind"] = run.ErrorKind
		if sf, ok := apperr.ShortfallOf(err); ok {
			evt.Data["shortfall"] = sf
		}
	} else {
		run.Status = model.RunSucceeded
		run.Result = &res
		evt.Type = EventSucceeded
		evt.Data["baselineIntegration"] = res.Baseline
		evt.Data["openFacilities"] = res.Transport.OpenFacilities
	}
	evt.Data["status"] = run.Status
	persist(run)
	s.Broker.Publish(run.ID, evt)
	s.Pub.PublishRun(context.WithoutCancel(ctx), run)
	return run
}

// snapshotEvent describes the stored state of a run as an event.
func snapshotEvent(run model.Run) RunEvent {
	data := map[string]any{"runId": run.ID, "status": run.Status}
	switch run.Status {
	case model.RunSucceeded:
		if run.Result != nil {
			data["baselineIntegration"] = run.Result.Baseline
		}
		return RunEvent{Type: EventSucceeded, Data: data}
	case model.RunFailed:
		data["error"], data["kind"] = run.Error, run.ErrorKind
		return RunEvent{Type: EventFailed, Data: data}
	case model.RunRunning:
		return RunEvent{Type: EventStarted, Data: data}
	}
	return RunEvent{Type: EventQueued, Data: data}
}

// subscribeRun subscribes before reading the stored run so no transition is
// lost between the two.
func (s *Server) subscribeRun(ctx context.Context, id string) (chan RunEvent, model.Run, error) {
	ch := s.Broker.Subscribe(id)
	run, err := s.Store.GetRun(ctx, id)
	if err != nil {
		s.Broker.Unsubscribe(id, ch)
		return nil, model.Run{}, err
	}
	return ch, run, nil
}

// streamRunEvents serves GET /v1/runs/{id}/events as server-sent events until
// the run finishes or the client goes away.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch, run, err := s.subscribeRun(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer s.Broker.Unsubscribe(id, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	send := func(evt RunEvent) {
		b, _ := json.Marshal(evt.Data)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", string(b))
		flusher.Flush()
	}
	first := snapshotEvent(run)
	send(first)
	if first.Terminal() {
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			send(evt)
			if evt.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"runId\":\"%s\",\"ts\":\"%s\"}\n\n", id, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}
