package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"flowtrack/internal/api"
	"flowtrack/internal/flowstate"
	"flowtrack/internal/logging"
)

func (s *apiServer) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.jobs.Current(id); !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.stream(w, r, id)
}

func (s *apiServer) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r)
}

// stream sends the current record of each watched job, then one event per
// change until the client disconnects or the server shuts down. Changes
// that arrive faster than the client reads collapse to the latest record.
func (s *apiServer) stream(w http.ResponseWriter, r *http.Request, jobIDs ...string) {
	sub := s.hub.Subscribe(jobIDs...)
	defer sub.Close()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("event stream write deadline not cleared", logging.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var initial []flowstate.Record
	if len(jobIDs) == 0 {
		initial = s.jobs.List()
	} else {
		for _, id := range jobIDs {
			if rec, ok := s.jobs.Current(id); ok {
				initial = append(initial, rec)
			}
		}
	}
	for _, rec := range initial {
		if err := writeEvent(w, rec); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		s.logger.Debug("event stream flush failed", logging.Error(err))
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case <-sub.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case <-sub.C():
			for _, id := range sub.Drain() {
				rec, ok := s.jobs.Current(id)
				if !ok {
					continue
				}
				if err := writeEvent(w, rec); err != nil {
					return
				}
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rec flowstate.Record) error {
	payload, err := json.Marshal(api.FromRecord(rec))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", api.EventJob, payload)
	return err
}
