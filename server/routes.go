package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/zeroinstall-store/manifest"
	"github.com/ndlib/zeroinstall-store/scheduler"
)

var completedTransfers = expvar.NewInt("fetchd.completed_transfers")

func init() {
	completedTransfers.Set(0)
}

// refreshCompletedTransfers keeps the published expvar in sync with the
// scheduler package's own counter; called from varHandler rather than on
// a timer, since the status endpoint is polled infrequently.
func refreshCompletedTransfers() {
	completedTransfers.Set(scheduler.CompletedCount())
}

func welcomeHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprintln(w, "fetchd status server")
}

// listStoreHandler returns every digest currently installed in the
// store, as a JSON array of digest strings.
func (s *Server) listStoreHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	names, err := s.Store.ListAll()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(names)
}

// storeDigestHandler reports whether a single digest is installed.
func (s *Server) storeDigestHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	digest, err := manifest.NewDigest(ps.ByName("digest"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(struct {
		Digest  string `json:"digest"`
		Present bool   `json:"present"`
	}{digest.String(), s.Store.Contains(digest)})
}

// fetchProgressHandler reports the in-flight or completed fetch status
// for one digest.
func (s *Server) fetchProgressHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.Progress == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "no fetcher configured")
		return
	}
	key := ps.ByName("digest")
	p := s.Progress.Lookup(key)
	if p == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, "no fetch recorded for", key)
		return
	}
	written, total := p.Written()
	resp := struct {
		Digest  string `json:"digest"`
		Status  string `json:"status"`
		Written int64  `json:"written"`
		Total   int64  `json:"total"`
		Error   string `json:"error,omitempty"`
	}{p.Digest(), p.Status().String(), written, total, ""}
	if err := p.Err(); err != nil {
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(resp)
}

// varHandler adapts the stdlib expvar default handler to httprouter,
// the way server.VarHandler does in the teacher.
func varHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	refreshCompletedTransfers()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}
