// Package server is a small read-only HTTP status surface for a running
// fetch daemon, grounded on server.RESTServer's Run/Stop shape in the
// teacher repo: the same httprouter + httpdown wiring, scaled down to
// introspection-only routes since this module's CLI front-ends are out
// of scope (SPEC_FULL §2A).
package server

import (
	"log"
	"net/http"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/zeroinstall-store/fetch"
	"github.com/ndlib/zeroinstall-store/store"
)

// Server holds everything the status routes read from. Set the fields
// and call Run; do not change them afterward.
type Server struct {
	PortNumber string
	PProfPort  string

	Store    *store.DirectoryStore
	Fetcher  *fetch.Fetcher
	Progress *fetch.Registry

	httpServer httpdown.Server
}

// Run starts the status server and blocks until Stop is called or
// ListenAndServe fails.
func (s *Server) Run() error {
	if s.Store == nil {
		panic("server: Store is nil")
	}
	if s.Progress == nil && s.Fetcher != nil {
		s.Progress = s.Fetcher.Progress
	}

	if s.PProfPort != "" {
		log.Println("server: starting pprof on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}

	log.Println("server: listening on", s.PortNumber)
	h := httpdown.HTTP{}
	hs, err := h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		return err
	}
	s.httpServer = hs
	return s.httpServer.Wait()
}

// Stop shuts down the listening socket and returns once it is closed.
func (s *Server) Stop() error {
	return s.httpServer.Stop()
}

func (s *Server) addRoutes() http.Handler {
	r := httprouter.New()
	r.GET("/", welcomeHandler)
	r.GET("/store", s.listStoreHandler)
	r.GET("/store/:digest", s.storeDigestHandler)
	r.GET("/fetch/:digest", s.fetchProgressHandler)
	r.GET("/debug/vars", varHandler)
	return logWrapper(r)
}

func logWrapper(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Println(r.Method, r.URL)
		h.ServeHTTP(w, r)
	})
}
