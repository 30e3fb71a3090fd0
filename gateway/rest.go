package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const timeout = 15

// Router returns the RESTful API of the gateway.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/requests", g.enqueueHandler).Methods("POST")  // enqueue a request
	r.HandleFunc("/requests/{id}", g.jobHandler).Methods("GET")  // get the job of a request
	r.HandleFunc("/jobs/failed", g.failedHandler).Methods("GET") // get failed jobs

	return r
}

// Init starts the http server to service the RESTful API of the gateway and blocks until Stop is called. It returns
// the error that stopped the server, if any. Init returns at once if Stop was called before.
func (g *Gateway) Init(endpoint, port string) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()

		return nil
	}

	g.s = &http.Server{
		Handler:      g.Router(),
		Addr:         endpoint + ":" + port,
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}
	s := g.s
	g.mu.Unlock()

	g.log.Info("listening to API http requests", zap.String("addr", s.Addr))

	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop shuts down the http server started by Init.
func (g *Gateway) Stop() {
	g.mu.Lock()
	g.stopped = true
	s := g.s
	g.mu.Unlock()

	if s == nil {
		return
	}

	if err := s.Shutdown(context.Background()); err != nil {
		g.log.Error("http server shutdown", zap.Error(err))
	}
}
