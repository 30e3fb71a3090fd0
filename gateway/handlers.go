package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tarancss/capgw/lib/chain/types"
	"github.com/tarancss/capgw/lib/queue"
)

// Errors returned to client requests.
var (
	ErrBadRequest = errors.New("bad request")
	ErrBadReason  = errors.New("invalid reason filter")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  interface{} `json:"body,omitempty"`
	Error string      `json:"error,omitempty"`
}

// reply writes res with status, or the error status for err.
func (g *Gateway) reply(rw http.ResponseWriter, r *http.Request, status int, res Response, err error) {
	if err != nil {
		res.Body = nil
		res.Error = err.Error()

		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrBadRequest), errors.Is(err, ErrBadReason), errors.Is(err, types.ErrNoCalls):
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
	}
	// log request
	g.log.Debug("httpreq", zap.String("from", r.RemoteAddr), zap.String("uri", r.RequestURI),
		zap.Int("status", status), zap.Error(err))
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

// enqueueHandler enqueues the request in the body. It replies 202 with the id and state of the job, whether it was
// created by this request or already existed.
func (g *Gateway) enqueueHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		req types.TxReq
		res Result
		err error
	)

	defer func() { g.reply(rw, r, http.StatusAccepted, Response{Body: res}, err) }()

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = errors.Join(ErrBadRequest, err)

		return
	}

	res, err = g.Enqueue(r.Context(), req)
}

// jobHandler replies the job with the id in the uri.
func (g *Gateway) jobHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		j   *queue.Job
		err error
	)

	defer func() { g.reply(rw, r, http.StatusOK, Response{Body: j}, err) }()

	j, err = g.q.Job(r.Context(), mux.Vars(r)["id"])
}

// failedHandler replies the failed jobs, filtered by the regular expression in the reason query if given.
func (g *Gateway) failedHandler(rw http.ResponseWriter, r *http.Request) {
	var (
		jobs   []*queue.Job
		reason *regexp.Regexp
		err    error
	)

	defer func() { g.reply(rw, r, http.StatusOK, Response{Body: jobs}, err) }()

	if q := r.URL.Query().Get("reason"); q != "" {
		if reason, err = regexp.Compile(q); err != nil {
			err = errors.Join(ErrBadReason, err)

			return
		}
	}

	jobs, err = g.q.Failed(r.Context(), reason)
}
