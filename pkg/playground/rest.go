// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package playground

// The REST API exchanges JSON objects, described by the types with the `Rest` prefix
// in messages.go. A possible conversation follows as an example.
//
//	// 1. Start an activity in a popup, POST to /api/open
//	// -> {"url":"https://pay.example/checkout","args":{"amount":5}}
//	// <- {"error":"","request_id":"3c5f0a9e-2d0b-4f6b-9c53-0f0c8e0b7a11"}
//
//	// 2. Poll for its outcome, GET /api/result/3c5f0a9e-2d0b-4f6b-9c53-0f0c8e0b7a11
//	// <- {"error":"","request_id":"3c5f...","pending":true}
//	// <- {"error":"","request_id":"3c5f...","code":"ok","data":{"paid":true},
//	//     "mode":"popup","origin":"https://pay.example","origin_verified":true,"secure_channel":true}
//
//	// 3. List finished activities nobody fetched yet, GET /api/pending?state=unread
//	// <- {"error":"","requests":["3c5f..."]}
//
// Remote pages attach to a bridged origin by opening a websocket to /ws?origin=<origin>.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/ports"
)

type RestOption func(*RestServer)

// WithHealthCheck adds a probe, e.g. of the result buffer, to /healthz.
func WithHealthCheck(check func(ctx context.Context) error) RestOption {
	return func(server *RestServer) {
		server.healthCheck = check
	}
}

type RestServer struct {
	router      *mux.Router
	playground  *Playground
	upgrader    websocket.Upgrader
	healthCheck func(ctx context.Context) error

	httpServer *http.Server
}

func NewRestServer(playground *Playground, opts ...RestOption) *RestServer {
	server := &RestServer{
		router:     mux.NewRouter(),
		playground: playground,
		upgrader: websocket.Upgrader{
			// Remote pages connect from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(server)
	}

	api := server.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/open", server.handleOpen).Methods(http.MethodPost)
	api.HandleFunc("/iframe", server.handleIframe).Methods(http.MethodPost)
	api.HandleFunc("/result/{id}", server.handleResult).Methods(http.MethodGet)
	api.HandleFunc("/pending", server.handlePending).Methods(http.MethodGet)
	api.HandleFunc("/requests", server.handleClear).Methods(http.MethodDelete)
	server.router.HandleFunc("/healthz", server.handleHealth).Methods(http.MethodGet)
	server.router.HandleFunc("/ws", server.handleWebsocket).Queries("origin", "{origin}")

	return server
}

func (server *RestServer) Handler() http.Handler {
	return server.router
}

// Start serves the API on listenAddress in the background.
func (server *RestServer) Start(listenAddress string) {
	server.httpServer = &http.Server{
		Addr:              listenAddress,
		Handler:           server.router,
		ReadHeaderTimeout: 60 * time.Second,
	}

	go func() {
		if err := server.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("REST server failed")
		}
	}()
	log.WithField("address", listenAddress).Info("REST server listening")
}

func (server *RestServer) Shutdown(ctx context.Context) error {
	if server.httpServer == nil {
		return nil
	}
	return server.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.WithError(err).Warn("Failed to write REST response")
	}
}

// statusOf maps playground errors to HTTP status codes.
func statusOf(err error) int {
	var (
		alreadyExpected *AlreadyExpectedError
		noSuchRequest   *NoSuchRequestError
		invalidTarget   *ports.InvalidTargetError
	)
	switch {
	case errors.As(err, &alreadyExpected):
		return http.StatusConflict
	case errors.As(err, &noSuchRequest):
		return http.StatusNotFound
	case errors.As(err, &invalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

// handleOpen processes /api/open POST requests.
func (server *RestServer) handleOpen(w http.ResponseWriter, r *http.Request) {
	var (
		openRequest  RestOpenRequest
		openResponse RestStartResponse
		status       = http.StatusOK
	)

	if jsonErr := json.NewDecoder(r.Body).Decode(&openRequest); jsonErr != nil {
		openResponse.Error = jsonErr.Error()
		status = http.StatusBadRequest
	} else {
		opts := ports.OpenOptions{
			DisableRedirectFallback: openRequest.DisableRedirectFallback,
			ReturnURL:               openRequest.ReturnURL,
			SkipRequestInURL:        openRequest.SkipRequestInURL,
		}
		requestID, err := server.playground.Open(openRequest.RequestID, openRequest.URL, openRequest.Target, openRequest.Args, &opts)
		if err != nil {
			openResponse.Error = err.Error()
			status = statusOf(err)
		} else {
			openResponse.RequestID = requestID
		}
	}

	log.WithFields(log.Fields{
		"request":  openRequest,
		"response": openResponse,
	}).Info("Processing REST open")

	writeJSON(w, status, openResponse)
}

// handleIframe processes /api/iframe POST requests. It answers once the activity connected.
func (server *RestServer) handleIframe(w http.ResponseWriter, r *http.Request) {
	var (
		iframeRequest  RestIframeRequest
		iframeResponse RestStartResponse
		status         = http.StatusOK
	)

	if jsonErr := json.NewDecoder(r.Body).Decode(&iframeRequest); jsonErr != nil {
		iframeResponse.Error = jsonErr.Error()
		status = http.StatusBadRequest
	} else {
		requestID, err := server.playground.OpenIframe(r.Context(), iframeRequest.RequestID, iframeRequest.URL, iframeRequest.Origin, iframeRequest.Args)
		if err != nil {
			iframeResponse.Error = err.Error()
			status = statusOf(err)
		} else {
			iframeResponse.RequestID = requestID
		}
	}

	log.WithFields(log.Fields{
		"request":  iframeRequest,
		"response": iframeResponse,
	}).Info("Processing REST iframe")

	writeJSON(w, status, iframeResponse)
}

// handleResult returns an activity's outcome once, GET /api/result/{id}. With ?peek=true
// the outcome is returned but kept.
func (server *RestServer) handleResult(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["id"]

	lookup := server.playground.Result
	if peek, _ := strconv.ParseBool(r.URL.Query().Get("peek")); peek {
		lookup = server.playground.Peek
	}

	result, err := lookup(requestID)
	var pending *ResultPendingError
	switch {
	case errors.As(err, &pending):
		writeJSON(w, http.StatusAccepted, RestResultResponse{RequestID: requestID, Pending: true})
	case err != nil:
		log.WithFields(log.Fields{
			"request": requestID,
			"error":   err,
		}).Debug("REST client asked for unavailable result")
		writeJSON(w, statusOf(err), RestResultResponse{RequestID: requestID, Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, newRestResultResponse(requestID, result))
	}
}

// handlePending lists request ids, GET /api/pending?state={pending,unread,all}.
func (server *RestServer) handlePending(w http.ResponseWriter, r *http.Request) {
	var requestIDs []string
	switch state := r.URL.Query().Get("state"); state {
	case "", StatePending:
		requestIDs = server.playground.Pending()
	case StateUnread:
		requestIDs = server.playground.Unread()
	case StateAll:
		requestIDs = server.playground.Requests()
	default:
		writeJSON(w, http.StatusBadRequest, RestPendingResponse{Error: "unknown state " + state, Requests: []string{}})
		return
	}
	writeJSON(w, http.StatusOK, RestPendingResponse{Requests: requestIDs})
}

// handleClear forgets all requests, DELETE /api/requests.
func (server *RestServer) handleClear(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RestPendingResponse{Requests: server.playground.Clear()})
}

func (server *RestServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := RestHealthResponse{Status: "ok"}
	status := http.StatusOK

	if server.healthCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := server.healthCheck(ctx); err != nil {
			response.Status = "degraded"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, response)
}

// handleWebsocket attaches a remote page to the next document of the requested origin.
func (server *RestServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	origin := mux.Vars(r)["origin"]
	if _, ok := server.playground.bridges[origin]; !ok {
		http.Error(w, NewNotBridgedError(origin).Error(), http.StatusNotFound)
		return
	}

	conn, err := server.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	if err := server.playground.Attach(origin, conn); err != nil {
		log.WithFields(log.Fields{
			"origin": origin,
			"error":  err,
		}).Warn("Rejecting remote page")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		_ = conn.Close()
	}
}
