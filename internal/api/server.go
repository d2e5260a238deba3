// It defines the agent's control API, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vrsandeep/fastchecker/internal/core"
	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/websocket"
)

// Server holds the dependencies for the agent API.
type Server struct {
	app *core.App
}

// NewServer creates a new Server instance and wires panel commands arriving
// over the UI socket.
func NewServer(app *core.App) *Server {
	s := &Server{app: app}
	app.WsHub().OnMessage(s.handleUICommand)
	return s
}

// Router sets up and returns the main router for the agent.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics

	// The event socket is long-lived and must stay outside the timeout.
	r.Get("/ws", s.app.WsHub().ServeWs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Get("/providers", s.handleListProviders)

			r.Post("/check", s.handleCheck)
			r.Post("/stop", s.handleStop)
			r.Get("/results", s.handleGetResults)
			r.Get("/export", s.handleExport)
			r.Get("/manual-results", s.handleGetManualResults)
			r.Post("/market-prices", s.handleRequestMarketPrices)

			r.Get("/jobs/status", s.handleGetJobsStatus)
			r.Post("/jobs/run", s.handleRunJob)
		})
	})
	return r
}

// uiCommand is a request sent by the panel over the event socket.
type uiCommand struct {
	Action string            `json:"action"`
	Data   models.BatchInput `json:"data"`
}

// handleUICommand runs a panel command. A checkAsin that cannot start is
// answered on the sender's socket only.
func (s *Server) handleUICommand(c *websocket.Client, data []byte) {
	log := s.app.Logger()
	var cmd uiCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Warnf("Dropping malformed panel command: %v", err)
		return
	}
	switch cmd.Action {
	case models.ActionCheckAsin:
		if _, _, err := s.app.Runner().Start(cmd.Data); err != nil {
			log.Warnf("Panel check rejected: %v", err)
			if err := c.SendJSON(models.CheckRejectedEvent(err)); err != nil {
				log.Warnf("Could not report rejected check to panel: %v", err)
			}
		}
	case models.ActionStopCheck:
		s.app.Runner().Stop()
	default:
		log.Debugf("Ignoring panel command %q", cmd.Action)
	}
}
