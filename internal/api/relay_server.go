// The relay's HTTP surface: a mailbox for new items, a report endpoint for
// reviewer verdicts, and the subscriber socket. Everything accepted is
// broadcast to every connected subscriber; nothing is stored.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vrsandeep/fastchecker/internal/models"
	"github.com/vrsandeep/fastchecker/internal/relay"
	"github.com/vrsandeep/fastchecker/internal/websocket"
)

const maxRelayBody = 64 * 1024

// RelayServer holds the dependencies of the relay.
type RelayServer struct {
	hub    *websocket.Hub
	broker relay.Broker
	log    *zap.SugaredLogger
}

// NewRelayServer wires the hub's inbound frames to the broker. Call it
// before starting the hub.
func NewRelayServer(hub *websocket.Hub, broker relay.Broker, log *zap.SugaredLogger) *RelayServer {
	s := &RelayServer{hub: hub, broker: broker, log: log}
	hub.OnMessage(func(_ *websocket.Client, data []byte) {
		s.handleSubscriberFrame(data)
	})
	return s
}

// Router sets up and returns the relay's router.
func (s *RelayServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/ws", s.hub.ServeWs)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/mailbox", s.handleMailbox)
		r.Post("/report-result", s.handleReportResult)
	})
	return r
}

// handleRoot serves the liveness check, or subscribes the caller when it
// asks for a websocket upgrade on the root URL.
func (s *RelayServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsUpgrade(r) {
		s.hub.ServeWs(w, r)
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

type mailboxRequest struct {
	ItemID string `json:"item_id"`
	ASIN   string `json:"asin"`
}

// handleMailbox always acknowledges; only a well-formed body is broadcast.
func (s *RelayServer) handleMailbox(w http.ResponseWriter, r *http.Request) {
	defer RespondWithJSON(w, http.StatusOK, map[string]string{"status": "received"})

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRelayBody))
	if err != nil {
		s.log.Warnf("Mailbox: failed to read body: %v", err)
		return
	}
	var req mailboxRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.log.Warnf("Mailbox: dropping unparseable body: %v", err)
		return
	}
	id := req.ItemID
	if id == "" {
		id = req.ASIN
	}
	if id == "" {
		s.log.Warnf("Mailbox: dropping body without item id")
		return
	}

	frame, err := models.EncodeRelayMessage(models.NewItemNotice{ItemID: id})
	if err != nil {
		s.log.Errorf("Mailbox: failed to encode notice for %s: %v", id, err)
		return
	}
	s.log.Infof("Mailbox: new item %s", id)
	s.publish(r.Context(), frame)
}

// handleReportResult broadcasts a reviewer verdict exactly as it was posted.
func (s *RelayServer) handleReportResult(w http.ResponseWriter, r *http.Request) {
	defer RespondWithJSON(w, http.StatusOK, map[string]string{"status": "published"})

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRelayBody))
	if err != nil {
		s.log.Warnf("Report: failed to read body: %v", err)
		return
	}
	msg, err := models.DecodeRelayMessage(body)
	if err != nil {
		s.log.Warnf("Report: dropping body: %v", err)
		return
	}
	notice, ok := msg.(models.ManualResultNotice)
	if !ok {
		s.log.Warnf("Report: dropping %s message, expected %s", msg.MessageType(), models.TypeManualResult)
		return
	}
	s.log.Infof("Report: %s is %s", notice.ItemID, notice.ManualStatus)
	s.publish(r.Context(), body)
}

func (s *RelayServer) handleSubscriberFrame(data []byte) {
	msg, err := models.DecodeRelayMessage(data)
	if err != nil {
		if errors.Is(err, models.ErrUnknownMessageType) {
			s.log.Infof("Subscriber frame ignored: %v", err)
		} else {
			s.log.Warnf("Subscriber frame dropped: %v", err)
		}
		return
	}
	s.log.Debugf("Subscriber frame %s for %s", msg.MessageType(), itemIDOf(msg))
	s.publish(context.Background(), data)
}

func (s *RelayServer) publish(ctx context.Context, frame []byte) {
	// The request context ends with the response; the broadcast must not.
	ctx = context.WithoutCancel(ctx)
	if err := s.broker.Publish(ctx, frame); err != nil {
		s.log.Errorf("Broadcast failed: %v", err)
	}
}

func itemIDOf(msg models.RelayMessage) string {
	switch m := msg.(type) {
	case models.NewItemNotice:
		return m.ItemID
	case models.ManualResultNotice:
		return m.ItemID
	case models.MarketPriceRequest:
		return m.ItemID
	case models.MarketPriceResult:
		return m.ItemID
	}
	return ""
}
