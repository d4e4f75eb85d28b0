package ws

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/beacon/internal/logging"
	"github.com/darkden-lab/beacon/internal/subscriptions"
	"github.com/darkden-lab/beacon/internal/wire"
)

// opTimeout bounds registry and producer calls made on behalf of a socket.
const opTimeout = 5 * time.Second

// Registry persists socket subscriptions. Implemented by
// subscriptions.Registry.
type Registry interface {
	Save(ctx context.Context, id string, patch subscriptions.Patch) (*subscriptions.Subscription, error)
	Delete(ctx context.Context, id string) error
}

// Announcer publishes a NEW_CONNECTION event. Implemented by queue.Producer.
type Announcer interface {
	AnnounceConnection(ctx context.Context, sub *subscriptions.Subscription) error
}

// Readiness reports whether backing services are available.
type Readiness interface {
	Ready() bool
}

// Server upgrades HTTP connections to WebSocket and runs the connection
// lifecycle: register on connect, handle inbound frames, clean up on
// disconnect.
type Server struct {
	hub       *Hub
	registry  Registry
	announcer Announcer
	readiness Readiness
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// NewServer creates a Server. announcer may be nil.
func NewServer(hub *Hub, registry Registry, announcer Announcer, allowedOrigins []string) *Server {
	return &Server{
		hub:       hub,
		registry:  registry,
		announcer: announcer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(allowedOrigins),
		},
		log: logging.With("ws"),
	}
}

// SetReadiness makes ServeWS refuse connections while r is not ready.
func (s *Server) SetReadiness(r Readiness) {
	s.readiness = r
}

// RegisterRoutes wires the WebSocket endpoint.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", s.ServeWS).Methods(http.MethodGet)
}

// ServeWS upgrades GET /ws. The optional clientId query parameter is stored
// on the subscription. The socket is closed if the subscription cannot be
// saved.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil && !s.readiness.Ready() {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	client := NewClient(conn, r.URL.Query().Get("clientId"))
	log := s.log.With().Str("subscription_id", client.ID).Logger()

	var patch subscriptions.Patch
	if client.ClientID != "" {
		id := client.ClientID
		patch.ClientID = &id
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	sub, err := s.registry.Save(ctx, client.ID, patch)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("subscription save failed, closing socket")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s.hub.Register(client)
	log.Info().Str("client_id", client.ClientID).Msg("socket connected")

	if s.announcer != nil {
		go s.announce(sub)
	}
	go client.WritePump()
	go client.ReadPump(s)
}

func (s *Server) announce(sub *subscriptions.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.announcer.AnnounceConnection(ctx, sub); err != nil {
		s.log.Error().Err(err).Str("subscription_id", sub.SubscriptionID).Msg("connection announcement failed")
	}
}

// disconnect leaves every room and deletes the subscription. It runs once
// per client.
func (s *Server) disconnect(c *Client) {
	s.hub.Unregister(c)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.registry.Delete(ctx, c.ID); err != nil {
		s.log.Error().Err(err).Str("subscription_id", c.ID).Msg("subscription delete failed")
		return
	}
	s.log.Info().Str("subscription_id", c.ID).Msg("socket disconnected")
}

type reconnectPayload struct {
	ClientID             *string `json:"clientId"`
	NewConnectionsListen *bool   `json:"newConnectionsListen"`
}

type privatePayload struct {
	Target  wire.Target     `json:"socketIdsOrRooms"`
	Message json.RawMessage `json:"message"`
}

// handleFrame dispatches one inbound frame from c. Malformed frames are
// logged and dropped.
func (s *Server) handleFrame(c *Client, raw []byte) {
	log := s.log.With().Str("subscription_id", c.ID).Logger()

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Msg("invalid frame")
		return
	}
	data, err := frameData(f.Data)
	if err != nil {
		log.Warn().Err(err).Str("event", f.Event).Msg("invalid frame data")
		return
	}

	switch f.Event {
	case EventReconnect:
		s.reconnect(c, data)
	case EventBroadcast:
		if len(data) == 0 {
			log.Warn().Msg("broadcast without data dropped")
			return
		}
		if err := s.hub.Broadcast(data, c.ID); err != nil {
			log.Error().Err(err).Msg("broadcast failed")
		}
	case EventEmitPrivate:
		var p privatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			log.Warn().Err(err).Msg("invalid emit_private payload")
			return
		}
		body := p.Message
		if len(body) == 0 {
			body = data
		}
		if err := s.hub.Emit(body, p.Target); err != nil {
			log.Error().Err(err).Msg("emit_private failed")
		}
	default:
		log.Warn().Str("event", f.Event).Msg("unknown event")
	}
}

func (s *Server) reconnect(c *Client, data json.RawMessage) {
	log := s.log.With().Str("subscription_id", c.ID).Logger()

	var p reconnectPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			log.Warn().Err(err).Msg("invalid reconnect payload")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	sub, err := s.registry.Save(ctx, c.ID, subscriptions.Patch{
		ClientID:             p.ClientID,
		NewConnectionsListen: p.NewConnectionsListen,
	})
	if err != nil {
		log.Error().Err(err).Msg("reconnect save failed")
		return
	}

	if sub.NewConnectionsListen {
		s.hub.Join(c, subscriptions.NewConnectionsRoom)
	} else {
		s.hub.Leave(c, subscriptions.NewConnectionsRoom)
	}
	log.Debug().Bool("new_connections_listen", sub.NewConnectionsListen).Msg("subscription refreshed")
}

// frameData returns the JSON payload of a frame whose data is either a JSON
// string holding the encoded payload or the payload itself.
func frameData(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace([]byte(s))) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := wire.DecodeInto(s, &v); err != nil {
		return nil, err
	}
	return json.RawMessage(s), nil
}
