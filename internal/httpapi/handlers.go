package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rmacdonaldsmith/directmesh-go/internal/logging"
	"github.com/rmacdonaldsmith/directmesh-go/internal/meshnode"
	meshnodepkg "github.com/rmacdonaldsmith/directmesh-go/pkg/meshnode"
	"github.com/rmacdonaldsmith/directmesh-go/pkg/wire"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	connector     meshnodepkg.Connector
	jwtAuth       *JWTAuth
	logger        logging.Logger
	clock         clock.Clock
	adminClientID string
	keepAlive     time.Duration
	streamBuffer  int

	streamClients atomic.Int64
	published     atomic.Int64
	streamed      atomic.Int64
	dropped       atomic.Int64
}

// NewHandlers creates a new handlers instance
func NewHandlers(connector meshnodepkg.Connector, jwtAuth *JWTAuth, cfg Config) *Handlers {
	return &Handlers{
		connector:     connector,
		jwtAuth:       jwtAuth,
		logger:        logging.OrNop(cfg.Logger),
		clock:         cfg.Clock,
		adminClientID: cfg.AdminClientID,
		keepAlive:     cfg.KeepAlive,
		streamBuffer:  cfg.StreamBuffer,
	}
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	isAdmin := h.adminClientID != "" && req.ClientID == h.adminClientID
	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{Token: token, ClientID: req.ClientID, ExpiresAt: expiresAt}, http.StatusOK)
}

// PublishEvent handles POST /api/v1/events
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validateTopic(req.Topic); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.connector.Publish(req.Topic, req.Payload); err != nil {
		writeError(w, fmt.Sprintf("Failed to publish: %v", err), publishStatus(err))
		return
	}
	h.published.Add(1)
	h.logger.Debugf("httpapi: %s published on %q", GetClientID(r), req.Topic)

	writeJSON(w, PublishResponse{Topic: req.Topic, PublishedAt: h.clock.Now()}, http.StatusAccepted)
}

func publishStatus(err error) int {
	var serErr *meshnode.SerializationError
	switch {
	case errors.Is(err, meshnode.ErrInvalidTopic), errors.As(err, &serErr):
		return http.StatusBadRequest
	case errors.Is(err, meshnode.ErrMessageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, meshnode.ErrConnectorClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StreamEvents handles GET /api/v1/events/stream?topic=...
//
// The stream subscribes a handler on the connector for as long as the client
// stays connected. Messages arriving faster than the client reads are dropped.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	topic := r.URL.Query().Get("topic")
	if err := h.validateTopic(topic); err != nil {
		writeError(w, fmt.Sprintf("Invalid topic: %v", err), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	messages := make(chan StreamMessage, h.streamBuffer)
	handle, err := h.connector.Subscribe(topic, func(topic string, message any) {
		select {
		case messages <- StreamMessage{Topic: topic, Payload: message, ReceivedAt: h.clock.Now()}:
		default:
			h.dropped.Add(1)
		}
	})
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to subscribe: %v", err), publishStatus(err))
		return
	}
	defer func() {
		if err := h.connector.Unsubscribe(topic, handle); err != nil {
			h.logger.Debugf("httpapi: unsubscribe %q: %v", topic, err)
		}
	}()

	h.streamClients.Add(1)
	defer h.streamClients.Add(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": SSE connection established for topic: %s\n\n", topic)
	flusher.Flush()

	ticker := h.clock.Ticker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.connector.Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-messages:
			if err := h.writeSSEMessage(w, msg); err != nil {
				h.logger.Debugf("httpapi: stream for %s ended: %v", GetClientID(r), err)
				return
			}
			h.streamed.Add(1)
			flusher.Flush()
		}
	}
}

// Health handles GET /api/v1/health. 503 until the connector is ready.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.connector.Health()
	resp := HealthResponse{HealthStatus: status, StreamClients: int(h.streamClients.Load())}

	statusCode := http.StatusOK
	if !status.Ready {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// AdminPeers handles GET /api/v1/admin/peers
func (h *Handlers) AdminPeers(w http.ResponseWriter, r *http.Request) {
	status := h.connector.Health()
	peers := status.Peers
	if peers == nil {
		peers = []meshnodepkg.PeerInfo{}
	}
	writeJSON(w, PeersResponse{UID: status.UID, Peers: peers}, http.StatusOK)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	status := h.connector.Health()
	writeJSON(w, StatsResponse{
		UID:                status.UID,
		Ready:              status.Ready,
		ActiveConnections:  status.ActiveConnections,
		PendingConnections: status.PendingConnections,
		LocalTopics:        status.LocalTopics,
		RemoteTopics:       status.RemoteTopics,
		StreamClients:      int(h.streamClients.Load()),
		MessagesPublished:  h.published.Load(),
		MessagesStreamed:   h.streamed.Load(),
		MessagesDropped:    h.dropped.Load(),
	}, http.StatusOK)
}

// validateJSON validates that the request has a JSON content type
func (h *Handlers) validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func (h *Handlers) validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return errors.New("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return errors.New("clientId must be at least 2 characters")
	}
	return nil
}

// validateTopic rejects topics that cannot be carried in a frame
func (h *Handlers) validateTopic(topic string) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if !wire.ValidTopic(topic) {
		return errors.New("topic contains separator bytes")
	}
	return nil
}

// writeSSEMessage writes msg as an SSE data message
func (h *Handlers) writeSSEMessage(w http.ResponseWriter, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE message: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
