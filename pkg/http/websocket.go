package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"salescoach-server/pkg/ai"
	"salescoach-server/pkg/config"
	"salescoach-server/pkg/messaging"
	"salescoach-server/pkg/model"
	"salescoach-server/pkg/session"
	"salescoach-server/pkg/stt"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 60 * time.Second
	sendBuffer = 256
)

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is the envelope for all inbound WebSocket messages.
type clientMessage struct {
	Type string `json:"type"`

	// start
	ProspectName    string   `json:"prospect_name,omitempty"`
	ProspectCompany string   `json:"prospect_company,omitempty"`
	Context         string   `json:"context,omitempty"`
	Objective       string   `json:"objective,omitempty"`
	ProductFocus    []string `json:"product_focus,omitempty"`
	Language        string   `json:"language,omitempty"`

	// audio_base64
	Audio string `json:"audio,omitempty"`

	// request_product
	Needs      string   `json:"needs,omitempty"`
	PainPoints []string `json:"pain_points,omitempty"`

	// request_objection_help
	Objection string `json:"objection,omitempty"`

	// suggestion_feedback
	SuggestionID string `json:"suggestion_id,omitempty"`
	WasHelpful   bool   `json:"was_helpful,omitempty"`
	WasUsed      bool   `json:"was_used,omitempty"`
}

// serverMessage is the envelope for all outbound WebSocket messages.
type serverMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// CallLifecycle lets the WebSocket layer update the call record as the
// live session progresses. Optional; nil when persistence is disabled.
type CallLifecycle interface {
	MarkCallStarted(ctx context.Context, id string) error
}

// CallHandlerOptions wires the call WebSocket handler's collaborators.
type CallHandlerOptions struct {
	Logger    *logrus.Logger
	Config    config.SessionConfig
	Registry  *session.Registry
	Engine    *ai.Engine
	Chat      ai.ChatClient
	Providers *stt.ProviderManager
	Store     session.Store
	Calls     CallLifecycle
	Publisher messaging.Publisher
}

// CallHandler serves the duplex WebSocket endpoint for live calls.
type CallHandler struct {
	logger    *logrus.Logger
	cfg       config.SessionConfig
	registry  *session.Registry
	engine    *ai.Engine
	chat      ai.ChatClient
	providers *stt.ProviderManager
	store     session.Store
	calls     CallLifecycle
	publisher messaging.Publisher
}

// NewCallHandler creates the live call WebSocket handler
func NewCallHandler(opts CallHandlerOptions) *CallHandler {
	return &CallHandler{
		logger:    opts.Logger,
		cfg:       opts.Config,
		registry:  opts.Registry,
		engine:    opts.Engine,
		chat:      opts.Chat,
		providers: opts.Providers,
		store:     opts.Store,
		calls:     opts.Calls,
		publisher: opts.Publisher,
	}
}

// ServeHTTP upgrades the connection and runs the call protocol until the
// client disconnects. A disconnect while the call is active ends the call.
func (h *CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	if callID == "" {
		callID = r.URL.Query().Get("call_id")
	}
	if callID == "" {
		callID = uuid.New().String()
	}

	userID := ""
	if claims, ok := UserFromContext(r.Context()); ok {
		userID = claims.UserID
	}

	provider, err := h.providers.GetProvider(r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "transcription provider unavailable")
		return
	}

	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := newWSClient(conn, h.logger)
	go client.writePump()

	sess := session.New(session.Options{
		CallID:    callID,
		UserID:    userID,
		Config:    h.cfg,
		Logger:    h.logger,
		Engine:    h.engine,
		Sentiment: ai.NewSentimentTracker(h.logger, h.chat),
		Provider:  provider,
		Store:     h.store,
		Sink:      messaging.NewEventSink(callID, &wsSink{client: client}, h.publisher, h.logger),
	})

	if err := h.registry.Add(sess); err != nil {
		h.logger.WithField("call_id", callID).Warn("Rejected duplicate call connection")
		client.send(serverMessage{Type: "error", Data: map[string]string{
			"message": "a session for this call already exists",
		}})
		sess.End("duplicate_connection")
		client.close()
		return
	}

	h.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"user_id": userID,
	}).Info("Call WebSocket connected")

	h.readLoop(client, sess)

	if sess.State() != model.CallEnded {
		sess.End("client_disconnected")
	}
	h.registry.Remove(callID)
	client.close()

	h.logger.WithField("call_id", callID).Info("Call WebSocket disconnected")
}

func (h *CallHandler) readLoop(client *wsClient, sess *session.Session) {
	for {
		messageType, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		if messageType == websocket.BinaryMessage {
			sess.ProcessAudio(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.send(serverMessage{Type: "error", Data: map[string]string{
				"message": "malformed message",
			}})
			continue
		}

		switch msg.Type {
		case "start":
			err := sess.Start(session.StartContext{
				ProspectName:    msg.ProspectName,
				ProspectCompany: msg.ProspectCompany,
				Context:         msg.Context,
				Objective:       msg.Objective,
				ProductFocus:    msg.ProductFocus,
				Language:        msg.Language,
			})
			if err != nil {
				client.send(serverMessage{Type: "error", Data: map[string]string{
					"message": err.Error(),
				}})
				continue
			}
			if h.calls != nil {
				go func(callID string) {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := h.calls.MarkCallStarted(ctx, callID); err != nil {
						h.logger.WithError(err).WithField("call_id", callID).
							Warn("Failed to mark call started")
					}
				}(sess.CallID())
			}

		case "consent_granted":
			sess.GrantConsent()

		case "consent_denied":
			sess.DenyConsent()

		case "consent_revoked":
			sess.RevokeConsent()

		case "audio_base64":
			frame, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				client.send(serverMessage{Type: "error", Data: map[string]string{
					"message": "invalid audio encoding",
				}})
				continue
			}
			sess.ProcessAudio(frame)

		case "request_product":
			sess.RequestProductSuggestion(msg.Needs, msg.PainPoints)

		case "request_objection_help":
			sess.RequestObjectionHelp(msg.Objection)

		case "request_closing":
			sess.RequestClosingHelp()

		case "request_discovery":
			sess.RequestDiscoveryQuestions()

		case "suggestion_feedback":
			sess.RecordSuggestionFeedback(msg.SuggestionID, msg.WasHelpful, msg.WasUsed)

		case "end":
			sess.End("client_request")

		case "ping":
			client.send(serverMessage{Type: "pong"})

		default:
			// Unknown message types are ignored so newer clients keep working.
		}
	}
}

// wsClient owns one WebSocket connection. All writes go through the send
// queue and a single writer goroutine.
type wsClient struct {
	conn      *websocket.Conn
	outbound  chan []byte
	logger    *logrus.Logger
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, logger *logrus.Logger) *wsClient {
	return &wsClient{
		conn:     conn,
		outbound: make(chan []byte, sendBuffer),
		logger:   logger,
	}
}

func (c *wsClient) send(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal server message")
		return
	}

	select {
	case c.outbound <- data:
	default:
		c.logger.WithField("type", msg.Type).Warn("WebSocket send queue full, dropping message")
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.outbound)
	})
}

// writePump pumps messages from the send queue to the WebSocket connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsSink delivers session events to the connected client.
type wsSink struct {
	client *wsClient
}

func (s *wsSink) SendTranscript(seg model.TranscriptSegment) {
	s.client.send(serverMessage{Type: "transcript", Data: seg})
}

func (s *wsSink) SendSentiment(sample model.SentimentSample) {
	s.client.send(serverMessage{Type: "sentiment", Data: sample})
}

func (s *wsSink) SendSuggestion(sg model.Suggestion) {
	s.client.send(serverMessage{Type: "suggestion", Data: sg})
}

func (s *wsSink) SendConsent(state model.ConsentState, message string) {
	s.client.send(serverMessage{Type: "consent", Data: map[string]string{
		"state":   string(state),
		"message": message,
	}})
}

func (s *wsSink) SendCallEnded(result model.CallResult) {
	s.client.send(serverMessage{Type: "call_ended", Data: result})
}
