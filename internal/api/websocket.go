package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSnapshot   MessageType = "snapshot"
	MessageTypeGeneration MessageType = "generation"
	MessageTypeFinished   MessageType = "finished"
	MessageTypeLagged     MessageType = "lagged"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamClient forwards the progress of one run to one WebSocket connection
type streamClient struct {
	conn    *websocket.Conn
	manager *RunManager
	runID   uuid.UUID
	updates <-chan evolution.GenerationRecord
	send    chan []byte
	closed  chan struct{}
}

// handleStreamOptimization upgrades the connection and streams the run: a snapshot
// first, then one message per generation, then the final snapshot.
func (s *Server) handleStreamOptimization(c *gin.Context) {
	id, ok := parseRunID(c)
	if !ok {
		return
	}

	snap, updates, unsubscribe, err := s.manager.Subscribe(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "optimization not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &streamClient{
		conn:    conn,
		manager: s.manager,
		runID:   id,
		updates: updates,
		send:    make(chan []byte, subscriberBuffer),
		closed:  make(chan struct{}),
	}

	log.Info().Str("run_id", id.String()).Msg("WebSocket client connected")

	// The snapshot goes out before the pumps start so it always precedes generation messages
	data, err := encodeMessage(MessageTypeSnapshot, snap)
	if err == nil {
		err = client.write(data)
	}
	if err != nil {
		log.Error().Err(err).Str("run_id", id.String()).Msg("Failed to send run snapshot")
		unsubscribe()
		conn.Close()
		return
	}

	go client.writePump(unsubscribe)
	go client.readPump()
}

// readPump handles client pings and detects disconnects
func (c *streamClient) readPump() {
	defer func() {
		close(c.closed)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("run_id", c.runID.String()).Msg("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump forwards queued messages and generation updates to the connection
func (c *streamClient) writePump(unsubscribe func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		c.conn.Close()
		log.Info().Str("run_id", c.runID.String()).Msg("WebSocket client disconnected")
	}()

	updates := c.updates
	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}

		case record, ok := <-updates:
			if !ok {
				c.finish()
				return
			}
			data, err := encodeMessage(MessageTypeGeneration, record)
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode generation message")
				continue
			}
			if err := c.write(data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}

// finish sends the final snapshot and closes the stream. A run that is still
// running means the manager dropped this subscriber for falling behind.
func (c *streamClient) finish() {
	snap, ok := c.manager.Get(c.runID)
	msgType, code, reason := closingFrame(snap, ok)

	if ok {
		if data, err := encodeMessage(msgType, snap); err == nil {
			if err := c.write(data); err != nil {
				return
			}
		}
	}
	if msgType == MessageTypeLagged {
		log.Warn().Str("run_id", c.runID.String()).Msg("WebSocket client lagged behind run, closing stream")
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

// closingFrame picks the last message and close code for an ended update stream
func closingFrame(snap RunSnapshot, found bool) (MessageType, int, string) {
	if found && !snap.Finished() {
		return MessageTypeLagged, websocket.CloseTryAgainLater, "subscriber lagged"
	}
	return MessageTypeFinished, websocket.CloseNormalClosure, "run finished"
}

func (c *streamClient) write(message []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// handleMessage processes messages received from the client
func (c *streamClient) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Error().Err(err).Msg("Failed to parse client message")
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.queue(MessageTypePong, struct{}{})
	default:
		log.Debug().
			Str("type", string(msg.Type)).
			Msg("Received client message")
	}
}

// queue enqueues a message without blocking; it is dropped when the buffer is full
func (c *streamClient) queue(msgType MessageType, data interface{}) {
	message, err := encodeMessage(msgType, data)
	if err != nil {
		log.Error().Err(err).Str("type", string(msgType)).Msg("Failed to encode message")
		return
	}

	select {
	case c.send <- message:
	default:
		// Send channel is full
	}
}

func encodeMessage(msgType MessageType, data interface{}) ([]byte, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      dataBytes,
	})
}
