package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/franckalain/freshness/internal/chat"
	"github.com/franckalain/freshness/internal/config"
	"github.com/franckalain/freshness/internal/ml"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/notice"
	"github.com/franckalain/freshness/internal/upload"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	outboundSize = 64
)

// session is one websocket client. It owns its own upload lifecycle and
// chat responder; nothing is shared between sessions.
type session struct {
	id        string
	conn      *websocket.Conn
	logger    *zap.Logger
	lifecycle *upload.Lifecycle
	chat      *chat.Responder
	maxBytes  int64
	readLimit int64

	out         chan outbound
	done        chan struct{}
	closeOnce   sync.Once
	writerDone  chan struct{}
	lastPreview string // only touched from the lifecycle listener
}

func newSession(conn *websocket.Conn, cfg *config.Config, model ml.Model, logger *zap.Logger) *session {
	s := &session{
		id:         uuid.New().String(),
		conn:       conn,
		maxBytes:   cfg.Upload.MaxBytes,
		out:        make(chan outbound, outboundSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	s.logger = logger.Named("session").With(zap.String("session", s.id))

	board := notice.NewBoard(cfg.Notices.TTL.Duration, s.onNotice)
	s.lifecycle = upload.New(model, board,
		upload.WithLogger(s.logger),
		upload.WithMaxBytes(cfg.Upload.MaxBytes),
		upload.WithListener(s.onState),
	)
	s.chat = chat.NewResponder(
		chat.WithDelay(cfg.Chat.MinDelay.Duration, cfg.Chat.MaxDelay.Duration),
		chat.WithLogger(s.logger),
		chat.WithListener(s.onChat),
	)

	if cfg.Server.MaxMessageBytes > 0 {
		s.readLimit = cfg.Server.MaxMessageBytes
		conn.SetReadLimit(s.readLimit)
	}
	return s
}

// run serves the connection until the client goes away
func (s *session) run() {
	defer s.close()
	go s.writeLoop()

	s.logger.Info("client connected")
	s.send("session", map[string]string{"id": s.id})
	s.sendState()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.logger.Warn("message exceeds read limit", zap.Int64("limit", s.readLimit))
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("error reading message", zap.Error(err))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Debug("error parsing message", zap.Error(err))
			s.sendError("Invalid message format")
			continue
		}
		s.handleMessage(msg)
	}
}

func (s *session) handleMessage(msg inbound) {
	switch msg.Type {
	case "select_file":
		s.handleSelectFile(msg.Data)
	case "confirm_upload":
		s.lifecycle.ConfirmUpload()
	case "start_detection":
		if err := s.lifecycle.StartDetection(); errors.Is(err, upload.ErrDetectionInFlight) {
			s.logger.Debug("ignoring start_detection while loading")
		}
	case "reset":
		s.lifecycle.Reset()
	case "get_state":
		s.sendState()
	case "chat_toggle":
		s.chat.ToggleOpen()
	case "chat_submit":
		var data chatSubmitData
		if err := decodeData(msg.Data, &data); err != nil {
			s.sendError("Invalid chat message")
			return
		}
		s.chat.Submit(data.Text)
	case "":
		s.sendError("Invalid message format")
	default:
		s.sendError("Unknown message type")
	}
}

func (s *session) handleSelectFile(raw json.RawMessage) {
	var data selectFileData
	if err := decodeData(raw, &data); err != nil {
		s.sendError("Invalid file data")
		return
	}

	// Clients send only the metadata of a file over the limit, so the
	// payload never has to fit through the read limit to get the size notice.
	if data.Size > s.maxBytes {
		s.lifecycle.SelectFile(models.SelectedImage{
			Name:      data.Name,
			MediaType: data.Type,
			Size:      data.Size,
		})
		return
	}

	imageData, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		s.logger.Debug("error decoding image", zap.Error(err))
		s.sendError("Invalid image format")
		return
	}
	if len(imageData) == 0 {
		s.sendError("Invalid file data")
		return
	}

	size := data.Size
	if size == 0 {
		size = int64(len(imageData))
	}
	// Validation failures are reported through the notice board
	s.lifecycle.SelectFile(models.SelectedImage{
		Name:      data.Name,
		MediaType: data.Type,
		Size:      size,
		Data:      imageData,
	})
}

func (s *session) sendState() {
	st := s.lifecycle.State()
	s.send("state", st)
	s.send("chat_history", s.chat.History())
	for _, n := range s.lifecycle.Notices().Active() {
		s.send("notice", n)
	}
}

// Listeners run with the owning component locked; they only enqueue.

func (s *session) onState(st upload.State) {
	if st.Preview != s.lastPreview {
		s.lastPreview = st.Preview
		s.send("preview", previewData{DataURL: st.Preview})
	}
	s.send("state", st)
}

func (s *session) onNotice(ev notice.Event) {
	switch ev.Type {
	case notice.EventPosted:
		s.send("notice", ev.Notice)
	case notice.EventRemoved:
		s.send("notice_removed", noticeRemovedData{ID: ev.Notice.ID, Kind: ev.Notice.Kind})
	}
}

func (s *session) onChat(ev chat.Event) {
	switch ev.Type {
	case chat.EventMessage:
		s.send("chat_message", ev.Message)
	case chat.EventTyping:
		s.send("chat_typing", typingData{Typing: ev.Typing})
	case chat.EventOpen:
		s.send("chat_open", openData{Open: ev.Open})
	}
}

func (s *session) send(messageType string, data any) {
	s.enqueue(outbound{Type: messageType, Data: data})
}

func (s *session) sendError(message string) {
	s.enqueue(outbound{Type: "error", Message: message})
}

// enqueue hands msg to the writer. It gives up once the session is closing
// or the writer has stopped, since nothing will drain out after that.
func (s *session) enqueue(msg outbound) {
	select {
	case s.out <- msg:
	case <-s.done:
	case <-s.writerDone:
	}
}

// writeLoop is the only goroutine writing to the connection
func (s *session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("error sending message", zap.String("type", msg.Type), zap.Error(err))
				s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.chat.Close()
		s.lifecycle.Close()
		<-s.writerDone
		s.conn.Close()
		s.logger.Info("client disconnected")
	})
}
