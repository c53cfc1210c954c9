package server

import (
	"encoding/json"
	"errors"

	"github.com/franckalain/freshness/internal/models"
)

// inbound is a client message: {"type": "...", "data": {...}}
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outbound is a server message. Errors carry a top-level message instead of data.
type outbound struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type selectFileData struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
	Data string `json:"data"` // base64, no data URL prefix
}

type chatSubmitData struct {
	Text string `json:"text"`
}

type previewData struct {
	DataURL string `json:"data_url"`
}

type noticeRemovedData struct {
	ID   string            `json:"id"`
	Kind models.NoticeKind `json:"kind"`
}

type typingData struct {
	Typing bool `json:"typing"`
}

type openData struct {
	Open bool `json:"open"`
}

var errMissingData = errors.New("missing data")

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errMissingData
	}
	return json.Unmarshal(raw, v)
}
