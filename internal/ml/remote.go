package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/franckalain/freshness/internal/logging"
	"github.com/franckalain/freshness/internal/models"
	"go.uber.org/zap"
)

// maxErrorBody caps how much of a failed response is kept for the user
const maxErrorBody = 64 * 1024

// RemoteModel implements the Model interface for the HTTP freshness classifier
type RemoteModel struct {
	config RemoteConfig
	client *http.Client
	logger *zap.Logger
}

// RemoteModelFactory implements ModelFactory for remote models
type RemoteModelFactory struct {
	config RemoteConfig
	logger *zap.Logger
}

// NewRemoteModelFactory creates a new remote model factory
func NewRemoteModelFactory(config RemoteConfig, logger *zap.Logger) *RemoteModelFactory {
	return &RemoteModelFactory{config: config, logger: logging.OrNop(logger)}
}

// CreateModel creates a new remote model instance
func (f *RemoteModelFactory) CreateModel() (Model, error) {
	return &RemoteModel{
		config: f.config,
		logger: f.logger.Named("classifier"),
	}, nil
}

// NewRemoteModel creates and loads a remote model using the given HTTP client
func NewRemoteModel(config RemoteConfig, client *http.Client, logger *zap.Logger) (*RemoteModel, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	return &RemoteModel{
		config: config,
		client: client,
		logger: logging.OrNop(logger).Named("classifier"),
	}, nil
}

// Load initializes the HTTP client
func (m *RemoteModel) Load(ctx context.Context) error {
	if err := m.config.Load(); err != nil {
		return err
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: m.config.Timeout}
	}
	m.logger.Info("classifier configured", zap.String("endpoint", m.config.Endpoint))
	return nil
}

// ProcessImage posts the image as a multipart "file" part and parses the verdict
func (m *RemoteModel) ProcessImage(ctx context.Context, img *models.SelectedImage) (*models.DetectionResult, error) {
	if m.client == nil {
		return nil, fmt.Errorf("model not loaded")
	}
	if img == nil {
		return nil, fmt.Errorf("no image to process")
	}

	body, contentType, err := encodeMultipart(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	m.logger.Debug("sending image",
		zap.String("file", img.Name),
		zap.Int64("size", img.Size),
		zap.String("type", img.MediaType))

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	m.logger.Debug("classifier responded", zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := newStatusError(resp.StatusCode, data)
		m.logger.Warn("classifier error response",
			zap.Int("status", resp.StatusCode),
			zap.String("message", statusErr.Message()))
		return nil, statusErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return parsePrediction(data)
}

// Health queries the classifier's health route
func (m *RemoteModel) Health(ctx context.Context) (*models.ClassifierHealth, error) {
	if m.client == nil {
		return nil, fmt.Errorf("model not loaded")
	}
	healthURL, err := m.config.HealthURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newStatusError(resp.StatusCode, data)
	}

	var health models.ClassifierHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	return &health, nil
}

func encodeMultipart(img *models.SelectedImage) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": img.Name,
	}))
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	header.Set("Content-Type", mediaType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func parsePrediction(data []byte) (*models.DetectionResult, error) {
	// First unmarshal into a map to check for missing fields
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse classifier response: %w", err)
	}
	for _, field := range []string{"food_item", "prediction", "confidence"} {
		if _, exists := rawMap[field]; !exists {
			return nil, fmt.Errorf("missing required field '%s' in response", field)
		}
	}

	var output struct {
		Filename         string          `json:"filename"`
		Prediction       string          `json:"prediction"`
		FoodItem         string          `json:"food_item"`
		FullClass        string          `json:"full_class"`
		Confidence       json.RawMessage `json:"confidence"`
		RawConfidence    float64         `json:"raw_confidence"`
		ClassIndex       int             `json:"class_index"`
		AllProbabilities []float64       `json:"all_probabilities"`
	}
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("failed to parse classifier response: %w", err)
	}

	confidence, err := confidenceText(output.Confidence)
	if err != nil {
		return nil, err
	}

	return &models.DetectionResult{
		FoodItem:         output.FoodItem,
		Prediction:       output.Prediction,
		Verdict:          models.ParseVerdict(output.Prediction),
		Confidence:       confidence,
		Filename:         output.Filename,
		FullClass:        output.FullClass,
		RawConfidence:    output.RawConfidence,
		ClassIndex:       output.ClassIndex,
		AllProbabilities: output.AllProbabilities,
	}, nil
}

// confidenceText accepts the documented display string, and tolerates a bare
// percentage number by formatting it the way the classifier does.
func confidenceText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', 2, 64) + "%", nil
	}
	return "", fmt.Errorf("invalid confidence value %s in response", string(raw))
}
