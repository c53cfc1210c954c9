// Package upload implements the select → preview → detect → result lifecycle
// of a single user session.
//
// A Lifecycle owns the selected image, the visible phase and the last
// detection result. All transitions and all asynchronous continuations
// (preview decoding, classifier responses) run under one mutex. A generation
// counter is bumped by StartDetection, Reset and every successful SelectFile;
// a classifier response is applied only if its generation is still current.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/franckalain/freshness/internal/logging"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/notice"
	"go.uber.org/zap"
)

// Phase is the UI region currently visible
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePreview Phase = "preview"
	PhaseLoading Phase = "loading"
	PhaseResult  Phase = "result"
)

// Classifier judges an image. ml.Model satisfies it.
type Classifier interface {
	ProcessImage(ctx context.Context, img *models.SelectedImage) (*models.DetectionResult, error)
}

// State is a snapshot of a Lifecycle handed to listeners
type State struct {
	Phase         Phase                   `json:"phase"`
	Selection     *models.SelectedImage   `json:"selection,omitempty"`
	Result        *models.DetectionResult `json:"result,omitempty"`
	Preview       string                  `json:"-"` // data URL shared by the preview and result views, sent separately
	UploadEnabled bool                    `json:"upload_enabled"`
	DetectEnabled bool                    `json:"detect_enabled"`
	Generation    uint64                  `json:"generation"`
	ClearInput    bool                    `json:"clear_input,omitempty"` // set by Reset so the file input forgets its value
}

// Listener is called after every state change, with the lifecycle locked.
// It must not call back into the Lifecycle.
type Listener func(State)

// Option configures a Lifecycle
type Option func(*Lifecycle)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(lc *Lifecycle) { lc.logger = logging.OrNop(l) }
}

// WithListener sets the state listener
func WithListener(fn Listener) Option {
	return func(lc *Lifecycle) { lc.listener = fn }
}

// WithMaxBytes overrides the 10 MiB size limit
func WithMaxBytes(n int64) Option {
	return func(lc *Lifecycle) { lc.maxBytes = n }
}

// WithContext sets the parent context of classifier requests
func WithContext(ctx context.Context) Option {
	return func(lc *Lifecycle) { lc.parent = ctx }
}

// Lifecycle drives one session's upload and detection flow
type Lifecycle struct {
	mu         sync.Mutex
	classifier Classifier
	notices    *notice.Board
	listener   Listener
	logger     *zap.Logger
	maxBytes   int64

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	phase      Phase
	selection  *models.SelectedImage
	lastResult *models.DetectionResult
	preview    string
	generation uint64
	selSeq     uint64 // guards preview decoding, bumped per selection and reset
}

// New creates a Lifecycle in the Idle phase. The board is owned by the
// Lifecycle from here on and is closed by Close.
func New(classifier Classifier, notices *notice.Board, opts ...Option) *Lifecycle {
	lc := &Lifecycle{
		classifier: classifier,
		notices:    notices,
		logger:     zap.NewNop(),
		maxBytes:   DefaultMaxBytes,
		parent:     context.Background(),
		phase:      PhaseIdle,
	}
	for _, opt := range opts {
		opt(lc)
	}
	if lc.notices == nil {
		lc.notices = notice.NewBoard(notice.DefaultTTL, nil)
	}
	lc.logger = lc.logger.Named("upload")
	lc.ctx, lc.cancel = context.WithCancel(lc.parent)
	return lc
}

// Notices returns the board the lifecycle posts to
func (l *Lifecycle) Notices() *notice.Board {
	return l.notices
}

// SelectFile validates a candidate and makes it the current selection
func (l *Lifecycle) SelectFile(candidate models.SelectedImage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := Validate(candidate, l.maxBytes); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			l.notices.Error(verr.Message)
		}
		l.logger.Debug("file rejected",
			zap.String("file", candidate.Name),
			zap.String("type", candidate.MediaType),
			zap.Error(err))
		return err
	}

	img := candidate
	img.Size = sizeOf(candidate)
	l.selection = &img
	l.lastResult = nil
	l.preview = ""
	l.selSeq++
	// Any response still in flight belongs to the previous image
	l.generation++
	if l.phase == PhaseLoading || l.phase == PhaseResult {
		l.phase = PhaseIdle
	}

	l.logger.Debug("file selected", zap.String("file", img.Name), zap.Int64("size", img.Size))
	l.notices.Success(fmt.Sprintf("File %q selected successfully!", img.Name))
	l.emitLocked(false)

	l.wg.Add(1)
	go l.decodePreview(l.selSeq, &img)
	return nil
}

// ConfirmUpload moves a selected image into the Preview phase
func (l *Lifecycle) ConfirmUpload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.selection == nil {
		l.notices.Error("Please select a file first.")
		return ErrMissingSelection
	}
	if l.phase == PhaseLoading {
		return ErrDetectionInFlight
	}

	l.phase = PhasePreview
	l.notices.Success(`Image uploaded successfully! Click "Detect Freshness" to analyze.`)
	l.emitLocked(false)
	return nil
}

// StartDetection sends the selection to the classifier. It returns as soon
// as the request is issued; the outcome is applied asynchronously. A call
// made while a request is already pending is a no-op that returns
// ErrDetectionInFlight.
func (l *Lifecycle) StartDetection() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.selection == nil {
		l.notices.Error("No image selected for detection.")
		return ErrMissingSelection
	}
	if l.phase == PhaseLoading {
		l.logger.Debug("detection already in flight", zap.Uint64("generation", l.generation))
		return ErrDetectionInFlight
	}

	l.generation++
	l.phase = PhaseLoading
	l.lastResult = nil
	l.emitLocked(false)

	gen, img := l.generation, l.selection
	l.logger.Info("detection started", zap.String("file", img.Name), zap.Uint64("generation", gen))

	l.wg.Add(1)
	go l.detect(gen, img)
	return nil
}

// Reset returns to Idle from any phase and forgets everything
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.generation++
	l.selSeq++
	l.selection = nil
	l.lastResult = nil
	l.preview = ""
	l.phase = PhaseIdle
	l.notices.Clear()
	l.logger.Debug("reset", zap.Uint64("generation", l.generation))
	l.emitLocked(true)
}

// State returns a snapshot of the current state
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

// Wait blocks until pending classifier requests and preview decodes finish
func (l *Lifecycle) Wait() {
	l.wg.Wait()
}

// Close cancels pending requests, waits for them and stops notice timers
func (l *Lifecycle) Close() {
	l.cancel()
	l.wg.Wait()
	l.notices.Close()
}

func (l *Lifecycle) detect(gen uint64, img *models.SelectedImage) {
	defer l.wg.Done()

	result, err := l.classifier.ProcessImage(l.ctx, img)

	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation {
		l.logger.Debug("discarding stale detection response",
			zap.Uint64("generation", gen),
			zap.Uint64("current", l.generation))
		return
	}

	if err != nil {
		l.phase = PhaseIdle
		l.logger.Warn("detection failed", zap.String("file", img.Name), zap.Error(err))
		l.notices.Error(fmt.Sprintf("Detection failed: %s. Please check if the server is running and try again.", err))
		l.emitLocked(false)
		return
	}

	res := *result
	res.FoodItem = models.CapitalizeFirst(res.FoodItem)
	res.Verdict = models.ParseVerdict(res.Prediction)
	l.lastResult = &res
	l.phase = PhaseResult

	l.logger.Info("detection complete",
		zap.String("food_item", res.FoodItem),
		zap.String("prediction", res.Prediction),
		zap.String("confidence", res.Confidence))
	l.notices.Success(res.Summary())
	l.emitLocked(false)
}

func (l *Lifecycle) decodePreview(seq uint64, img *models.SelectedImage) {
	defer l.wg.Done()

	dataURL := "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	l.mu.Lock()
	defer l.mu.Unlock()
	if seq != l.selSeq {
		return
	}
	l.preview = dataURL
	l.emitLocked(false)
}

func (l *Lifecycle) stateLocked() State {
	s := State{
		Phase:         l.phase,
		Preview:       l.preview,
		Generation:    l.generation,
		UploadEnabled: l.selection != nil,
		DetectEnabled: l.selection != nil && l.phase != PhaseLoading,
	}
	if l.selection != nil {
		sel := *l.selection
		s.Selection = &sel
	}
	if l.lastResult != nil {
		res := *l.lastResult
		s.Result = &res
	}
	return s
}

func (l *Lifecycle) emitLocked(clearInput bool) {
	if l.listener == nil {
		return
	}
	s := l.stateLocked()
	s.ClearInput = clearInput
	l.listener(s)
}
