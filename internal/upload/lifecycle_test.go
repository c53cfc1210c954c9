package upload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/franckalain/freshness/internal/ml"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/notice"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClassifier answers with respond, or with a fresh apple by default
type fakeClassifier struct {
	calls   atomic.Int32
	respond func(ctx context.Context, img *models.SelectedImage) (*models.DetectionResult, error)
}

func (f *fakeClassifier) ProcessImage(ctx context.Context, img *models.SelectedImage) (*models.DetectionResult, error) {
	f.calls.Add(1)
	if f.respond != nil {
		return f.respond(ctx, img)
	}
	return &models.DetectionResult{FoodItem: "apples", Prediction: "Fresh", Confidence: "97.50%"}, nil
}

// gatedClassifier blocks every request until release is closed
func gatedClassifier(release <-chan struct{}, result *models.DetectionResult) *fakeClassifier {
	return &fakeClassifier{respond: func(ctx context.Context, img *models.SelectedImage) (*models.DetectionResult, error) {
		select {
		case <-release:
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) listen(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Phase
	for _, s := range r.states {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func (r *stateRecorder) last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func newLifecycle(t *testing.T, c Classifier, opts ...Option) *Lifecycle {
	t.Helper()
	lc := New(c, notice.NewBoard(time.Minute, nil), opts...)
	t.Cleanup(lc.Close)
	return lc
}

func image(name string) models.SelectedImage {
	data := []byte("fake-jpeg-" + name)
	return models.SelectedImage{Name: name, MediaType: "image/jpeg", Size: int64(len(data)), Data: data}
}

func currentNotice(lc *Lifecycle, kind models.NoticeKind) string {
	n, ok := lc.Notices().Current(kind)
	if !ok {
		return ""
	}
	return n.Text
}

func TestSelectFile_RejectsNonImageTypes(t *testing.T) {
	for _, mediaType := range []string{"", "text/plain", "application/pdf", "video/mp4", "imagex/png"} {
		t.Run(mediaType, func(t *testing.T) {
			lc := newLifecycle(t, &fakeClassifier{})
			before := lc.State()

			candidate := image("notes.txt")
			candidate.MediaType = mediaType
			err := lc.SelectFile(candidate)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, ConstraintMediaType, verr.Constraint)
			assert.Equal(t, "Please select a valid image file.", currentNotice(lc, models.NoticeError))
			assert.Equal(t, before, lc.State())
		})
	}
}

func TestSelectFile_KeepsPreviousSelectionOnRejection(t *testing.T) {
	lc := newLifecycle(t, &fakeClassifier{})
	require.NoError(t, lc.SelectFile(image("apple.jpg")))

	bad := image("doc.pdf")
	bad.MediaType = "application/pdf"
	require.Error(t, lc.SelectFile(bad))

	assert.Equal(t, "apple.jpg", lc.State().Selection.Name)
}

func TestSelectFile_AcceptsImagesUpToLimit(t *testing.T) {
	for _, size := range []int64{1, 1024, DefaultMaxBytes} {
		lc := newLifecycle(t, &fakeClassifier{})
		candidate := models.SelectedImage{Name: "big.png", MediaType: "image/png", Size: size, Data: []byte{1}}

		require.NoError(t, lc.SelectFile(candidate))
		st := lc.State()
		assert.True(t, st.UploadEnabled)
		assert.Equal(t, size, st.Selection.Size)
		assert.Equal(t, PhaseIdle, st.Phase)
		assert.Equal(t, `File "big.png" selected successfully!`, currentNotice(lc, models.NoticeSuccess))
		require.NoError(t, lc.ConfirmUpload())
	}
}

func TestSelectFile_RejectsOversizeRegardlessOfType(t *testing.T) {
	for _, mediaType := range []string{"image/jpeg", "text/plain", ""} {
		lc := newLifecycle(t, &fakeClassifier{})
		candidate := models.SelectedImage{Name: "huge", MediaType: mediaType, Size: DefaultMaxBytes + 1}

		err := lc.SelectFile(candidate)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, ConstraintSize, verr.Constraint)
		assert.Equal(t, "File size should be less than 10 MiB.", currentNotice(lc, models.NoticeError))
		assert.Nil(t, lc.State().Selection)
	}
}

func TestSelectFile_PayloadLargerThanDeclaredSize(t *testing.T) {
	lc := newLifecycle(t, &fakeClassifier{}, WithMaxBytes(4))
	candidate := models.SelectedImage{Name: "liar.png", MediaType: "image/png", Size: 1, Data: []byte("12345")}
	assert.Error(t, lc.SelectFile(candidate))
}

func TestSelectFile_DecodesPreview(t *testing.T) {
	rec := &stateRecorder{}
	lc := newLifecycle(t, &fakeClassifier{}, WithListener(rec.listen))

	img := models.SelectedImage{Name: "a.png", MediaType: "image/png", Data: []byte("hi")}
	require.NoError(t, lc.SelectFile(img))
	lc.Wait()

	st := lc.State()
	assert.Equal(t, "data:image/png;base64,aGk=", st.Preview)
	assert.Equal(t, PhaseIdle, st.Phase, "decoding must not change the phase")
	assert.Equal(t, st.Preview, rec.last().Preview)
}

func TestSelectFile_NewSelectionReplacesPreview(t *testing.T) {
	lc := newLifecycle(t, &fakeClassifier{})
	require.NoError(t, lc.SelectFile(models.SelectedImage{Name: "a.png", MediaType: "image/png", Data: []byte("a")}))
	require.NoError(t, lc.SelectFile(models.SelectedImage{Name: "b.png", MediaType: "image/png", Data: []byte("b")}))
	lc.Wait()

	assert.Equal(t, "data:image/png;base64,Yg==", lc.State().Preview)
}

func TestConfirmUpload(t *testing.T) {
	lc := newLifecycle(t, &fakeClassifier{})

	assert.ErrorIs(t, lc.ConfirmUpload(), ErrMissingSelection)
	assert.Equal(t, "Please select a file first.", currentNotice(lc, models.NoticeError))
	assert.Equal(t, PhaseIdle, lc.State().Phase)

	require.NoError(t, lc.SelectFile(image("apple.jpg")))
	require.NoError(t, lc.ConfirmUpload())
	assert.Equal(t, PhasePreview, lc.State().Phase)
	assert.Contains(t, currentNotice(lc, models.NoticeSuccess), "Detect Freshness")
}

func TestStartDetection_MissingSelection(t *testing.T) {
	fc := &fakeClassifier{}
	lc := newLifecycle(t, fc)

	assert.ErrorIs(t, lc.StartDetection(), ErrMissingSelection)
	assert.Equal(t, "No image selected for detection.", currentNotice(lc, models.NoticeError))
	assert.Equal(t, PhaseIdle, lc.State().Phase)
	assert.Zero(t, fc.calls.Load())
}

func TestStartDetection_Fresh(t *testing.T) {
	rec := &stateRecorder{}
	lc := newLifecycle(t, &fakeClassifier{}, WithListener(rec.listen))

	require.NoError(t, lc.SelectFile(image("apple.jpg")))
	require.NoError(t, lc.ConfirmUpload())
	require.NoError(t, lc.StartDetection())
	lc.Wait()

	st := lc.State()
	assert.Equal(t, PhaseResult, st.Phase)
	require.NotNil(t, st.Result)
	assert.Equal(t, "Apples", st.Result.FoodItem)
	assert.Equal(t, models.VerdictFresh, st.Result.Verdict)
	assert.Equal(t, "✅ Analysis complete! Apples is fresh with 97.50% confidence.", currentNotice(lc, models.NoticeSuccess))
	assert.Equal(t, []Phase{PhaseIdle, PhasePreview, PhaseLoading, PhaseResult}, rec.phases())
	assert.Equal(t, st.Preview, "data:image/jpeg;base64,ZmFrZS1qcGVnLWFwcGxlLmpwZw==", "result view shows the selected image")
}

func TestStartDetection_NonFreshPrediction(t *testing.T) {
	for _, prediction := range []string{"Rotten", "rotten", "Unknown", ""} {
		fc := &fakeClassifier{respond: func(context.Context, *models.SelectedImage) (*models.DetectionResult, error) {
			return &models.DetectionResult{FoodItem: "okra", Prediction: prediction, Confidence: "55.00%"}, nil
		}}
		lc := newLifecycle(t, fc)
		require.NoError(t, lc.SelectFile(image("okra.jpg")))
		require.NoError(t, lc.StartDetection())
		lc.Wait()

		st := lc.State()
		assert.Equal(t, PhaseResult, st.Phase)
		assert.Equal(t, models.VerdictRotten, st.Result.Verdict, "prediction %q", prediction)
		assert.True(t, strings.HasPrefix(currentNotice(lc, models.NoticeSuccess), "⚠️"))
	}
}

func TestStartDetection_ServerErrorAllowsRetry(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"detail":"Model not loaded. Please check the backend setup."}`))
			return
		}
		w.Write([]byte(`{"prediction":"Fresh","food_item":"banana","confidence":"90.00%"}`))
	}))
	defer srv.Close()

	model, err := ml.NewRemoteModel(ml.RemoteConfig{Endpoint: srv.URL + "/predict/"}, srv.Client(), nil)
	require.NoError(t, err)
	lc := newLifecycle(t, model)

	require.NoError(t, lc.SelectFile(image("banana.jpg")))
	require.NoError(t, lc.ConfirmUpload())
	require.NoError(t, lc.StartDetection())
	lc.Wait()

	st := lc.State()
	assert.NotEqual(t, PhaseResult, st.Phase)
	assert.NotEqual(t, PhaseLoading, st.Phase)
	assert.Nil(t, st.Result)
	assert.True(t, st.DetectEnabled)
	msg := currentNotice(lc, models.NoticeError)
	assert.Contains(t, msg, "500")
	assert.Contains(t, msg, "Model not loaded. Please check the backend setup.")

	// Retry without Reset
	fail.Store(false)
	require.NoError(t, lc.StartDetection())
	lc.Wait()
	st = lc.State()
	assert.Equal(t, PhaseResult, st.Phase)
	assert.Equal(t, "Banana", st.Result.FoodItem)
}

func TestStartDetection_TransportError(t *testing.T) {
	fc := &fakeClassifier{respond: func(context.Context, *models.SelectedImage) (*models.DetectionResult, error) {
		return nil, &ml.TransportError{Err: errors.New("connection refused")}
	}}
	lc := newLifecycle(t, fc)
	require.NoError(t, lc.SelectFile(image("apple.jpg")))
	require.NoError(t, lc.StartDetection())
	lc.Wait()

	assert.Equal(t, PhaseIdle, lc.State().Phase)
	assert.Contains(t, currentNotice(lc, models.NoticeError), "connection refused")
}

func TestStartDetection_ReentrantCallIsNoop(t *testing.T) {
	release := make(chan struct{})
	fc := gatedClassifier(release, &models.DetectionResult{FoodItem: "tomato", Prediction: "Fresh", Confidence: "80%"})
	lc := newLifecycle(t, fc)

	require.NoError(t, lc.SelectFile(image("tomato.jpg")))
	require.NoError(t, lc.StartDetection())
	gen := lc.State().Generation

	assert.ErrorIs(t, lc.StartDetection(), ErrDetectionInFlight)
	assert.ErrorIs(t, lc.ConfirmUpload(), ErrDetectionInFlight)
	st := lc.State()
	assert.Equal(t, PhaseLoading, st.Phase)
	assert.Equal(t, gen, st.Generation)
	assert.False(t, st.DetectEnabled)

	close(release)
	lc.Wait()
	assert.Equal(t, int32(1), fc.calls.Load())
	assert.Equal(t, PhaseResult, lc.State().Phase)
}

func TestStartDetection_StaleResponseAfterReset(t *testing.T) {
	release := make(chan struct{})
	lc := newLifecycle(t, gatedClassifier(release, &models.DetectionResult{FoodItem: "apple", Prediction: "Fresh", Confidence: "99%"}))

	require.NoError(t, lc.SelectFile(image("apple.jpg")))
	require.NoError(t, lc.StartDetection())
	lc.Reset()

	close(release)
	lc.Wait()

	st := lc.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Result)
	assert.Nil(t, st.Selection)
	assert.Empty(t, lc.Notices().Active())
}

func TestSelectFile_DuringLoadingDiscardsPendingResult(t *testing.T) {
	release := make(chan struct{})
	lc := newLifecycle(t, gatedClassifier(release, &models.DetectionResult{FoodItem: "apple", Prediction: "Fresh", Confidence: "99%"}))

	require.NoError(t, lc.SelectFile(image("apple.jpg")))
	require.NoError(t, lc.StartDetection())
	require.NoError(t, lc.SelectFile(image("banana.jpg")))
	assert.Equal(t, PhaseIdle, lc.State().Phase)

	close(release)
	lc.Wait()
	st := lc.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Result)
	assert.Equal(t, "banana.jpg", st.Selection.Name)
}

func TestSelectFile_AfterResultDropsResult(t *testing.T) {
	lc := newLifecycle(t, &fakeClassifier{})
	require.NoError(t, lc.SelectFile(image("apple.jpg")))
	require.NoError(t, lc.StartDetection())
	lc.Wait()
	require.Equal(t, PhaseResult, lc.State().Phase)

	require.NoError(t, lc.SelectFile(image("pear.jpg")))
	st := lc.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Nil(t, st.Result)
}

func TestReset_TotalAndIdempotent(t *testing.T) {
	setups := map[string]func(t *testing.T, lc *Lifecycle){
		"idle empty": func(t *testing.T, lc *Lifecycle) {},
		"idle selected": func(t *testing.T, lc *Lifecycle) {
			require.NoError(t, lc.SelectFile(image("a.jpg")))
		},
		"preview": func(t *testing.T, lc *Lifecycle) {
			require.NoError(t, lc.SelectFile(image("a.jpg")))
			require.NoError(t, lc.ConfirmUpload())
		},
		"result": func(t *testing.T, lc *Lifecycle) {
			require.NoError(t, lc.SelectFile(image("a.jpg")))
			require.NoError(t, lc.StartDetection())
			lc.Wait()
		},
		"after error": func(t *testing.T, lc *Lifecycle) {
			_ = lc.StartDetection()
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			rec := &stateRecorder{}
			lc := newLifecycle(t, &fakeClassifier{}, WithListener(rec.listen))
			setup(t, lc)

			for i := 0; i < 2; i++ {
				lc.Reset()
				lc.Wait()

				got := lc.State()
				got.Generation = 0
				if diff := cmp.Diff(State{Phase: PhaseIdle}, got); diff != "" {
					t.Errorf("state after reset %d (-want +got):\n%s", i, diff)
				}
				assert.Empty(t, lc.Notices().Active())
				assert.True(t, rec.last().ClearInput)
			}
		})
	}
}

func TestClose_CancelsPendingRequest(t *testing.T) {
	lc := New(gatedClassifier(make(chan struct{}), nil), nil)
	require.NoError(t, lc.SelectFile(image("apple.jpg")))
	require.NoError(t, lc.StartDetection())

	done := make(chan struct{})
	go func() {
		lc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
