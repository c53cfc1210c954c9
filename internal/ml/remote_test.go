package ml

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/franckalain/freshness/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T, handler http.Handler) (*RemoteModel, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	model, err := NewRemoteModel(RemoteConfig{Endpoint: srv.URL + "/predict/"}, srv.Client(), nil)
	require.NoError(t, err)
	return model, srv
}

func testImage() *models.SelectedImage {
	data := []byte("\x89PNG fake image bytes")
	return &models.SelectedImage{Name: "apple.png", MediaType: "image/png", Size: int64(len(data)), Data: data}
}

func TestRemoteModel_ProcessImage(t *testing.T) {
	model, _ := newTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict/", r.URL.Path)

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Len(t, r.MultipartForm.File, 1)
		assert.Empty(t, r.MultipartForm.Value)

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "apple.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		data, _ := io.ReadAll(file)
		assert.Equal(t, testImage().Data, data)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"filename":          "apple.png",
			"prediction":        "Fresh",
			"food_item":         "apples",
			"full_class":        "freshapples",
			"confidence":        "97.50%",
			"raw_confidence":    97.5,
			"class_index":       0,
			"all_probabilities": []float64{0.975, 0.025},
		})
	}))

	result, err := model.ProcessImage(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "apples", result.FoodItem)
	assert.Equal(t, models.VerdictFresh, result.Verdict)
	assert.Equal(t, "97.50%", result.Confidence)
	assert.Equal(t, "freshapples", result.FullClass)
	assert.Equal(t, 97.5, result.RawConfidence)
	assert.Equal(t, []float64{0.975, 0.025}, result.AllProbabilities)
}

func TestRemoteModel_ProcessImage_RottenAndNumericConfidence(t *testing.T) {
	model, _ := newTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prediction":"Rotten","food_item":"banana","confidence":88.123}`))
	}))

	result, err := model.ProcessImage(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, models.VerdictRotten, result.Verdict)
	assert.Equal(t, "88.12%", result.Confidence)
}

func TestRemoteModel_ProcessImage_StatusError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantDetail string
		wantMsg    string
	}{
		{"fastapi detail", `{"detail":"Error processing image: cannot identify image file"}`,
			"Error processing image: cannot identify image file", "Error processing image: cannot identify image file"},
		{"plain text", "Internal Server Error\n", "", "Internal Server Error"},
		{"empty", "", "", "no message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, _ := newTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(tt.body))
			}))

			_, err := model.ProcessImage(context.Background(), testImage())
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, 500, statusErr.StatusCode)
			assert.Equal(t, tt.wantDetail, statusErr.Detail)
			assert.Equal(t, tt.wantMsg, statusErr.Message())
			assert.Contains(t, err.Error(), "500")
		})
	}
}

func TestRemoteModel_ProcessImage_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/predict/"
	srv.Close()

	model, err := NewRemoteModel(RemoteConfig{Endpoint: endpoint}, http.DefaultClient, nil)
	require.NoError(t, err)

	_, err = model.ProcessImage(context.Background(), testImage())
	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.NotNil(t, errors.Unwrap(err))
}

func TestRemoteModel_ProcessImage_BadPayload(t *testing.T) {
	tests := map[string]string{
		"not json":         "<html>",
		"missing food":     `{"prediction":"Fresh","confidence":"1%"}`,
		"bad confidence":   `{"prediction":"Fresh","food_item":"apple","confidence":true}`,
		"missing response": `{}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			model, _ := newTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			_, err := model.ProcessImage(context.Background(), testImage())
			assert.Error(t, err)
		})
	}
}

func TestRemoteModel_NotLoaded(t *testing.T) {
	m := &RemoteModel{}
	_, err := m.ProcessImage(context.Background(), testImage())
	assert.Error(t, err)
	_, err = m.Health(context.Background())
	assert.Error(t, err)
}

func TestRemoteModel_Health(t *testing.T) {
	model, _ := newTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte(`{"status":"healthy","model_loaded":true,"num_classes":2,"classes":["freshapples","rottenapples"]}`))
	}))

	health, err := model.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.ModelLoaded)
	assert.Equal(t, []string{"freshapples", "rottenapples"}, health.Classes)
}

func TestNewModel(t *testing.T) {
	m, err := NewModel("remote", RemoteConfig{Endpoint: "http://localhost:8000/predict/"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	_, err = NewModel("google", RemoteConfig{}, nil)
	assert.Error(t, err)

	_, err = NewModel("remote", RemoteConfig{Endpoint: "ftp://nope"}, nil)
	assert.Error(t, err)
}

func TestRemoteConfig_HealthURL(t *testing.T) {
	cfg := RemoteConfig{Endpoint: "http://127.0.0.1:8000/predict/"}
	require.NoError(t, cfg.Load())
	got, err := cfg.HealthURL()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000/health", got)
}
