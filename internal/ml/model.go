package ml

import (
	"context"
	"fmt"

	"github.com/franckalain/freshness/internal/models"
	"go.uber.org/zap"
)

// Model represents a freshness classifier that can judge an image
type Model interface {
	// Load prepares the model for use
	Load(ctx context.Context) error
	// ProcessImage submits an image and returns the classifier's verdict
	ProcessImage(ctx context.Context, img *models.SelectedImage) (*models.DetectionResult, error)
	// Health reports whether the classifier is up and has a model loaded
	Health(ctx context.Context) (*models.ClassifierHealth, error)
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// NewModel creates a new model instance based on the model type
func NewModel(modelType string, config RemoteConfig, logger *zap.Logger) (Model, error) {
	var factory ModelFactory

	switch modelType {
	case "remote", "http":
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load remote config: %w", err)
		}
		factory = NewRemoteModelFactory(config, logger)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", modelType)
	}
	return factory.CreateModel()
}
