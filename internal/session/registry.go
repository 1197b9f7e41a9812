package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/example/face-compare/internal/prediction"
	"github.com/example/face-compare/internal/preview"
)

// Registry hands out one Controller per owner.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Controller
	decoder   preview.Decoder
	predictor prediction.Client
	logger    *zap.Logger
}

// NewRegistry creates an empty registry whose controllers share decoder and predictor.
func NewRegistry(decoder preview.Decoder, predictor prediction.Client, logger *zap.Logger) *Registry {
	return &Registry{
		sessions:  make(map[string]*Controller),
		decoder:   decoder,
		predictor: predictor,
		logger:    logger,
	}
}

// Get returns the owner's controller, creating it on first use.
func (r *Registry) Get(ownerID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[ownerID]; ok {
		return c
	}
	c := NewController(r.decoder, r.predictor, r.logger.With(zap.String("owner_id", ownerID)))
	r.sessions[ownerID] = c
	return c
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
