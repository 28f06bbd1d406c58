package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/auth"
	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/models"
)

// ConfigResponse contains public configuration for the frontend.
type ConfigResponse struct {
	BaseURL       string        `json:"base_url"`
	Version       string        `json:"version"`
	Environment   string        `json:"environment"`
	CookieName    string        `json:"cookie_name"`
	MaxFileBytes  int64         `json:"max_file_bytes"`
	MaxAudioBytes int64         `json:"max_audio_bytes"`
	OrderTypes    []string      `json:"order_types"`
	OrderStatuses []string      `json:"order_statuses"`
	Priorities    []string      `json:"priorities"`
	Roles         []models.Role `json:"roles"`
}

// ConfigHandler handles configuration requests.
type ConfigHandler struct {
	config *config.Config
	logger *zap.Logger
}

// NewConfigHandler creates a new config handler.
func NewConfigHandler(cfg *config.Config, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		logger: logger,
	}
}

// RegisterRoutes registers the config handler's routes on the given mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", h.Get)
}

// Get returns public configuration for the frontend.
// GET /api/config
// This endpoint is public: it only exposes limits and vocabularies the
// client needs to build forms.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	response := ConfigResponse{
		BaseURL:       h.config.BaseURL,
		Version:       h.config.Version,
		Environment:   h.config.Env,
		CookieName:    auth.CookieName,
		MaxFileBytes:  h.config.Uploads.MaxFileBytes,
		MaxAudioBytes: h.config.Uploads.MaxAudioBytes,
		OrderTypes:    models.ValidOrderTypes,
		OrderStatuses: models.ValidOrderStatuses,
		Priorities:    models.ValidPriorities,
		Roles:         models.ValidRoles,
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode config response", zap.Error(err))
	}
}
