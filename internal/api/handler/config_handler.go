package handler

import (
	"loan-engine/internal/api/handler/dto"
	"loan-engine/internal/domain/sysconfig"
	"log/slog"
	"net/http"
)

// ConfigProvider is satisfied by *sysconfig.Service.
type ConfigProvider interface {
	Current() sysconfig.SystemConfig
}

type ConfigHandler struct {
	provider ConfigProvider
	logger   *slog.Logger
}

func NewConfigHandler(p ConfigProvider, l *slog.Logger) *ConfigHandler {
	return &ConfigHandler{
		provider: p,
		logger:   l.With("component", "ConfigHandler"),
	}
}

// GetSystemConfig returns the lending parameters currently in effect.
//
// @Summary Retrieve system configuration
// @Description Returns the default interest rate and the rates lenders may offer.
// @Tags Config
// @Produce json
// @Success 200 {object} dto.SystemConfigResponse "Current configuration"
// @Router /config/system [get]
func (h *ConfigHandler) GetSystemConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, dto.NewSystemConfigResponse(h.provider.Current()))
}
