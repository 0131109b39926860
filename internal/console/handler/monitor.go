package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/replmon/internal/console/service"
	"github.com/xela07ax/replmon/internal/domain"
	"github.com/xela07ax/replmon/internal/engine"
	"github.com/xela07ax/replmon/internal/infra/auth"
	"go.uber.org/zap"
)

type MonitorHandler struct {
	service *service.MonitorService
	logger  *zap.Logger
}

func NewMonitorHandler(s *service.MonitorService, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{service: s, logger: logger.Named("monitor-handler")}
}

// GetSnapshot — последний снапшот здоровья топологии.
// 204 до первого завершенного цикла: данных еще нет, и это не ошибка.
func (h *MonitorHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.service.Snapshot()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, snapshot)
}

// GetAlerts — текущий леджер, не дожидаясь следующего цикла.
func (h *MonitorHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.Alerts())
}

// ClearAlert снимает алерт по id. Отсутствующий id — все равно 204:
// снятие идемпотентно с точки зрения оператора.
func (h *MonitorHandler) ClearAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")
	if alertID == "" {
		http.Error(w, "alert id is required", http.StatusBadRequest)
		return
	}

	actor, _ := r.Context().Value(auth.CtxUserID).(string)
	h.service.ClearAlert(alertID, actor)
	w.WriteHeader(http.StatusNoContent)
}

func (h *MonitorHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.service.Config())
}

// UpdateConfig — частичное обновление. Невалидный патч откатывается целиком:
// действует прежняя конфигурация, рестарта не было.
func (h *MonitorHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch domain.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateConfig(patch); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, h.service.Config())
}

func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.service.Start()
	w.WriteHeader(http.StatusNoContent)
}

func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.service.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// Refresh — внеплановый цикл. 409, если монитор остановлен.
func (h *MonitorHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Refresh(); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetHistory — тренд задержки для пары (публикация, подписчик, база).
func (h *MonitorHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	points := h.service.History(
		chi.URLParam(r, "publication"),
		chi.URLParam(r, "subscriber"),
		chi.URLParam(r, "db"),
	)
	writeJSON(w, points)
}

func (h *MonitorHandler) GetConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.service.Connections(r.Context())
	if err != nil {
		h.logger.Error("list connections failed", zap.Error(err))
		http.Error(w, "failed to list connections", http.StatusInternalServerError)
		return
	}
	writeJSON(w, conns)
}

// InsertTracer — ручная посадка tracer-токена.
func (h *MonitorHandler) InsertTracer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID string `json:"connection_id"`
		Publication  string `json:"publication"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" || req.Publication == "" {
		http.Error(w, "connection_id and publication are required", http.StatusBadRequest)
		return
	}

	if err := h.service.InsertTracerToken(r.Context(), req.ConnectionID, req.Publication); err != nil {
		h.logger.Error("tracer insertion failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
