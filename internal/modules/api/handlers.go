package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"conservative_bot/internal/models"
	"conservative_bot/internal/modules/api/service"
	backtestservice "conservative_bot/internal/modules/backtest/service"
	emergencyservice "conservative_bot/internal/modules/emergency/service"
	"conservative_bot/pkg/logger"
)

const maxBodyBytes = 1 << 20

type Emergency interface {
	Status() models.EmergencyStatus
	Activate(ctx context.Context, reason string) emergencyservice.ActivationReport
	Reset(manualOverride bool) error
}

type Backtester interface {
	Run(ctx context.Context, req backtestservice.Request) (*backtestservice.Report, error)
}

type Portfolio interface {
	Snapshot() models.PortfolioSnapshot
}

type Handlers struct {
	state     *service.State
	emergency Emergency
	backtest  Backtester
	portfolio Portfolio
}

func NewHandlers(state *service.State, e Emergency, b Backtester, p Portfolio) *Handlers {
	return &Handlers{state: state, emergency: e, backtest: b, portfolio: p}
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("api: encode response: %v", err)
		http.Error(w, `{"success":false,"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func fail(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return sonic.Unmarshal(body, v)
}

func (h *Handlers) livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) readyz(w http.ResponseWriter, _ *http.Request) {
	if !h.state.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	st := h.emergency.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":           h.state.Ready(),
		"uptimeSec":       int64(h.state.Uptime().Seconds()),
		"emergencyActive": st.IsActive,
		"canTrade":        st.CanTrade,
	})
}

func (h *Handlers) emergencyStatus(w http.ResponseWriter, _ *http.Request) {
	ok(w, h.emergency.Status())
}

func (h *Handlers) emergencyStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "Manual emergency stop via API"
	}
	ok(w, h.emergency.Activate(r.Context(), req.Reason))
}

func (h *Handlers) emergencyReset(w http.ResponseWriter, r *http.Request) {
	override := false
	if v := r.URL.Query().Get("manual_override"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(w, http.StatusBadRequest, errors.New("manual_override must be a boolean"))
			return
		}
		override = b
	}
	if err := h.emergency.Reset(override); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, emergencyservice.ErrManualOverrideRequired) {
			status = http.StatusConflict
		}
		fail(w, status, err)
		return
	}
	ok(w, h.emergency.Status())
}

func (h *Handlers) portfolioSnapshot(w http.ResponseWriter, _ *http.Request) {
	ok(w, h.portfolio.Snapshot())
}

func (h *Handlers) runBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestservice.Request
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	rep, err := h.backtest.Run(r.Context(), req)
	switch {
	case errors.Is(err, backtestservice.ErrInvalidRequest):
		fail(w, http.StatusBadRequest, err)
		return
	case err != nil:
		logger.Error("api: backtest: %v", err)
		fail(w, http.StatusBadGateway, err)
		return
	}
	rep.Results = rep.Results.Rounded()
	ok(w, rep)
}

func (h *Handlers) backtestPresets(w http.ResponseWriter, _ *http.Request) {
	ok(w, backtestservice.Presets())
}
