package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/bridge"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/config"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/logging"
)

type handlers struct {
	bridge *bridge.Bridge
	log    logging.Logger
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.bridge.Status())
}

func (h *handlers) getMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (h *handlers) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.bridge.Diagnostics())
}

func (h *handlers) listSources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.bridge.Sources())
}

func (h *handlers) createSource(w http.ResponseWriter, r *http.Request) {
	var sc config.SourceConfig
	if !decodeJSON(w, r, &sc) {
		return
	}
	if err := h.bridge.AddSource(sc); err != nil {
		respondError(w, http.StatusBadRequest, "source_invalid", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, sc)
}

func (h *handlers) updateSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var sc config.SourceConfig
	if !decodeJSON(w, r, &sc) {
		return
	}
	sc.Name = name
	if err := h.bridge.UpdateSource(sc); err != nil {
		respondError(w, http.StatusBadRequest, "source_invalid", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

func (h *handlers) deleteSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.bridge.DeleteSource(name); err != nil {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) startSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.bridge.StartSource(name); err != nil {
		respondError(w, http.StatusBadRequest, "start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *handlers) stopSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.bridge.StopSource(name); err != nil {
		respondError(w, http.StatusBadRequest, "stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handlers) startBridge(w http.ResponseWriter, r *http.Request) {
	if err := h.bridge.Start(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *handlers) stopBridge(w http.ResponseWriter, r *http.Request) {
	h.bridge.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *handlers) getZerobusConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.bridge.ZerobusConfig()
	cfg.ClientSecret = "" // never echo the secret back
	respondJSON(w, http.StatusOK, cfg)
}

func (h *handlers) setZerobusConfig(w http.ResponseWriter, r *http.Request) {
	var zc config.ZerobusConfig
	if !decodeJSON(w, r, &zc) {
		return
	}
	if err := h.bridge.SetZerobusConfig(zc); err != nil {
		respondError(w, http.StatusBadRequest, "config_invalid", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handlers) getZerobusDiagnostics(w http.ResponseWriter, r *http.Request) {
	deep, _ := strconv.ParseBool(r.URL.Query().Get("deep"))
	respondJSON(w, http.StatusOK, h.bridge.ZerobusDiagnostics(r.Context(), deep))
}

func (h *handlers) discoveryScan(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.bridge.Scan())
}

func (h *handlers) discoveryServers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.bridge.Servers())
}

func (h *handlers) discoveryTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source string `json:"source"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.bridge.TestConnection(r.Context(), body.Source); err != nil {
		respondError(w, http.StatusBadGateway, "connection_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errCode, message string) {
	respondJSON(w, status, map[string]string{"error": errCode, "message": message})
}
