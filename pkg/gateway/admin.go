package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"wxreply/pkg/bus"
	"wxreply/pkg/failure"
	"wxreply/pkg/logger"
	"wxreply/pkg/rules"
)

const maxRuleBodyBytes = 64 << 10

func (s *Service) mountAdmin(router *mux.Router) {
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdminToken)

	admin.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	admin.HandleFunc("/rules", s.handleAddRule).Methods(http.MethodPost)
	admin.HandleFunc("/rules", s.handleClearRules).Methods(http.MethodDelete)
	admin.HandleFunc("/rules/reload", s.handleReloadRules).Methods(http.MethodPost)
	admin.HandleFunc("/rules/{name}", s.handleRemoveRule).Methods(http.MethodDelete)

	s.log.Info("Admin rule API enabled")
}

func (s *Service) requireAdminToken(next http.Handler) http.Handler {
	want := []byte(s.cfg.Admin.Token)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			writeError(w, s.log, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleListRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, s.rules.Info())
}

func (s *Service) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var spec rules.Spec
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRuleBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&spec); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "invalid rule body: "+err.Error())
		return
	}

	rule, err := spec.Rule()
	if err != nil {
		writeError(w, s.log, failure.HTTPStatus(err), err.Error())
		return
	}

	s.rules.Add(rule)
	s.rulesChanged(r.Context(), "add", rule.Name)
	writeJSON(w, s.log, http.StatusCreated, rule.Info())
}

func (s *Service) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.rules.Remove(name) {
		writeError(w, s.log, http.StatusNotFound, "no rule named "+name)
		return
	}

	s.rulesChanged(r.Context(), "remove", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClearRules(w http.ResponseWriter, r *http.Request) {
	s.rules.Clear()
	s.rulesChanged(r.Context(), "clear", "")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	s.rules.ReloadDefaults()
	s.rulesChanged(r.Context(), "reload", "")
	writeJSON(w, s.log, http.StatusOK, s.rules.Info())
}

func (s *Service) rulesChanged(ctx context.Context, action string, name string) {
	logger.FromContext(ctx, s.log).Info("Reply rules changed", "action", action, "rule", name, "total", s.rules.Len())

	if s.bus == nil {
		return
	}

	payload := map[string]string{"action": action}
	if name != "" {
		payload["rule"] = name
	}
	s.bus.PublishEvent(ctx, bus.Event{
		Type:      bus.EventRulesChanged,
		Channel:   "admin",
		RequestID: logger.RequestID(ctx),
		Payload:   payload,
	})
}
