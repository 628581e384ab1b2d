package httpapi

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/richiesta-assistenza/service_layer/internal/app/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
)

func (h *Handler) healthRoutes(r *mux.Router) {
	r.HandleFunc("/modules", h.healthModules).Methods(http.MethodGet)
	r.HandleFunc("/summary", h.healthSummary).Methods(http.MethodGet)
	r.HandleFunc("/run", h.runHealthChecks).Methods(http.MethodPost)
	r.HandleFunc("/run/{module}", h.runHealthChecks).Methods(http.MethodPost)
	r.HandleFunc("/history/{module}", h.healthHistory).Methods(http.MethodGet)

	r.HandleFunc("/scheduler/config", h.schedulerConfig).Methods(http.MethodGet)
	r.HandleFunc("/scheduler/config", h.updateSchedulerConfig).Methods(http.MethodPut)
	r.HandleFunc("/scheduler/start", h.startScheduler).Methods(http.MethodPost)
	r.HandleFunc("/scheduler/stop", h.stopScheduler).Methods(http.MethodPost)

	r.HandleFunc("/remediation/rules", h.remediationRules).Methods(http.MethodGet)
	r.HandleFunc("/remediation/rules", h.createRemediationRule).Methods(http.MethodPost)
	r.HandleFunc("/remediation/rules/{id}", h.remediationRule).Methods(http.MethodGet)
	r.HandleFunc("/remediation/rules/{id}", h.updateRemediationRule).Methods(http.MethodPut)
	r.HandleFunc("/remediation/rules/{id}", h.deleteRemediationRule).Methods(http.MethodDelete)
	r.HandleFunc("/remediation/rules/{id}/toggle", h.toggleRemediationRule).Methods(http.MethodPost)
	r.HandleFunc("/remediation/history", h.remediationHistory).Methods(http.MethodGet)

	r.HandleFunc("/performance/current", h.performanceCurrent).Methods(http.MethodGet)
	r.HandleFunc("/performance/history", h.performanceHistory).Methods(http.MethodGet)
	r.HandleFunc("/performance/stats", h.performanceStats).Methods(http.MethodGet)

	r.HandleFunc("/reports", h.listReports).Methods(http.MethodGet)
	r.HandleFunc("/reports", h.generateReport).Methods(http.MethodPost)
	r.HandleFunc("/reports/{id}/download", h.downloadReport).Methods(http.MethodGet)
}

func (h *Handler) healthModules(w http.ResponseWriter, r *http.Request) {
	cfg := h.app.Scheduler.Config()
	type module struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule,omitempty"`
	}
	names := h.app.Health.Modules()
	out := make([]module, 0, len(names))
	for _, name := range names {
		out = append(out, module{Name: name, Schedule: cfg.Modules[name]})
	}
	ok(w, "", out)
}

func (h *Handler) healthSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.app.Health.Summary(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", sum)
}

// runHealthChecks runs one module, or all when no module is named. Alerts
// and remediation follow as for scheduled runs.
func (h *Handler) runHealthChecks(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Scheduler.RunManualCheck(r.Context(), pathVar(r, "module"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Controllo completato", results)
}

func (h *Handler) healthHistory(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Health.History(r.Context(), pathVar(r, "module"), httputil.QueryInt(r, "limit", 50))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", results)
}

func (h *Handler) schedulerConfig(w http.ResponseWriter, r *http.Request) {
	ok(w, "", map[string]interface{}{
		"running": h.app.Scheduler.Running(),
		"config":  h.app.Scheduler.Config(),
	})
}

func (h *Handler) updateSchedulerConfig(w http.ResponseWriter, r *http.Request) {
	var in healthcheck.ScheduleConfig
	if !decode(w, r, &in) {
		return
	}
	cfg, err := h.app.Scheduler.UpdateConfig(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Configurazione aggiornata", cfg)
}

func (h *Handler) startScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Scheduler.Start(r.Context()); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Scheduler avviato", map[string]bool{"running": h.app.Scheduler.Running()})
}

func (h *Handler) stopScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Scheduler.Stop(r.Context()); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Scheduler fermato", map[string]bool{"running": h.app.Scheduler.Running()})
}

func (h *Handler) remediationRules(w http.ResponseWriter, r *http.Request) {
	rules := h.app.Remediation.Rules()
	if rules == nil {
		rules = []healthcheck.Rule{}
	}
	ok(w, "", rules)
}

func (h *Handler) remediationRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.app.Remediation.Rule(pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", rule)
}

func (h *Handler) createRemediationRule(w http.ResponseWriter, r *http.Request) {
	var in healthcheck.Rule
	if !decode(w, r, &in) {
		return
	}
	rule, err := h.app.Remediation.CreateRule(in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Regola creata", rule)
}

func (h *Handler) updateRemediationRule(w http.ResponseWriter, r *http.Request) {
	var in healthcheck.Rule
	if !decode(w, r, &in) {
		return
	}
	rule, err := h.app.Remediation.UpdateRule(pathVar(r, "id"), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Regola aggiornata", rule)
}

func (h *Handler) deleteRemediationRule(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Remediation.DeleteRule(pathVar(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "Regola eliminata", nil)
}

func (h *Handler) toggleRemediationRule(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &in) {
		return
	}
	rule, err := h.app.Remediation.SetEnabled(pathVar(r, "id"), in.Enabled)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", rule)
}

func (h *Handler) remediationHistory(w http.ResponseWriter, r *http.Request) {
	days := httputil.QueryInt(r, "days", 7)
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	records, err := h.app.Remediation.History(r.Context(), r.URL.Query().Get("ruleId"), since)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", records)
}

func (h *Handler) performanceCurrent(w http.ResponseWriter, r *http.Request) {
	sample, found := h.app.Monitor.GetCurrent()
	if !found {
		var err error
		sample, err = h.app.Monitor.Collect(r.Context())
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
	}
	ok(w, "", sample)
}

func (h *Handler) performanceHistory(w http.ResponseWriter, r *http.Request) {
	ok(w, "", h.app.Monitor.GetHistory(httputil.QueryInt(r, "limit", 60)))
}

func (h *Handler) performanceStats(w http.ResponseWriter, r *http.Request) {
	minutes := httputil.QueryInt(r, "minutes", 60)
	if minutes <= 0 {
		h.writeErr(w, r, errors.BadRequest("minutes must be positive"))
		return
	}
	ok(w, "", h.app.Monitor.GetAggregateStats(minutes))
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Reports.History(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	ok(w, "", records)
}

func (h *Handler) generateReport(w http.ResponseWriter, r *http.Request) {
	var in struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	from, err := parseTime(in.From)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	to, err := parseTime(in.To)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	record, err := h.app.Reports.Generate(r.Context(), from, to)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	created(w, "Report generato", record)
}

func (h *Handler) downloadReport(w http.ResponseWriter, r *http.Request) {
	record, raw, err := h.app.Reports.Open(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(record.Path)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
