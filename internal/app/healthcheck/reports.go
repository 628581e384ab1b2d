package healthcheck

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-pdf/fpdf"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Trends.
const (
	TrendImproving = "improving"
	TrendDegrading = "degrading"
	TrendStable    = "stable"
)

const maxIncidents = 10

// ModuleStat summarises one module over a report period.
type ModuleStat struct {
	Module      string  `json:"module"`
	DisplayName string  `json:"displayName"`
	AvgScore    float64 `json:"avgScore"`
	MinScore    int     `json:"minScore"`
	MaxScore    int     `json:"maxScore"`
	TotalChecks int     `json:"totalChecks"`
	Failures    int     `json:"failures"`
	Warnings    int     `json:"warnings"`
	Uptime      int     `json:"uptime"`
	Trend       string  `json:"trend"`
}

// Report is the content of a health report.
type Report struct {
	PeriodStart     time.Time      `json:"periodStart"`
	PeriodEnd       time.Time      `json:"periodEnd"`
	OverallHealth   int            `json:"overallHealth"`
	Modules         []ModuleStat   `json:"modules"`
	Incidents       []model.Result `json:"incidents"`
	Recommendations []string       `json:"recommendations"`
	GeneratedAt     time.Time      `json:"generatedAt"`
}

// BuildReport computes module statistics for current, with trends against
// previous, an equal-length earlier period.
func BuildReport(current, previous []model.Result, from, to time.Time) Report {
	rep := Report{PeriodStart: from, PeriodEnd: to, Modules: []ModuleStat{}, Incidents: []model.Result{}}

	prevAvg := map[string]float64{}
	for module, rs := range groupByModule(previous) {
		prevAvg[module] = average(rs)
	}

	total := 0
	for module, rs := range groupByModule(current) {
		st := ModuleStat{
			Module:      module,
			DisplayName: rs[0].DisplayName,
			AvgScore:    math.Round(average(rs)*10) / 10,
			MinScore:    rs[0].Score,
			MaxScore:    rs[0].Score,
			TotalChecks: len(rs),
			Trend:       TrendStable,
		}
		healthy := 0
		for _, r := range rs {
			total += r.Score
			if r.Score < st.MinScore {
				st.MinScore = r.Score
			}
			if r.Score > st.MaxScore {
				st.MaxScore = r.Score
			}
			switch r.Status {
			case model.StatusHealthy:
				healthy++
			case model.StatusWarning:
				st.Warnings++
			case model.StatusCritical:
				st.Failures++
			}
		}
		st.Uptime = int(math.Round(float64(healthy) / float64(len(rs)) * 100))
		if prev, ok := prevAvg[module]; ok {
			switch diff := average(rs) - prev; {
			case diff > 5:
				st.Trend = TrendImproving
			case diff < -5:
				st.Trend = TrendDegrading
			}
		}
		rep.Modules = append(rep.Modules, st)
	}
	sort.Slice(rep.Modules, func(i, j int) bool {
		if rep.Modules[i].AvgScore != rep.Modules[j].AvgScore {
			return rep.Modules[i].AvgScore < rep.Modules[j].AvgScore
		}
		return rep.Modules[i].Module < rep.Modules[j].Module
	})
	if len(current) > 0 {
		rep.OverallHealth = int(math.Round(float64(total) / float64(len(current))))
	}

	for _, r := range current {
		if r.Status == model.StatusCritical {
			rep.Incidents = append(rep.Incidents, r)
		}
	}
	sort.SliceStable(rep.Incidents, func(i, j int) bool { return rep.Incidents[i].Timestamp.After(rep.Incidents[j].Timestamp) })
	if len(rep.Incidents) > maxIncidents {
		rep.Incidents = rep.Incidents[:maxIncidents]
	}
	rep.Recommendations = Recommendations(rep.Modules)
	return rep
}

// Recommendations derives action items from module statistics.
func Recommendations(stats []ModuleStat) []string {
	var recs []string
	for _, s := range stats {
		if s.AvgScore < model.WarningScore {
			recs = append(recs, fmt.Sprintf("Attenzione immediata richiesta per %s (score medio %.1f)", s.Module, s.AvgScore))
		}
	}
	for _, s := range stats {
		if s.Trend == TrendDegrading {
			recs = append(recs, fmt.Sprintf("Monitorare attentamente %s: punteggio in peggioramento", s.Module))
		}
	}
	for _, s := range stats {
		if s.Uptime < 90 {
			recs = append(recs, fmt.Sprintf("Migliorare la stabilità di %s (uptime %d%%)", s.Module, s.Uptime))
		}
	}
	if len(recs) == 0 {
		recs = []string{
			"Sistema generalmente stabile, continuare il monitoraggio regolare",
			"Considerare l'ottimizzazione dei moduli con score < 90",
		}
	}
	return recs
}

func groupByModule(results []model.Result) map[string][]model.Result {
	out := map[string][]model.Result{}
	for _, r := range results {
		out[r.Module] = append(out[r.Module], r)
	}
	return out
}

func average(rs []model.Result) float64 {
	if len(rs) == 0 {
		return 0
	}
	sum := 0
	for _, r := range rs {
		sum += r.Score
	}
	return float64(sum) / float64(len(rs))
}

// Reports renders and stores PDF reports.
type Reports struct {
	store storage.HealthCheckStore
	dir   string
	log   *logger.Logger
	now   func() time.Time
}

// NewReports writes reports under dir.
func NewReports(store storage.HealthCheckStore, dir string, log *logger.Logger) *Reports {
	if log == nil {
		log = logger.NewDefault("health-reports")
	}
	return &Reports{store: store, dir: dir, log: log, now: time.Now}
}

// Generate renders the report for [from, to). Zero bounds select the last
// seven days.
func (g *Reports) Generate(ctx context.Context, from, to time.Time) (model.ReportRecord, error) {
	rep, err := g.Build(ctx, from, to)
	if err != nil {
		return model.ReportRecord{}, err
	}
	from, to = rep.PeriodStart, rep.PeriodEnd

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return model.ReportRecord{}, fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(g.dir, fmt.Sprintf("health-report-%s.pdf", rep.GeneratedAt.Format("20060102-150405.000")))
	if err := WritePDF(path, rep); err != nil {
		return model.ReportRecord{}, err
	}
	record, err := g.store.SaveReport(ctx, model.ReportRecord{Path: path, PeriodStart: from, PeriodEnd: to, CreatedAt: rep.GeneratedAt})
	if err != nil {
		return model.ReportRecord{}, err
	}
	g.log.WithField("report_id", record.ID).WithField("path", path).WithField("overall", rep.OverallHealth).Info("health report generated")
	return record, nil
}

// Build computes the report without rendering it. Periods are half-open, so
// a result stamped exactly at from belongs to this period and not to the
// previous one.
func (g *Reports) Build(ctx context.Context, from, to time.Time) (Report, error) {
	if to.IsZero() {
		to = g.now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -7)
	}
	if !from.Before(to) {
		return Report{}, errors.BadRequest("report start must be before its end")
	}
	current, err := g.store.ListResults(ctx, "", from, to, 0)
	if err != nil {
		return Report{}, err
	}
	previous, err := g.store.ListResults(ctx, "", from.Add(-to.Sub(from)), from, 0)
	if err != nil {
		return Report{}, err
	}
	rep := BuildReport(current, previous, from, to)
	rep.GeneratedAt = g.now().UTC()
	return rep, nil
}

// History lists generated reports, newest first.
func (g *Reports) History(ctx context.Context) ([]model.ReportRecord, error) {
	records, err := g.store.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.ReportRecord{}
	}
	return records, nil
}

// Open returns the record and PDF bytes of a report.
func (g *Reports) Open(ctx context.Context, id string) (model.ReportRecord, []byte, error) {
	record, err := g.store.GetReport(ctx, id)
	if err != nil {
		return model.ReportRecord{}, nil, err
	}
	raw, err := os.ReadFile(record.Path)
	if os.IsNotExist(err) {
		return model.ReportRecord{}, nil, errors.NotFound("report file", id)
	}
	if err != nil {
		return model.ReportRecord{}, nil, err
	}
	return record, raw, nil
}

// WritePDF renders rep to path.
func WritePDF(path string, rep Report) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Health Check Report", true)
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr("Report Health Check Sistema"), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, tr(fmt.Sprintf("Periodo: %s - %s", rep.PeriodStart.Format("02/01/2006"), rep.PeriodEnd.Format("02/01/2006"))), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, tr("Riepilogo"), "", 1, "", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, tr(fmt.Sprintf("Health Score Globale: %d/100", rep.OverallHealth)), "", 1, "", false, 0, "")
	pdf.CellFormat(0, 7, tr(fmt.Sprintf("Moduli monitorati: %d", len(rep.Modules))), "", 1, "", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, tr("Statistiche per modulo"), "", 1, "", false, 0, "")
	widths := []float64{60, 25, 25, 25, 25, 20}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range []string{"Modulo", "Score medio", "Min/Max", "Uptime", "Controlli", "Trend"} {
		pdf.CellFormat(widths[i], 7, tr(h), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 9)
	for _, m := range rep.Modules {
		pdf.CellFormat(widths[0], 6, tr(m.Module), "1", 0, "", false, 0, "")
		pdf.CellFormat(widths[1], 6, fmt.Sprintf("%.1f", m.AvgScore), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 6, fmt.Sprintf("%d/%d", m.MinScore, m.MaxScore), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprintf("%d%%", m.Uptime), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[4], 6, fmt.Sprintf("%d", m.TotalChecks), "1", 0, "C", false, 0, "")
		switch m.Trend {
		case TrendImproving:
			pdf.SetTextColor(16, 185, 129)
		case TrendDegrading:
			pdf.SetTextColor(239, 68, 68)
		default:
			pdf.SetTextColor(107, 114, 128)
		}
		pdf.CellFormat(widths[5], 6, m.Trend, "1", 1, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(6)

	if len(rep.Incidents) > 0 {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 8, tr("Incidenti critici"), "", 1, "", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, inc := range rep.Incidents {
			line := fmt.Sprintf("- %s - %s (Score: %d/100)", inc.Timestamp.Format("02/01 15:04"), inc.Module, inc.Score)
			pdf.MultiCell(0, 5, tr(line), "", "", false)
			for _, e := range inc.Errors {
				pdf.MultiCell(0, 5, tr("    "+e), "", "", false)
			}
		}
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, tr("Raccomandazioni"), "", 1, "", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, r := range rep.Recommendations {
		pdf.MultiCell(0, 6, tr("- "+r), "", "", false)
	}

	pdf.SetY(-20)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("Generato il %s", rep.GeneratedAt.Format("02/01/2006 15:04"))), "", 0, "C", false, 0, "")
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write report pdf: %w", err)
	}
	return nil
}
