package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"churnsight/ml"
	"churnsight/risk"
	"churnsight/scoring"
	"churnsight/session"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"dashboard", "predict", "explain"}

type pageSet struct {
	templates map[string]*template.Template
}

var templateFuncs = template.FuncMap{
	"currency": risk.FormatCurrency,
	"percent":  risk.FormatPercent,
	"signed":   func(v float64) string { return fmt.Sprintf("%+.4f", v) },
	"lower":    strings.ToLower,
}

func loadPages() (*pageSet, error) {
	ps := &pageSet{templates: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s page: %w", name, err)
		}
		ps.templates[name] = t
	}
	return ps, nil
}

type pageData struct {
	Title  string
	Active string
	Error  string
	Body   interface{}
}

// render executes into a buffer so a template failure still yields a clean 500.
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.Title = h.cfg.Dashboard.Title
	data.Active = name
	var buf bytes.Buffer
	if err := h.pages.templates[name].Execute(&buf, data); err != nil {
		h.logger.Error("render page failed",
			zap.String("page", name),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

type dashboardView struct {
	ModelAUC      float64
	Status        string
	Slices        []risk.Slice
	PieStyle      template.CSS
	IsDefault     bool
	Predictions   int
	Revenue       float64
	Churn         int
	RevenueAtRisk float64
	CalcError     string
}

var sliceColors = map[risk.Level]string{
	risk.Low:    "#2e9e5b",
	risk.Medium: "#e0a526",
	risk.High:   "#d64541",
}

// pieStyle draws the distribution as a conic gradient.
func pieStyle(slices []risk.Slice) template.CSS {
	var parts []string
	start := 0.0
	for _, s := range slices {
		end := start + s.Share
		parts = append(parts, fmt.Sprintf("%s %.1f%% %.1f%%", sliceColors[s.Level], start, end))
		start = end
	}
	if len(parts) == 0 || start == 0 {
		return template.CSS("background: #ddd")
	}
	return template.CSS("background: conic-gradient(" + strings.Join(parts, ", ") + ")")
}

func (h *Handlers) handleDashboardPage(w http.ResponseWriter, r *http.Request, s *session.Session) {
	d, ok := s.Distribution()
	if !ok {
		d = risk.DefaultDistribution
	}
	slices := d.Slices()
	view := dashboardView{
		ModelAUC:    h.cfg.Dashboard.ModelAUC,
		Slices:      slices,
		PieStyle:    pieStyle(slices),
		IsDefault:   !ok,
		Predictions: s.Len(),
		Status:      "Active",
	}
	if _, err := h.artifacts.Current(); err != nil {
		view.Status = "Model unavailable"
	}

	revenue, churn, err := h.revenueQuery(r)
	if err != nil {
		view.CalcError = err.Error()
		revenue, churn = h.cfg.Dashboard.DefaultRevenue, h.cfg.Dashboard.DefaultChurn
	}
	view.Revenue = revenue
	view.Churn = churn
	view.RevenueAtRisk = risk.RevenueAtRisk(revenue, float64(churn)/100)

	status := http.StatusOK
	if view.CalcError != "" {
		status = http.StatusBadRequest
	}
	h.render(w, r, status, "dashboard", pageData{Body: view})
}

type fieldView struct {
	Name  string
	Value string
}

type selectView struct {
	Name     string
	Options  []string
	Selected string
}

type predictView struct {
	Numeric []fieldView
	Groups  []selectView
	Result  *resultView
}

type resultView struct {
	Percent       float64
	Level         risk.Level
	Label         string
	RevenueAtRisk float64
}

func newPredictView(schema *ml.Schema, form url.Values) predictView {
	var v predictView
	for _, name := range schema.NumericFeatures() {
		v.Numeric = append(v.Numeric, fieldView{Name: name, Value: form.Get(name)})
	}
	for _, g := range schema.Groups() {
		if len(g.Columns) == 0 {
			continue
		}
		v.Groups = append(v.Groups, selectView{Name: g.Name, Options: g.Options(), Selected: form.Get(g.Name)})
	}
	return v
}

// parseCustomerForm reads the prediction form. Blank numbers are zero and a
// blank selection leaves its group unset.
func parseCustomerForm(schema *ml.Schema, form url.Values) (ml.CustomerInput, error) {
	input := ml.CustomerInput{
		Numeric:    make(map[string]float64),
		Selections: make(map[string]string),
	}
	for _, name := range schema.NumericFeatures() {
		raw := strings.TrimSpace(form.Get(name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return input, fmt.Errorf("%s must be a number", name)
		}
		input.Numeric[name] = v
	}
	for _, g := range schema.Groups() {
		if v := form.Get(g.Name); v != "" {
			input.Selections[g.Name] = v
		}
	}
	return input, nil
}

func (h *Handlers) handlePredictPage(w http.ResponseWriter, r *http.Request, s *session.Session) {
	artifacts, err := h.artifacts.Current()
	if err != nil {
		h.render(w, r, statusFor(err), "predict", pageData{Error: err.Error()})
		return
	}
	h.render(w, r, http.StatusOK, "predict", pageData{Body: newPredictView(artifacts.Schema, nil)})
}

func (h *Handlers) handlePredictSubmit(w http.ResponseWriter, r *http.Request, s *session.Session) {
	artifacts, err := h.artifacts.Current()
	if err != nil {
		h.render(w, r, statusFor(err), "predict", pageData{Error: err.Error()})
		return
	}
	if err := r.ParseForm(); err != nil {
		h.render(w, r, http.StatusBadRequest, "predict", pageData{
			Error: "invalid form",
			Body:  newPredictView(artifacts.Schema, nil),
		})
		return
	}
	view := newPredictView(artifacts.Schema, r.PostForm)

	input, err := parseCustomerForm(artifacts.Schema, r.PostForm)
	if err != nil {
		h.render(w, r, http.StatusBadRequest, "predict", pageData{Error: err.Error(), Body: view})
		return
	}
	res, err := h.predict(r.Context(), s, input)
	if err != nil {
		h.render(w, r, statusFor(err), "predict", pageData{Error: err.Error(), Body: view})
		return
	}
	view.Result = &resultView{
		Percent:       res.Percent,
		Level:         res.Level,
		Label:         res.Level.Label(),
		RevenueAtRisk: res.RevenueAtRisk,
	}
	h.render(w, r, http.StatusOK, "predict", pageData{Body: view})
}

type barView struct {
	Feature string
	Effect  float64
	Width   float64
}

type explainView struct {
	Percent   float64
	Level     risk.Level
	BaseValue float64
	Margin    float64
	Bars      []barView
	Waterfall []ml.WaterfallStep
}

func (h *Handlers) handleExplainPage(w http.ResponseWriter, r *http.Request, s *session.Session) {
	last, row, artifacts, ok := s.Last()
	if !ok {
		h.render(w, r, http.StatusOK, "explain", pageData{})
		return
	}
	x, err := scoring.Explain(artifacts, row)
	if err != nil {
		h.render(w, r, statusFor(err), "explain", pageData{Error: err.Error()})
		return
	}

	top := x.Top(h.cfg.Dashboard.ExplainTop)
	largest := 0.0
	for _, c := range top {
		largest = math.Max(largest, math.Abs(c.Effect))
	}
	bars := make([]barView, len(top))
	for i, c := range top {
		bars[i] = barView{Feature: c.Feature, Effect: c.Effect}
		if largest > 0 {
			bars[i].Width = math.Round(math.Abs(c.Effect)/largest*1000) / 10
		}
	}
	h.render(w, r, http.StatusOK, "explain", pageData{Body: explainView{
		Percent:   last.Percent,
		Level:     last.Level,
		BaseValue: x.BaseValue,
		Margin:    x.Margin,
		Bars:      bars,
		Waterfall: x.Waterfall(h.cfg.Dashboard.ExplainTop),
	}})
}
