package api

import (
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nidhogg/contract-analyzer/internal/agent"
	"github.com/nidhogg/contract-analyzer/internal/orchestrator"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

const (
	previewChars   = 5000
	exportFileName = "contract_analysis_results.json"
)

type pageSection struct {
	Icon     string
	Title    string
	Agent    agent.AgentID
	Content  string
	Degraded bool
}

type pageData struct {
	Agents       []agent.Profile
	Error        string
	FileName     string
	Sections     []pageSection
	Executive    *pageSection
	Preview      string
	TotalChars   int
	Truncated    bool
	ExportURL    template.URL
	ExportName   string
	DurationSecs float64
}

func (h *Handler) renderPage(w http.ResponseWriter, status int, data pageData) {
	data.Agents = agent.Profiles()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		h.logger.Error("render page failed", zap.Error(err))
	}
}

func (h *Handler) indexPage(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, http.StatusOK, pageData{})
}

// analyzePage handles the upload form and renders the report.
func (h *Handler) analyzePage(w http.ResponseWriter, r *http.Request) {
	name, mimeType, data, err := h.readUpload(w, r)
	if err != nil {
		h.renderError(w, name, err)
		return
	}
	text, err := extractText(r.Context(), name, mimeType, data)
	if err != nil {
		h.logger.Info("extraction rejected", zap.String("file", name), zap.Error(err))
		h.renderError(w, name, err)
		return
	}
	report, err := h.analyze(r.Context(), text)
	if err != nil {
		h.renderError(w, name, err)
		return
	}
	page, err := reportPage(name, text, report)
	if err != nil {
		h.logger.Error("build export failed", zap.Error(err))
		h.renderError(w, name, err)
		return
	}
	h.renderPage(w, http.StatusOK, page)
}

// renderError shows the upload form with the error; internal errors get the generic message.
func (h *Handler) renderError(w http.ResponseWriter, fileName string, err error) {
	status, msg := http.StatusInternalServerError, errMsgAnalysis
	var ae *apiError
	if errors.As(err, &ae) {
		status, msg = ae.status, ae.message
	}
	h.renderPage(w, status, pageData{Error: msg, FileName: fileName})
}

func reportPage(fileName, text string, report *orchestrator.Report) (pageData, error) {
	export, err := json.MarshalIndent(report.Export(), "", "  ")
	if err != nil {
		return pageData{}, err
	}

	page := pageData{
		FileName:     fileName,
		TotalChars:   utf8.RuneCountInString(text),
		Preview:      agent.Truncate(text, previewChars),
		ExportURL:    template.URL("data:application/json;base64," + base64.StdEncoding.EncodeToString(export)),
		ExportName:   exportFileName,
		DurationSecs: report.Duration.Seconds(),
	}
	page.Truncated = page.TotalChars > previewChars

	for _, role := range agent.PhaseOneRoles {
		page.Sections = append(page.Sections, section(role, report.Aggregated[role]))
	}
	exec := section(agent.RoleManager, report.Consolidated)
	page.Executive = &exec
	return page, nil
}

func section(role agent.Role, res agent.Result) pageSection {
	p, _ := agent.ProfileFor(role)
	return pageSection{
		Icon:     p.Icon,
		Title:    p.Title,
		Agent:    p.ID,
		Content:  res.Content,
		Degraded: res.Degraded(),
	}
}
