package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/tailguard/internal/alerting"
	"github.com/good-yellow-bee/tailguard/internal/hostinfo"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed email templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	RuleName      string
	Description   string
	Subject       string
	Severity      string
	SeverityColor string
	Message       string
	Line          string
	FilePath      string
	Timestamp     string
	Count         int
	Threshold     int
	Window        string
	Host          hostinfo.Info
}

// LoadTemplates loads embedded email templates.
func LoadTemplates() (*Templates, error) {
	htmlTmpl, err := htmltemplate.New("alert.html").
		Funcs(htmltemplate.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("alert.txt").
		Funcs(template.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{
		html:  htmlTmpl,
		plain: plainTmpl,
	}, nil
}

// RenderHTML renders the HTML email body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text email body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the color for a severity level.
func severityColor(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityCritical:
		return "#d32f2f" // red
	case alerting.SeverityHigh:
		return "#f57c00" // orange
	case alerting.SeverityMedium:
		return "#fbc02d" // yellow
	case alerting.SeverityLow:
		return "#388e3c" // green
	default:
		return "#757575" // gray
	}
}

// AlertToTemplateData converts an alert to template data.
func AlertToTemplateData(alert *alerting.Alert) TemplateData {
	return TemplateData{
		RuleName:      alert.RuleName,
		Description:   alert.Description,
		Subject:       alert.Subject,
		Severity:      string(alert.Severity),
		SeverityColor: severityColor(alert.Severity),
		Message:       alert.Message,
		Line:          alert.Line,
		FilePath:      alert.FilePath,
		Timestamp:     alert.Timestamp.Format("2006-01-02 15:04:05 MST"),
		Count:         alert.Count,
		Threshold:     alert.Threshold,
		Window:        alert.Window,
		Host:          alert.Host,
	}
}
