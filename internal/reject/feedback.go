package reject

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/uke16/Helix-sub002/internal/model"
)

// feedbackData is what a feedback template may reference.
type feedbackData struct {
	Message         string
	Issues          []string
	Warnings        []string
	Recommendations []string
}

// BuildFeedback renders the text handed to the retried phase. A custom
// template from on_rejection takes precedence; if it fails to parse or
// execute, the default layout is used so a bad template never blocks a
// retry.
func BuildFeedback(gr *model.GateResult, tmpl string) string {
	data := collect(gr)
	if tmpl != "" {
		if out, err := render(tmpl, data); err == nil {
			return out
		}
	}
	return defaultLayout(data)
}

func render(tmpl string, data feedbackData) (string, error) {
	t, err := template.New("feedback").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// collect flattens gate details into the fixed feedback sections.
// Finding entries are routed by severity.
func collect(gr *model.GateResult) feedbackData {
	data := feedbackData{Message: gr.Message}
	if gr.Details == nil {
		return data
	}

	data.Issues = stringList(gr.Details["issues"])
	data.Warnings = stringList(gr.Details["warnings"])
	data.Recommendations = stringList(gr.Details["recommendations"])

	findings, ok := gr.Details["findings"].([]any)
	if !ok {
		return data
	}
	for _, raw := range findings {
		f, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		msg, _ := f["message"].(string)
		if msg == "" {
			continue
		}
		severity, _ := f["severity"].(string)
		switch strings.ToLower(severity) {
		case "error", "critical":
			data.Issues = append(data.Issues, msg)
		case "warning":
			data.Warnings = append(data.Warnings, msg)
		default:
			data.Recommendations = append(data.Recommendations, msg)
		}
	}
	return data
}

func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func defaultLayout(data feedbackData) string {
	var sb strings.Builder
	sb.WriteString("# Quality Gate Feedback\n\n")
	fmt.Fprintf(&sb, "%s\n", data.Message)
	writeSection(&sb, "Issues", data.Issues)
	writeSection(&sb, "Warnings", data.Warnings)
	writeSection(&sb, "Recommendations", data.Recommendations)
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n", title)
	for _, item := range items {
		fmt.Fprintf(sb, "- %s\n", item)
	}
}
