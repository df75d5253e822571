package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// TemplateData holds everything the decision record template renders.
type TemplateData struct {
	Title       string
	SpaceName   string
	Status      string
	ContentHTML template.HTML
	GeneratedAt time.Time
	Steps       []TemplateStep
}

// TemplateStep is one pipeline step in the record.
type TemplateStep struct {
	Title       string
	Type        string
	Result      string
	DecidedBy   string
	CompletedAt *time.Time
	Appealed    bool
	Reviews     []TemplateReview
}

// TemplateReview is one reviewer's entry under a step.
type TemplateReview struct {
	Reviewer string
	Result   string
	Appeal   bool
	Reasons  []string
	Message  string
}

var recordTemplate = template.Must(template.New("record").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(recordTemplateText))

// RenderRecordHTML renders the decision record template.
func RenderRecordHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := recordTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const recordTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
    th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
    th { background: #f0f0f0; }
    .result-pass { color: #1a7f37; font-weight: bold; }
    .result-fail { color: #b42318; font-weight: bold; }
    .review { background: #f5f5f5; padding: 0.6rem 1rem; margin: 0.5rem 0; border-left: 3px solid #333; }
    .review .msg { font-style: italic; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.SpaceName}} | {{.Status}} | exported {{formatDate .GeneratedAt "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>

  <h2>Evaluation record</h2>
  <table>
    <tr><th>Step</th><th>Type</th><th>Result</th><th>Decided by</th><th>Completed</th></tr>
    {{range .Steps}}
    <tr>
      <td>{{.Title}}{{if .Appealed}} (appealed){{end}}</td>
      <td>{{.Type}}</td>
      <td>{{if .Result}}<span class="result-{{lower .Result}}">{{.Result}}</span>{{else}}pending{{end}}</td>
      <td>{{.DecidedBy}}</td>
      <td>{{if .CompletedAt}}{{formatDate .CompletedAt.Local "Jan 2, 2006 15:04"}}{{end}}</td>
    </tr>
    {{end}}
  </table>

  {{range .Steps}}{{if .Reviews}}
  <h3>{{.Title}}</h3>
  {{range .Reviews}}
  <div class="review">
    <div>{{.Reviewer}}: <span class="result-{{lower .Result}}">{{.Result}}</span>{{if .Appeal}} (appeal){{end}}</div>
    {{if .Reasons}}<div>Reasons: {{range $i, $r := .Reasons}}{{if $i}}, {{end}}{{$r}}{{end}}</div>{{end}}
    {{if .Message}}<div class="msg">{{.Message}}</div>{{end}}
  </div>
  {{end}}
  {{end}}{{end}}
</body>
</html>`
