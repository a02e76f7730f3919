package export

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`,
	"[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`, "#", `\#`,
)

var funcs = map[string]any{
	"md":   markdownEscaper.Replace,
	"join": strings.Join,
}

var markdownTemplate = texttemplate.Must(texttemplate.New("markdown").Funcs(funcs).Parse(`# {{md .Title}}

- Recorded: {{.Created}}
- Duration: {{.Duration}}
- Steps: {{.StepCount}}
{{- if .Hostname}}
- Host: {{md .Hostname}}
{{- end}}
{{range .Steps}}
## Step {{.ID}}

{{md .Description}}
{{- with .Notes}} _({{join . ", "}})_{{end}}
{{if .Image}}
![Step {{.ID}}]({{.Image}})
{{end}}
{{- with .Marker}}
{{- if .Located}}
> Clicked at ({{.X}}, {{.Y}}), {{.Left}}% x {{.Top}}% of monitor {{.MonitorID}}
{{- else}}
> Clicked at {{.Left}}% x {{.Top}}% of monitor {{.MonitorID}}
{{- end}}
{{end}}
{{- with .Confidence}}
> OCR confidence: {{.}}
{{end}}
{{- end}}`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}} - Tutorial</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; line-height: 1.6; color: #333; }
.tutorial-header { border-bottom: 2px solid #e1e5e9; padding-bottom: 20px; margin-bottom: 30px; }
.tutorial-meta { color: #666; font-size: 0.9em; }
.tutorial-step { background: #f8f9fa; border: 1px solid #e9ecef; border-radius: 8px; margin-bottom: 20px; overflow: hidden; }
.step-header { background: #007bff; color: white; padding: 10px 15px; font-weight: bold; }
.step-content { padding: 15px; }
.screenshot-container { position: relative; display: inline-block; max-width: 100%; margin-top: 10px; }
.step-screenshot { display: block; max-width: 100%; border: 1px solid #ddd; border-radius: 4px; }
.click-marker { position: absolute; width: 24px; height: 24px; margin: -12px 0 0 -12px; border: 3px solid #ff4757; border-radius: 50%; background: rgba(255, 71, 87, 0.25); pointer-events: none; }
.step-metadata { margin-top: 10px; color: #666; font-size: 0.85em; }
.step-metadata span { margin-right: 15px; }
.step-notes { color: #b8860b; font-size: 0.85em; }
</style>
</head>
<body>
<div class="tutorial-header">
<h1 class="tutorial-title">{{.Title}}</h1>
<div class="tutorial-meta">Recorded {{.Created}} &middot; {{.Duration}} &middot; {{.StepCount}} steps{{if .Hostname}} &middot; {{.Hostname}}{{end}}</div>
</div>
{{range .Steps}}
<div class="tutorial-step" data-step-id="{{.ID}}" data-step-type="{{.Type}}">
<div class="step-header">Step {{.ID}}</div>
<div class="step-content">
<div class="step-description">{{.Description}}{{with .Notes}} <span class="step-notes">({{join . ", "}})</span>{{end}}</div>
{{- if or .Image .ImageData}}
<div class="screenshot-container">
<img class="step-screenshot" alt="Step {{.ID}} screenshot" src="{{if .ImageData}}{{.ImageData}}{{else}}{{.Image}}{{end}}">
{{- with .Marker}}
<div class="click-marker" style="left: {{.Left}}%; top: {{.Top}}%"></div>
{{- end}}
</div>
{{- end}}
<div class="step-metadata">
{{- with .Marker}}{{if .Located}}<span class="coordinates">Clicked at ({{.X}}, {{.Y}})</span>{{end}}<span class="position">{{.Left}}% x {{.Top}}% of monitor {{.MonitorID}}</span>{{end}}
{{- with .Confidence}}<span class="ocr-confidence">OCR confidence: {{.}}</span>{{end}}
</div>
</div>
</div>
{{end}}
</body>
</html>
`))
