package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/VetCoders/ScreenScribe-sub000/pkg/types"
)

// HTMLOptions tunes the HTML renderer.
type HTMLOptions struct {
	// EmbedVideo inlines a <video> player pointing at the source file.
	EmbedVideo bool
	// VideoSrc is the player source; relative paths are resolved
	// against the report location by the browser.
	VideoSrc string
}

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"ts":  types.FormatTimestamp,
	"rel": filepath.ToSlash,
}).Parse(`<!doctype html>
<html lang="{{.Report.Language}}">
<head>
<meta charset="utf-8">
<title>Review report: {{.VideoName}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 60rem; padding: 0 1rem; color: #1a1a1a; }
header p { color: #555; }
.finding { border: 1px solid #ddd; border-radius: 8px; padding: 1rem; margin: 1rem 0; }
.finding img { max-width: 100%; border: 1px solid #eee; }
.sev-critical { border-left: 6px solid #c0392b; }
.sev-high { border-left: 6px solid #e67e22; }
.sev-medium { border-left: 6px solid #f1c40f; }
.sev-low, .sev-none { border-left: 6px solid #95a5a6; }
.meta { color: #666; font-size: 0.9rem; }
.errors { background: #fff4f4; border: 1px solid #e0b4b4; border-radius: 8px; padding: 1rem; }
video { max-width: 100%; }
</style>
</head>
<body>
<header>
<h1>Review report: {{.VideoName}}</h1>
<p>Generated {{.Report.GeneratedAt.Format "2006-01-02 15:04 MST"}} · language {{.Report.Language}} · length {{ts .Report.DurationSeconds}}</p>
{{if .Report.DryRun}}<p><strong>Dry run</strong>: detection stages only.</p>{{end}}
<p>{{.Report.Counts.Total}} findings ({{.Report.Counts.Issues}} issues), {{.Report.Counts.Detections}} detections, {{.Report.Counts.Screenshots}} screenshots</p>
</header>
{{if .Options.EmbedVideo}}<video controls src="{{.Options.VideoSrc}}"></video>{{end}}
{{if .Report.ExecutiveSummary}}<section><h2>Executive summary</h2><p>{{.Report.ExecutiveSummary}}</p></section>{{end}}
{{if .Report.VisualSummary}}<section><h2>Visual issues</h2><p>{{.Report.VisualSummary}}</p></section>{{end}}
<section>
<h2>Findings</h2>
{{range $i, $f := .Report.Findings}}
<article class="finding sev-{{$f.Severity}}">
<h3>{{ts $f.Timestamp}} {{$f.Summary}}</h3>
<p class="meta">{{$f.Category}} · {{$f.Severity}} · {{$f.Sentiment}}</p>
{{with $shot := index $.Screenshots $i}}{{if $shot}}<img src="{{rel $shot}}" alt="screenshot at {{ts $f.Timestamp}}">{{end}}{{end}}
{{if $f.SuggestedFix}}<p>Suggested fix: {{$f.SuggestedFix}}</p>{{end}}
{{if $f.ActionItems}}<ul>{{range $f.ActionItems}}<li>{{.}}</li>{{end}}</ul>{{end}}
</article>
{{end}}
</section>
{{if .Report.Errors}}
<section class="errors">
<h2>Pipeline errors</h2>
<ul>{{range .Report.Errors}}<li><code>{{.Stage}}</code>: {{.Message}}</li>{{end}}</ul>
</section>
{{end}}
</body>
</html>
`))

// WriteHTML renders the report as a standalone HTML page.
func WriteHTML(rep *Report, path string, opts HTMLOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %q: %w", path, err)
	}
	defer f.Close()

	// Screenshot paths relative to the report file, index-aligned with
	// the findings.
	shots := make([]string, len(rep.Findings))
	for i, finding := range rep.Findings {
		if finding.ScreenshotPath != "" {
			shots[i] = relOrSelf(path, finding.ScreenshotPath)
		}
	}
	if opts.EmbedVideo && opts.VideoSrc == "" {
		opts.VideoSrc = relOrSelf(path, rep.Video)
	}

	data := struct {
		Report      *Report
		VideoName   string
		Screenshots []string
		Options     HTMLOptions
	}{rep, filepath.Base(rep.Video), shots, opts}

	if err := htmlTmpl.Execute(f, data); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}
