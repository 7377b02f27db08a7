package report

import "html/template"

// documentTemplate is the whole report layout. Every style and image it
// references is inlined, so the saved file opens anywhere without the live
// application.
var documentTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"addOne": func(i int) int { return i + 1 },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Anomaly Report — {{.Metadata.RegionName}}</title>
<style>
body { font-family: Georgia, serif; margin: 0; background: #f4f1ea; color: #2b2b2b; }
header { background: #2d3a2e; color: #f4f1ea; padding: 24px 40px; }
header h1 { margin: 0 0 4px 0; font-size: 26px; }
header .meta { font-size: 13px; opacity: 0.85; }
main { max-width: 980px; margin: 0 auto; padding: 24px 40px; }
section.summary { background: #fff; border: 1px solid #d8d2c4; padding: 16px 20px; margin-bottom: 24px; }
section.anomaly { background: #fff; border: 1px solid #d8d2c4; padding: 16px 20px; margin-bottom: 32px; }
section.anomaly h2 { margin-top: 0; border-bottom: 2px solid #2d3a2e; padding-bottom: 6px; }
table { border-collapse: collapse; margin: 8px 0 16px 0; font-size: 13px; }
th, td { border: 1px solid #c9c2b2; padding: 4px 10px; text-align: left; }
th { background: #ece7db; }
.gallery { display: flex; flex-wrap: wrap; gap: 12px; }
.gallery figure { margin: 0; width: 300px; }
.gallery img { width: 100%; border: 1px solid #c9c2b2; }
.gallery figcaption { font-size: 12px; text-align: center; padding-top: 4px; }
.gallery figure.failed figcaption { color: #a33; }
.prompt { white-space: pre-wrap; background: #ece7db; padding: 12px 16px; font-size: 13px; }
.interpretation { font-style: italic; }
footer { text-align: center; font-size: 12px; color: #6b6557; padding: 24px; }
</style>
</head>
<body>
<header>
<h1>Anomaly Detection Report — {{.Metadata.RegionName}}</h1>
<div class="meta">
Analysis {{.Metadata.ReportUID}} · model {{.Metadata.ModelName}} · {{.Metadata.AnalysisTimestamp.Format "2006-01-02 15:04:05"}}{{if .HasCoords}} · {{printf "%.5f" .Lat}}, {{printf "%.5f" .Lon}}{{end}}
</div>
</header>
<main>
<section class="summary">
<h2>Summary</h2>
<table>
<tr><th>Target area</th><td>{{.Summary.TargetAreaID}}</td></tr>
<tr><th>Anomalies detected</th><td>{{if .Summary.AnomaliesDetected}}yes{{else}}no{{end}}</td></tr>
<tr><th>Anomaly count</th><td>{{.Summary.AnomalyCount}}</td></tr>
<tr><th>Image variants</th><td>{{range $i, $v := .Variants}}{{if $i}}, {{end}}{{$v}}{{end}}</td></tr>
</table>
{{if .Metadata.PromptText}}
<h3>Analysis prompt</h3>
<div class="prompt">{{.Metadata.PromptText}}</div>
{{end}}
</section>
{{range .Anomalies}}
<section class="anomaly">
<h2>Anomaly {{.Number}} — {{.Anomaly.Classification.Type}}{{with .Anomaly.Classification.Subtype}} ({{.}}){{end}}</h2>
<table>
<tr><th>Id</th><td>{{.Anomaly.ID}}</td></tr>
<tr><th>Global confidence</th><td>{{printf "%.2f" .Anomaly.Confidence.Global}}</td></tr>
</table>
{{if .Confidences}}
<h3>Confidence per image type</h3>
<table>
<tr>{{range .Confidences}}<th>{{.Variant}}</th>{{end}}</tr>
<tr>{{range .Confidences}}<td>{{if .Present}}{{printf "%.2f" .Value}}{{else}}&mdash;{{end}}</td>{{end}}</tr>
</table>
{{end}}
{{if .Evidence}}
<h3>Evidence</h3>
<table>
{{range .Evidence}}<tr><th>{{.Variant}}</th><td>{{.Text}}</td></tr>
{{end}}</table>
{{end}}
{{if .Anomaly.Interpretation}}
<p class="interpretation">{{.Anomaly.Interpretation}}</p>
{{end}}
{{if .Anomaly.BoundingBoxes}}
<h3>Bounding boxes (original image pixels)</h3>
<table>
<tr><th>#</th><th>xMin</th><th>yMin</th><th>xMax</th><th>yMax</th></tr>
{{range $i, $b := .Anomaly.BoundingBoxes}}<tr><td>{{addOne $i}}</td><td>{{$b.XMin}}</td><td>{{$b.YMin}}</td><td>{{$b.XMax}}</td><td>{{$b.YMax}}</td></tr>
{{end}}</table>
{{else}}
<p>No spatial evidence recorded for this anomaly.</p>
{{end}}
<div class="gallery">
{{range .Images}}
<figure{{if .Failed}} class="failed"{{end}}>
<img src="{{.DataURI}}" alt="{{.Variant}}">
<figcaption>{{.Variant}} — {{.Counter}}{{if .Failed}} (unavailable){{end}}</figcaption>
</figure>
{{end}}
</div>
</section>
{{end}}
</main>
<footer>Generated from analysis folder {{.Metadata.AnalysisFolder}}. Images embedded at analysis time; this file is the complete record.</footer>
</body>
</html>
`))
