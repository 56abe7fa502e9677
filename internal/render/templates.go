package render

var layouts = map[string]string{
	"default": `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Hook}}</title>
<style>
body{font-family:Georgia,serif;max-width:720px;margin:2rem auto;color:#222}
.hook{font-size:1.6rem;font-weight:bold}
.slide{border:1px solid #ccc;border-radius:8px;padding:1rem;margin:1rem 0}
.quote{font-size:2rem;font-style:italic;border-left:6px solid #333;padding-left:1rem}
figure{margin:1.5rem 0}
</style>
</head>
<body class="shape-{{.Shape}}">
{{if eq .Shape "quote_card"}}<blockquote class="quote">{{.Hook}}</blockquote>
{{else}}<p class="hook">{{.Hook}}</p>
{{end}}{{if .Slides}}{{range $i, $s := .Slides}}<section class="slide" data-slide="{{$i}}">
{{if $s.Heading}}<h2>{{$s.Heading}}</h2>{{end}}
{{range $s.Paragraphs}}<p>{{.}}</p>
{{end}}{{if $s.Bullets}}<ul>{{range $s.Bullets}}<li>{{.}}</li>{{end}}</ul>{{end}}
</section>
{{end}}{{else}}{{range .Sections}}<section>
{{if .Heading}}<h2>{{.Heading}}</h2>{{end}}
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{if .Bullets}}<ul>{{range .Bullets}}<li>{{.}}</li>{{end}}</ul>{{end}}
</section>
{{end}}{{end}}{{range .Diagrams}}<figure data-diagram="{{.Index}}"><img src="diagram-{{.Index}}.svg" alt="{{.Kind}} diagram {{.Index}}"></figure>
{{end}}</body>
</html>
`,
	"minimal": `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Hook}}</title></head>
<body>
<h1>{{.Hook}}</h1>
{{range .Sections}}{{if .Heading}}<h2>{{.Heading}}</h2>{{end}}{{range .Paragraphs}}<p>{{.}}</p>{{end}}{{range .Bullets}}<p>• {{.}}</p>{{end}}
{{end}}{{range .Diagrams}}<figure data-diagram="{{.Index}}"><img src="diagram-{{.Index}}.svg" alt="diagram {{.Index}}"></figure>
{{end}}</body>
</html>
`,
}
