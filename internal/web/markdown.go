package web

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// classMap styles rendered markdown with the UI's utility classes. Goldmark
// emits these tags without attributes, so a literal rewrite is sufficient.
var classMap = map[string]string{
	"<h1>":         `<h1 class="text-4xl font-bold mt-8 mb-4">`,
	"<h2>":         `<h2 class="text-3xl font-bold mt-6 mb-3">`,
	"<h3>":         `<h3 class="text-2xl font-semibold mt-5 mb-2">`,
	"<h4>":         `<h4 class="text-xl font-semibold mt-4 mb-2">`,
	"<p>":          `<p class="text-base leading-relaxed mb-4">`,
	"<ul>":         `<ul class="list-disc space-y-1 mb-4 ml-6">`,
	"<ol>":         `<ol class="list-decimal space-y-1 mb-4 ml-6">`,
	"<li>":         `<li class="leading-relaxed">`,
	"<code>":       `<code class="bg-base-200 px-1 rounded text-sm font-mono">`,
	"<pre>":        `<pre class="bg-base-200 p-4 rounded-lg overflow-x-auto mb-4">`,
	"<blockquote>": `<blockquote class="border-l-4 border-primary pl-4 italic my-4 text-base-content/60">`,
	"<table>":      `<table class="table table-zebra w-full my-4">`,
	"<strong>":     `<strong class="font-bold">`,
	"<em>":         `<em class="italic">`,
	"<hr>":         `<hr class="my-8 border-base-300">`,
}

// renderMarkdown converts model output to styled HTML. Raw HTML in the
// source is escaped by goldmark, so the result is safe to inline.
func renderMarkdown(source string) template.HTML {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(source))
	}
	out := buf.String()
	for plain, classed := range classMap {
		out = strings.ReplaceAll(out, plain, classed)
	}
	return template.HTML(out)
}
