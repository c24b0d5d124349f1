package web

import (
	"strings"
	"testing"
)

func TestRenderMarkdownBasics(t *testing.T) {
	out := string(renderMarkdown("# Title\n\nSome **bold** text."))
	if !strings.Contains(out, `<h1 class="text-4xl font-bold mt-8 mb-4">Title</h1>`) {
		t.Errorf("heading not styled: %s", out)
	}
	if !strings.Contains(out, `<strong class="font-bold">bold</strong>`) {
		t.Errorf("bold not styled: %s", out)
	}
}

func TestRenderMarkdownCodeBlock(t *testing.T) {
	out := string(renderMarkdown("```python\nprint(1)\n```"))
	if !strings.Contains(out, `<pre class="bg-base-200 p-4 rounded-lg overflow-x-auto mb-4">`) {
		t.Errorf("pre not styled: %s", out)
	}
	if !strings.Contains(out, "print(1)") {
		t.Errorf("code lost: %s", out)
	}
}

func TestRenderMarkdownEmpty(t *testing.T) {
	if got := renderMarkdown("  \n "); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestRenderMarkdownEscapesScript(t *testing.T) {
	out := string(renderMarkdown("hello <script>alert(1)</script>"))
	if strings.Contains(out, "<script>") {
		t.Errorf("raw script tag leaked: %s", out)
	}
}

func TestRenderMarkdownGFMTable(t *testing.T) {
	out := string(renderMarkdown("| a | b |\n|---|---|\n| 1 | 2 |"))
	if !strings.Contains(out, `<table class="table table-zebra w-full my-4">`) {
		t.Errorf("table not rendered: %s", out)
	}
}
