// Package view renders the HTML pages and htmx fragments of the web UI.
package view

import (
	cmp "maragu.dev/gomponents"
	g "maragu.dev/gomponents/html"
)

const (
	htmxScript   = "https://unpkg.com/htmx.org@2.0.4"
	htmxWSScript = "https://unpkg.com/htmx-ext-ws@2.0.2/ws.js"
)

// PageTitle handles the conditional logic for the page title.
func PageTitle(title string) string {
	if title != "" {
		return title + " - Periskope"
	}
	return "Periskope"
}

// Page wraps body in the shared document layout.
func Page(title string, flashes FlashData, body ...cmp.Node) cmp.Node {
	return g.Doctype(
		g.HTML(
			g.Lang("en"),
			g.Head(
				g.Meta(g.Charset("utf-8")),
				g.Meta(g.Name("viewport"), g.Content("width=device-width, initial-scale=1")),
				g.TitleEl(cmp.Text(PageTitle(title))),
				g.Link(g.Rel("stylesheet"), g.Href("/static/app.css")),
				g.Script(g.Src(htmxScript)),
				g.Script(g.Src(htmxWSScript)),
			),
			g.Body(
				g.Class("app"),
				Flashes(flashes),
				g.Main(body...),
			),
		),
	)
}

// Flashes renders pending flash messages.
func Flashes(f FlashData) cmp.Node {
	if len(f.Success) == 0 && len(f.Error) == 0 {
		return nil
	}
	return g.Div(
		g.ID("flashes"),
		cmp.Map(f.Success, func(msg string) cmp.Node {
			return g.Div(g.Class("flash flash-success"), cmp.Attr("role", "status"), cmp.Text(msg))
		}),
		cmp.Map(f.Error, func(msg string) cmp.Node {
			return g.Div(g.Class("flash flash-error"), cmp.Attr("role", "alert"), cmp.Text(msg))
		}),
	)
}
