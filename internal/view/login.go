package view

import (
	"time"

	cmp "maragu.dev/gomponents"
	hx "maragu.dev/gomponents-htmx"
	g "maragu.dev/gomponents/html"
)

// LoginData pre-fills the login form.
type LoginData struct {
	Email string
}

// LoginPage is the magic link request form.
func LoginPage(data LoginData, flashes FlashData) cmp.Node {
	return Page("Log in", flashes,
		g.Section(
			g.Class("card login"),
			g.H1(cmp.Text("Log in to Periskope")),
			g.P(cmp.Text("We will email you a link that logs you in. No password needed.")),
			g.Form(
				g.Method("post"),
				g.Action("/auth/login"),
				g.Label(g.For("email"), cmp.Text("Email")),
				g.Input(
					g.Type("email"),
					g.ID("email"),
					g.Name("email"),
					g.Value(data.Email),
					g.Placeholder("you@example.com"),
					g.Required(),
					cmp.Attr("autofocus"),
				),
				g.Button(g.Type("submit"), cmp.Text("Send magic link")),
			),
		),
	)
}

// LoginPendingPage is shown after a link was emailed. It polls the status
// endpoint until the link is followed.
func LoginPendingPage(email string, expiresAt time.Time, flashes FlashData) cmp.Node {
	return Page("Check your email", flashes,
		g.Section(
			g.Class("card login"),
			g.H1(cmp.Text("Check your email")),
			g.P(
				cmp.Text("We sent a login link to "),
				g.Strong(cmp.Text(email)),
				cmp.Text(". Open it on any device and this page will continue."),
			),
			LoginStatusPoller(expiresAt),
			g.Form(
				g.Method("get"),
				g.Action("/auth/login"),
				g.Button(g.Type("submit"), g.Class("link"), cmp.Text("Use a different address")),
			),
		),
	)
}

// LoginStatusPoller re-asks /auth/status every two seconds. A confirmed
// status answers with an HX-Redirect instead of a new poller.
func LoginStatusPoller(expiresAt time.Time) cmp.Node {
	return g.Div(
		g.ID("login-status"),
		hx.Get("/auth/status"),
		hx.Trigger("every 2s"),
		hx.Swap("outerHTML"),
		cmp.Attr("hx-sync", "this:drop"),
		g.P(
			g.Class("muted"),
			cmp.Textf("Waiting for confirmation. The link expires at %s.", expiresAt.Local().Format("15:04")),
		),
	)
}

// LoginExpired replaces the poller once the link can no longer be used.
func LoginExpired() cmp.Node {
	return g.Div(
		g.ID("login-status"),
		g.P(
			g.Class("flash flash-error"),
			cmp.Text("This login link has expired. "),
			g.A(g.Href("/auth/login"), cmp.Text("Request a new one")),
			cmp.Text("."),
		),
	)
}
