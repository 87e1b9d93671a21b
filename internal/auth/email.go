package auth

import (
	"bytes"
	"time"

	cmp "maragu.dev/gomponents"
	g "maragu.dev/gomponents/html"
)

const magicLinkSubject = "Your Periskope login link"

func magicLinkEmail(link string, ttl time.Duration) (string, error) {
	body := g.Div(
		g.H2(cmp.Text("Log in to Periskope")),
		g.P(cmp.Textf("Click the link below to finish signing in. It expires in %d minutes.", int(ttl.Minutes()))),
		g.P(g.A(g.Href(link), cmp.Text("Log in"))),
		g.P(g.Small(cmp.Text("If you did not ask for this email you can ignore it."))),
	)

	var buf bytes.Buffer
	if err := body.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
