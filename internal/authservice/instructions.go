package authservice

import (
	"strings"
	"text/template"
)

// instructionsTemplate mirrors internal/oauth/templates.go's role of
// carrying user-facing copy as data rather than inline strings scattered
// through handlers, narrowed from a per-provider template map to the one
// fixed template this broker needs.
var instructionsTemplate = template.Must(template.New("instructions").Parse(
	`Open the following URL in a browser and approve access:

  {{.AuthorizeURL}}

After approving, you will be redirected back to this broker. If the
redirect does not complete automatically, copy the "code" query parameter
from the final URL and submit it along with state "{{.State}}".

This link expires in 10 minutes.
`))

type instructionsData struct {
	AuthorizeURL string
	State        string
}

func renderInstructions(authorizeURL, state string) string {
	var b strings.Builder
	// template.Must already validated parsing at init; Execute on a
	// strings.Builder cannot fail for this template.
	_ = instructionsTemplate.Execute(&b, instructionsData{AuthorizeURL: authorizeURL, State: state})
	return b.String()
}
