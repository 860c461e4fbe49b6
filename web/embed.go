package web

import "embed"

// TemplatesFS embeds the HTML templates used for server-side fragments.
//
//go:embed templates/*.html
var TemplatesFS embed.FS
