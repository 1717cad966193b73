// Package ui embeds the static admin pages. The pages are plain HTML plus a
// little fetch() glue over the admin API; all state lives server-side.
package ui

import "embed"

//go:embed static
var Static embed.FS

const (
	// LoginPage is the path of the embedded admin login page.
	LoginPage = "static/login.html"
	// TokensPage is the path of the embedded token management page.
	TokensPage = "static/tokens.html"
)
