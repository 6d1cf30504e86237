// ABOUTME: Embeds the page template and static assets into the binary
// ABOUTME: Provides templateFS and staticFS for the UI handlers

package webui

import "embed"

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS
