//go:build !debug

package server

import (
	"net/http"

	"github.com/invakid404/pve-openapi/internal/compiler"
	"github.com/rs/zerolog"
)

// debugHandler is nil unless built with -tags=debug.
func debugHandler(_ *compiler.Registry, _ zerolog.Logger) http.Handler {
	return nil
}
