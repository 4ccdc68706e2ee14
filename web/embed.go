// Package web holds static assets served by the HTTP server.
package web

import _ "embed"

// DefaultLayout is the controller layout served when no layout file is configured.
//
//go:embed layouts/double-joystick.json
var DefaultLayout []byte
