package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/controlrelay/web"
)

// loadLayout reads the controller layout served to controllers. The relay
// never interprets it beyond checking it is JSON.
func loadLayout(path string) (json.RawMessage, error) {
	data := web.DefaultLayout
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read controller layout: %w", err)
		}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("controller layout %q is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

func (s *Server) handleLayout(c echo.Context) error {
	if err := c.JSONBlob(http.StatusOK, s.layout); err != nil {
		return fmt.Errorf("failed to write layout response: %w", err)
	}
	return nil
}
