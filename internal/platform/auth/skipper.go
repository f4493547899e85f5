package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are the routes reachable without credentials.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication. It matches the registered route, not the raw URL.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
