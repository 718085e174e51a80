package server

import (
	"net/http"

	"go.uber.org/zap"
)

type logLevelRoute struct {
	level zap.AtomicLevel
}

// LogLevelRoute serves the process log level at /api/v1/log-level. GET
// returns {"level":"info"}; PUT with the same body changes it for every
// logger sharing level, which is how per-device polling is debugged live.
func LogLevelRoute(level zap.AtomicLevel) RouteRegistrar {
	return logLevelRoute{level: level}
}

func (l logLevelRoute) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/log-level", l.level)
	mux.Handle("PUT /api/v1/log-level", l.level)
}
