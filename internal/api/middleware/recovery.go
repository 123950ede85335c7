package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mcoot/spinroom/internal/api/apierr"
	"github.com/mcoot/spinroom/internal/middleware"
)

// Recovery turns handler panics into a JSON internal error. The connection
// is closed afterwards since the handler may have left it mid-response.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return middleware.Recovery(logger.With(slog.String("component", "api")), writePanicResponse)
}

func writePanicResponse(w http.ResponseWriter, _ *http.Request, _ any) {
	w.Header().Set("Connection", "close")
	apierr.WriteError(w, apierr.NewInternalError())
}
