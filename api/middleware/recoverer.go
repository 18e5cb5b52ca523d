package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/face10ai/credits-backend/api/responses"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

// Recoverer answers a panicking handler with INTERNAL_ERROR. Aborted handlers
// are left to net/http.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer recoverInto(w, r, logg)
			next.ServeHTTP(w, r)
		})
	}
}

func recoverInto(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	v := recover()
	if v == nil {
		return
	}
	if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
		panic(v)
	}
	ctx := r.Context()
	if logg != nil {
		ctx = logg.WithField(ctx, "panic_value", fmt.Sprintf("%v", v))
	}
	cause := fmt.Errorf("recovered panic in %s %s", r.Method, r.URL.Path)
	responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, cause, "handler panicked"))
}
