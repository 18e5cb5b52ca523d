package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/face10ai/credits-backend/api/responses"
	"github.com/face10ai/credits-backend/pkg/config"
	pkgerrors "github.com/face10ai/credits-backend/pkg/errors"
	"github.com/face10ai/credits-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is a readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type scorerHealth interface {
	Health(ctx context.Context) error
}

// ReadinessDeps lists the dependencies checked by HealthReady. Nil entries are skipped.
type ReadinessDeps struct {
	DB     Pinger
	Redis  Pinger
	Scorer scorerHealth
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Face10ai-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady fails when the database or Redis is unreachable. The scorer is
// reported but does not gate readiness since analyses degrade to fallback scores.
func HealthReady(cfg *config.Config, deps ReadinessDeps, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Face10ai-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		check := func(name string, p Pinger) error {
			if p == nil {
				return nil
			}
			if err := p.Ping(ctx); err != nil {
				checks[name] = "down"
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable")
			}
			checks[name] = "up"
			return nil
		}
		if err := check("database", deps.DB); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := check("redis", deps.Redis); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if deps.Scorer != nil {
			checks["scorer"] = "up"
			if err := deps.Scorer.Health(ctx); err != nil {
				checks["scorer"] = "down"
				if logg != nil {
					logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "scorer health check failed")
				}
			}
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
