package server

import (
	"context"
	"net/http"

	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
)

// originPolicy decides which browser origins may open the real-time channel.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	logger   logging.Logger
}

func newOriginPolicy(cfg *config.Config, logger logging.Logger) *originPolicy {
	origins, allowAll := config.NormalizeOrigins(cfg.AllowedOrigins)
	allowAll = allowAll || cfg.AllowAllOrigins

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return &originPolicy{allowed: allowed, allowAll: allowAll, logger: logger}
}

func (p *originPolicy) isOriginAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := config.NormalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if p.isOriginAllowed(r) {
		return true
	}

	p.logger.Warn(context.Background(), "blocked websocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}
