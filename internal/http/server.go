// README: API gateway; holds module services and exposes the HTTP handler.
package http

import (
	"net/http"

	"go.uber.org/zap"

	"movebid/internal/infra"
	"movebid/internal/modules/binding"
	"movebid/internal/modules/negotiation"
	"movebid/internal/modules/pricing"
	"movebid/internal/modules/quotation"
)

type ServerDeps struct {
	Pricing     *pricing.Service
	Quotations  *quotation.Service
	Negotiation *negotiation.Service
	Binding     *binding.Service
	Verifier    infra.TokenVerifier
	Log         *zap.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	return NewRouter(s.deps)
}
