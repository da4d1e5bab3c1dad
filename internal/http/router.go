// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"movebid/internal/http/handlers"
	"movebid/internal/http/middleware"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Metrics(), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	pricingHandler := handlers.NewPricingHandler(deps.Pricing)
	api.POST("/pricing/quote", pricingHandler.Quote)

	quotationHandler := handlers.NewQuotationHandler(deps.Quotations)
	api.POST("/quotations", quotationHandler.Submit)
	api.GET("/quotations/:id", quotationHandler.Get)
	api.POST("/quotations/:id/accept", quotationHandler.Accept)
	api.POST("/quotations/:id/reject", quotationHandler.Reject)
	api.POST("/quotations/:id/expire", quotationHandler.Expire)
	api.GET("/bookings/:id/quotations", quotationHandler.ListActive)

	counterOfferHandler := handlers.NewCounterOfferHandler(deps.Negotiation)
	api.POST("/quotations/:id/counter-offers", counterOfferHandler.Propose)
	api.GET("/quotations/:id/counter-offers", counterOfferHandler.List)
	api.GET("/counter-offers/:id", counterOfferHandler.Get)
	api.POST("/counter-offers/:id/respond", counterOfferHandler.Respond)

	bindingHandler := handlers.NewBindingHandler(deps.Binding)
	api.GET("/bookings/:id/binding", bindingHandler.Get)

	return r
}
