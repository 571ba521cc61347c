package ginserver

import (
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"

	PricingApp "kiraya/internal/app/handlers/pricing"
	"kiraya/internal/app/queries"
)

type PricingHandler struct {
	Queries queries.Bus
	Logger  *slog.Logger
}

func (h PricingHandler) Quote(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid start_date", Code: "bad_request"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid end_date", Code: "bad_request"})
		return
	}
	q := PricingApp.QuoteQuery{
		PropertyID: c.Query("property_id"),
		StartDate:  start,
		EndDate:    end,
	}
	result, err := queries.Ask[PricingApp.QuoteQuery, PricingApp.QuoteResult](c.Request.Context(), h.Queries, q)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
