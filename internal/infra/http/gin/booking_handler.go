package ginserver

import (
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kiraya/internal/app/commands"
	BookingApp "kiraya/internal/app/handlers/booking"
	"kiraya/internal/app/queries"
	domainbooking "kiraya/internal/domain/booking"
	"log/slog"
)

type BookingHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type requestBookingRequest struct {
	PropertyID string    `json:"property_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Occupants  int       `json:"occupants"`
	Message    string    `json:"message"`
}

func (h BookingHandler) Create(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req requestBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request"})
		return
	}
	cmd := BookingApp.RequestBookingCommand{
		CommandID:       uuid.NewString(),
		PropertyID:      req.PropertyID,
		TenantID:        actor.UserID,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		Occupants:       req.Occupants,
		Message:         req.Message,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[BookingApp.RequestBookingCommand, *BookingApp.RequestBookingResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type decisionRequest struct {
	Response string `json:"response"`
	Reason   string `json:"reason"`
}

func (h BookingHandler) Approve(c *gin.Context) {
	h.transition(c, func(id string, req decisionRequest, actor domainbooking.Actor) any {
		return BookingApp.ApproveBookingCommand{BookingID: id, Actor: actor, Response: req.Response}
	})
}

func (h BookingHandler) Reject(c *gin.Context) {
	h.transition(c, func(id string, req decisionRequest, actor domainbooking.Actor) any {
		return BookingApp.RejectBookingCommand{BookingID: id, Actor: actor, Response: req.Response}
	})
}

func (h BookingHandler) Cancel(c *gin.Context) {
	h.transition(c, func(id string, req decisionRequest, actor domainbooking.Actor) any {
		return BookingApp.CancelBookingCommand{BookingID: id, Actor: actor, Reason: req.Reason}
	})
}

func (h BookingHandler) Complete(c *gin.Context) {
	h.transition(c, func(id string, req decisionRequest, actor domainbooking.Actor) any {
		return BookingApp.CompleteBookingCommand{BookingID: id, Actor: actor}
	})
}

func (h BookingHandler) transition(c *gin.Context, build func(string, decisionRequest, domainbooking.Actor) any) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req decisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request"})
			return
		}
	}
	var (
		result *BookingApp.TransitionResult
		err    error
	)
	switch cmd := build(c.Param("id"), req, actor).(type) {
	case BookingApp.ApproveBookingCommand:
		result, err = commands.Dispatch[BookingApp.ApproveBookingCommand, *BookingApp.TransitionResult](c.Request.Context(), h.Commands, cmd)
	case BookingApp.RejectBookingCommand:
		result, err = commands.Dispatch[BookingApp.RejectBookingCommand, *BookingApp.TransitionResult](c.Request.Context(), h.Commands, cmd)
	case BookingApp.CancelBookingCommand:
		result, err = commands.Dispatch[BookingApp.CancelBookingCommand, *BookingApp.TransitionResult](c.Request.Context(), h.Commands, cmd)
	case BookingApp.CompleteBookingCommand:
		result, err = commands.Dispatch[BookingApp.CompleteBookingCommand, *BookingApp.TransitionResult](c.Request.Context(), h.Commands, cmd)
	}
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) Get(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	q := BookingApp.GetBookingQuery{BookingID: c.Param("id"), Actor: actor}
	view, err := queries.Ask[BookingApp.GetBookingQuery, BookingApp.BookingView](c.Request.Context(), h.Queries, q)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h BookingHandler) ListMine(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	q := BookingApp.ListTenantBookingsQuery{TenantID: actor.UserID}
	col, err := queries.Ask[BookingApp.ListTenantBookingsQuery, BookingApp.BookingCollection](c.Request.Context(), h.Queries, q)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

func (h BookingHandler) ListHost(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	q := BookingApp.ListOwnerBookingsQuery{OwnerID: actor.UserID, Status: c.Query("status")}
	col, err := queries.Ask[BookingApp.ListOwnerBookingsQuery, BookingApp.BookingCollection](c.Request.Context(), h.Queries, q)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, col)
}
