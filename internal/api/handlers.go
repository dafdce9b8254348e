package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"fest_router/native/internal/domain"
	"fest_router/native/internal/router"

	"github.com/gin-gonic/gin"
)

const maxBlobSize = 1 << 20

type offerSinkRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type assignRequest struct {
	SourceID *string `json:"sourceId"`
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.State())
}

func (s *Server) registerSource(c *gin.Context) {
	s.answer(c, s.ctrl.RegisterSource)
}

func (s *Server) registerSink(c *gin.Context) {
	s.answer(c, s.ctrl.RegisterSink)
}

// answer reads an offer blob, runs register and writes the answer blob.
func (s *Server) answer(c *gin.Context, register func(context.Context, []byte) ([]byte, error)) {
	blob, err := readBlob(c)
	if err != nil {
		writeError(c, err)
		return
	}
	out, err := register(c.Request.Context(), blob)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

func (s *Server) offerSink(c *gin.Context) {
	var req offerSinkRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, fmt.Errorf("%w: %v", domain.ErrDecode, err))
			return
		}
	}
	out, err := s.ctrl.OfferSink(c.Request.Context(), req.ID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

func (s *Server) completeSinkOffer(c *gin.Context) {
	blob, err := readBlob(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.ctrl.CompleteSinkOffer(blob); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", domain.ErrDecode, err))
		return
	}
	sinkID := c.Param("sinkId")
	sourceID := ""
	if req.SourceID != nil {
		sourceID = *req.SourceID
	}
	if err := s.ctrl.Assign(sinkID, sourceID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.Route{SinkID: sinkID, SourceID: sourceID})
}

func (s *Server) remove(c *gin.Context) {
	if err := s.ctrl.Remove(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func readBlob(c *gin.Context) ([]byte, error) {
	blob, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(blob) == 0 {
		return nil, &domain.DecodeError{Reason: domain.ReasonMalformedSyntax, Field: "body"}
	}
	return blob, nil
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrState), errors.Is(err, domain.ErrInvalidAssignment):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMediaUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGatheringTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, router.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
