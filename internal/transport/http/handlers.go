package http

import (
	"errors"
	"net/http"
	"time"

	"reconciliation-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PipelineHandler struct {
	verifier   *service.Verifier
	retries    *service.RetryScheduler
	duplicates *service.DuplicateService
	splitter   *service.Splitter
	log        *zap.Logger
}

func NewPipelineHandler(verifier *service.Verifier, retries *service.RetryScheduler, duplicates *service.DuplicateService, splitter *service.Splitter, log *zap.Logger) *PipelineHandler {
	return &PipelineHandler{
		verifier:   verifier,
		retries:    retries,
		duplicates: duplicates,
		splitter:   splitter,
		log:        log,
	}
}

func (h *PipelineHandler) RunReconciliation(c *gin.Context) {
	sum, err := h.verifier.ReconcileStuck(c.Request.Context())
	if err != nil {
		h.log.Error("reconciliation sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": sum})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *PipelineHandler) RunRetries(c *gin.Context) {
	sum, err := h.retries.ProcessDueRetries(c.Request.Context())
	if err != nil {
		h.log.Error("retry sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": sum})
		return
	}
	c.JSON(http.StatusOK, sum)
}

type duplicatesRequest struct {
	Mode string `json:"mode"`
}

func (h *PipelineHandler) RunDuplicates(c *gin.Context) {
	req := duplicatesRequest{Mode: string(service.ModeReport)}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	rep, err := h.duplicates.Run(c.Request.Context(), service.DuplicateMode(req.Mode))
	if err != nil {
		if errors.Is(err, service.ErrInvalidMode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("duplicate pass failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *PipelineHandler) SplitOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	res, err := h.splitter.ProcessSplit(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrPaymentNotSucceeded):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.log.Error("split processing failed", zap.String("order_id", id.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

type verifyRequest struct {
	Reference string `json:"reference"`
	// Необязательное расписание пауз между попытками, в секундах.
	DelaysSeconds []int `json:"delays_seconds,omitempty"`
}

func (h *PipelineHandler) VerifyPayment(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required"})
		return
	}

	var delays []time.Duration
	for _, s := range req.DelaysSeconds {
		delays = append(delays, time.Duration(s)*time.Second)
	}

	var (
		res service.VerificationResult
		err error
	)
	if len(delays) > 0 {
		res, err = h.verifier.VerifyWithRetry(c.Request.Context(), req.Reference, delays)
	} else {
		res, err = h.verifier.VerifyPayment(c.Request.Context(), req.Reference)
	}
	if err != nil {
		h.log.Error("payment verification failed", zap.String("ref", req.Reference), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
