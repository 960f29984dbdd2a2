package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KlistenesLima/krt-bank-sub000/internal/domain"
)

const readinessTimeout = 2 * time.Second

// Check reports whether one dependency is usable
type Check func(ctx context.Context) error

// TransferReader looks transfers up by id
type TransferReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
}

// Server is the operational HTTP surface: health checks and transfer lookup
type Server struct {
	transfers TransferReader
	checks    map[string]Check
	router    *gin.Engine
	logger    *zap.Logger
}

// NewServer creates a new ops server
func NewServer(transfers TransferReader, checks map[string]Check, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		transfers: transfers,
		checks:    checks,
		router:    router,
		logger:    logger,
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/readyz", s.handleReady)

	api := router.Group("/v1")
	{
		api.GET("/transfers/:id", s.handleGetTransfer)
	}

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := gin.H{}
	ready := true
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			ready = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": results})
}

func (s *Server) handleGetTransfer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid transfer id",
		})
		return
	}

	t, err := s.transfers.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "transfer not found",
			})
			return
		}
		s.logger.Error("transfer lookup failed", zap.String("transfer_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    newTransferResponse(t),
	})
}

type transferResponse struct {
	ID                   string     `json:"id"`
	Status               string     `json:"status"`
	SourceAccountID      string     `json:"sourceAccountId"`
	DestinationAccountID string     `json:"destinationAccountId"`
	Amount               string     `json:"amount"`
	Currency             string     `json:"currency"`
	DestinationKey       string     `json:"destinationKey"`
	Description          string     `json:"description,omitempty"`
	FailureReason        string     `json:"failureReason,omitempty"`
	NeedsReconciliation  bool       `json:"needsReconciliation"`
	FraudScore           string     `json:"fraudScore,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
}

func newTransferResponse(t *domain.Transfer) transferResponse {
	resp := transferResponse{
		ID:                   t.ID.String(),
		Status:               string(t.Status),
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount.StringFixed(2),
		Currency:             t.Currency,
		DestinationKey:       t.DestinationKey,
		Description:          t.Description,
		FailureReason:        t.FailureReason,
		NeedsReconciliation:  t.NeedsReconciliation,
		CreatedAt:            t.CreatedAt.UTC(),
		UpdatedAt:            t.UpdatedAt.UTC(),
		CompletedAt:          t.CompletedAt,
	}
	if t.FraudScore != nil {
		resp.FraudScore = t.FraudScore.String()
	}
	return resp
}

// requestLogger logs one line per request with the shared zap logger
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}
