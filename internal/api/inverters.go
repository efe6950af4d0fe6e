package api

import (
	"context"
	"net/http"
	"time"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/auth"
	"solar-telemetry/internal/gateway"
	"solar-telemetry/internal/poller"
	"solar-telemetry/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type inverterRequest struct {
	Name         string  `json:"name" binding:"required"`
	SerialNumber string  `json:"serial_number"`
	GatewayURL   string  `json:"gateway_url" binding:"required"`
	Enabled      *bool   `json:"enabled"`
	MaxPowerW    float64 `json:"max_power_w" binding:"min=0"`
}

func (r inverterRequest) enabled() bool {
	return r.Enabled == nil || *r.Enabled
}

func (s *Server) listInvertersHandler(c *gin.Context) {
	inverters, err := s.db.ListInverters(c.Request.Context(), auth.Owner(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inverters)
}

func (s *Server) createInverterHandler(c *gin.Context) {
	var req inverterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if _, err := gateway.ParseAddress(req.GatewayURL); err != nil {
		respondError(c, err)
		return
	}

	inv := &storage.Inverter{
		OwnerID:      auth.Owner(c),
		Name:         req.Name,
		SerialNumber: req.SerialNumber,
		GatewayURL:   req.GatewayURL,
		Enabled:      req.enabled(),
		MaxPowerW:    req.MaxPowerW,
	}
	if err := s.db.CreateInverter(c.Request.Context(), inv); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (s *Server) getInverterHandler(c *gin.Context) {
	inv, err := s.db.GetInverter(c.Request.Context(), auth.Owner(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) updateInverterHandler(c *gin.Context) {
	var req inverterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if _, err := gateway.ParseAddress(req.GatewayURL); err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	inv := &storage.Inverter{
		ID:           c.Param("id"),
		OwnerID:      auth.Owner(c),
		Name:         req.Name,
		SerialNumber: req.SerialNumber,
		GatewayURL:   req.GatewayURL,
		Enabled:      req.enabled(),
		MaxPowerW:    req.MaxPowerW,
	}
	if err := s.db.UpdateInverter(ctx, inv); err != nil {
		respondError(c, err)
		return
	}
	updated, err := s.db.GetInverter(ctx, inv.OwnerID, inv.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteInverterHandler(c *gin.Context) {
	if err := s.samples.DeleteInverter(c.Request.Context(), auth.Owner(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// liveHandler serves the poller's latest snapshot, or reads the device directly
// when the inverter is not being polled or ?refresh=true is given.
func (s *Server) liveHandler(c *gin.Context) {
	ctx := c.Request.Context()
	inv, err := s.db.GetInverter(ctx, auth.Owner(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if s.poller != nil && c.Query("refresh") != "true" {
		if snap, ok := s.poller.Latest(inv.ID); ok && snap.Sample != nil {
			c.JSON(http.StatusOK, snap)
			return
		}
	}

	gw, err := s.openGateway(inv)
	if err != nil {
		respondError(c, err)
		return
	}
	defer gw.Close()

	readCtx, cancel := timeoutContext(c, s.gwTimeout)
	defer cancel()
	reading, err := gw.Live(readCtx)
	if err != nil {
		respondError(c, err)
		return
	}

	sample := reading.ToSample(time.Now())
	sample.InverterID = inv.ID
	sample.OwnerID = inv.OwnerID
	c.JSON(http.StatusOK, poller.Snapshot{
		InverterID:  inv.ID,
		Status:      storage.StatusOnline,
		Sample:      &sample,
		DeviceState: reading.State,
		UpdatedAt:   sample.Timestamp,
	})
}

func (s *Server) insightHandler(c *gin.Context) {
	if s.insights == nil {
		respondError(c, apperr.Configuration("production insights are not configured"))
		return
	}

	ctx := c.Request.Context()
	owner := auth.Owner(c)
	inv, err := s.db.GetInverter(ctx, owner, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var power float64
	if snap, ok := s.latestSnapshot(inv.ID); ok {
		power = snap.Sample.ACPowerW
	} else {
		latest, err := s.samples.Latest(ctx, inv.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		power = latest.ACPowerW
	}

	loc, err := s.ownerLocation(ctx, owner)
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := s.insights.Evaluate(ctx, inv.ID, power, loc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) latestSnapshot(id string) (poller.Snapshot, bool) {
	if s.poller == nil {
		return poller.Snapshot{}, false
	}
	snap, ok := s.poller.Latest(id)
	if !ok || snap.Sample == nil || snap.Status != storage.StatusOnline {
		return poller.Snapshot{}, false
	}
	return snap, true
}

type controlRequest struct {
	Action gateway.Action `json:"action" binding:"required"`
}

func (s *Server) controlHandler(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := req.Action.Validate(); err != nil {
		respondError(c, err)
		return
	}
	s.sendCommand(c, func(gw gateway.Gateway, c *gin.Context) error {
		ctx, cancel := timeoutContext(c, s.gwTimeout)
		defer cancel()
		return gw.Control(ctx, req.Action)
	}, zap.String("action", string(req.Action)))
}

func (s *Server) limitHandler(c *gin.Context) {
	var req gateway.Limit
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}
	s.sendCommand(c, func(gw gateway.Gateway, c *gin.Context) error {
		ctx, cancel := timeoutContext(c, s.gwTimeout)
		defer cancel()
		return gw.SetLimit(ctx, req)
	}, zap.String("limit_kind", string(req.Kind)), zap.Float64("limit", req.Value))
}

func (s *Server) sendCommand(c *gin.Context, send func(gateway.Gateway, *gin.Context) error, fields ...zap.Field) {
	inv, err := s.db.GetInverter(c.Request.Context(), auth.Owner(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	gw, err := s.openGateway(inv)
	if err != nil {
		respondError(c, err)
		return
	}
	defer gw.Close()

	if err := send(gw, c); err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("Inverter command sent", append(fields, zap.String("inverter_id", inv.ID))...)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) openGateway(inv *storage.Inverter) (gateway.Gateway, error) {
	factory := s.newGateway
	if factory == nil {
		factory = gateway.New
	}
	return factory(inv.GatewayURL, s.gwTimeout)
}

func timeoutContext(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}
