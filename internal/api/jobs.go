package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"solar-telemetry/internal/apperr"
	"solar-telemetry/internal/auth"
	"solar-telemetry/internal/export"
	"solar-telemetry/internal/jobs"
	"solar-telemetry/internal/report"

	"github.com/gin-gonic/gin"
)

const allInvertersScope = "All inverters"

type exportRequest struct {
	InverterID string        `json:"inverter_id"`
	Fields     []string      `json:"fields"`
	Format     export.Format `json:"format" binding:"required"`
	From       string        `json:"from" binding:"required"`
	To         string        `json:"to" binding:"required"`
}

type reportRequest struct {
	InverterID    string `json:"inverter_id"`
	Year          int    `json:"year" binding:"required"`
	Month         int    `json:"month" binding:"required"`
	IncludeCharts *bool  `json:"include_charts"`
}

// startExportHandler validates the request synchronously so bad input is a 400
// instead of a failed job.
func (s *Server) startExportHandler(c *gin.Context) {
	var body exportRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	owner := auth.Owner(c)
	loc, err := s.ownerLocation(ctx, owner)
	if err != nil {
		respondError(c, err)
		return
	}
	from, err := parseTime("from", body.From, loc)
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := parseTime("to", body.To, loc)
	if err != nil {
		respondError(c, err)
		return
	}
	if body.InverterID != "" {
		if _, err := s.db.GetInverter(ctx, owner, body.InverterID); err != nil {
			respondError(c, err)
			return
		}
	}

	req := export.Request{
		OwnerID:    owner,
		InverterID: body.InverterID,
		Fields:     body.Fields,
		Format:     export.Format(strings.ToLower(string(body.Format))),
		From:       from,
		To:         to,
		Location:   loc,
	}
	if _, _, err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	snap, err := s.jobs.Start(ctx, owner, jobs.KindExport, export.Stages(s.samples, req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Location", "/api/v1/exports/"+snap.ID)
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) startReportHandler(c *gin.Context) {
	var body reportRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	owner := auth.Owner(c)
	scope := allInvertersScope
	if body.InverterID != "" {
		inv, err := s.db.GetInverter(ctx, owner, body.InverterID)
		if err != nil {
			respondError(c, err)
			return
		}
		scope = inv.Name
	}
	loc, err := s.ownerLocation(ctx, owner)
	if err != nil {
		respondError(c, err)
		return
	}
	tariff, err := s.ownerTariff(ctx, owner)
	if err != nil {
		respondError(c, err)
		return
	}

	charts := s.report.IncludeCharts
	if body.IncludeCharts != nil {
		charts = *body.IncludeCharts
	}
	req := report.Request{
		OwnerID:       owner,
		InverterID:    body.InverterID,
		Scope:         scope,
		Year:          body.Year,
		Month:         time.Month(body.Month),
		Title:         s.report.Title,
		IncludeCharts: charts,
		Tariff:        tariff,
		Location:      loc,
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	snap, err := s.jobs.Start(ctx, owner, jobs.KindReport, report.Stages(s.samples, s.costs, req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Location", "/api/v1/reports/"+snap.ID)
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) listJobsHandler(kind jobs.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.jobs.List(auth.Owner(c), kind))
	}
}

// ownedJob looks the job up for the caller and hides jobs of the other kind.
func (s *Server) ownedJob(c *gin.Context, kind jobs.Kind) (jobs.Snapshot, bool) {
	snap, err := s.jobs.Get(auth.Owner(c), c.Param("id"))
	if err == nil && snap.Kind != kind {
		err = apperr.NotFound("%s job %s not found", kind, c.Param("id"))
	}
	if err != nil {
		respondError(c, err)
		return jobs.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) getJobHandler(kind jobs.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, ok := s.ownedJob(c, kind)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func (s *Server) cancelJobHandler(kind jobs.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.ownedJob(c, kind); !ok {
			return
		}
		snap, err := s.jobs.Cancel(auth.Owner(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, snap)
	}
}

// artifactHandler redirects to the object store when the artifact was uploaded
// and otherwise streams the bytes kept in memory.
func (s *Server) artifactHandler(kind jobs.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.ownedJob(c, kind); !ok {
			return
		}
		art, url, err := s.jobs.Artifact(auth.Owner(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if url != "" {
			c.Redirect(http.StatusFound, url)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
		c.Data(http.StatusOK, art.MediaType, art.Data)
	}
}
