package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"linkscan/models"
)

// scheduleRequest accepts runAt either as an RFC 3339 instant or as a wall
// clock time in the schedule's timezone.
type scheduleRequest struct {
	Type        models.ScheduleType `json:"type"`
	Site        string              `json:"site"`
	Timezone    string              `json:"timezone"`
	RunAt       string              `json:"runAt"`
	EveryDays   int                 `json:"everyDays"`
	Time        string              `json:"time"`
	Active      *bool               `json:"active"`
	Notify      bool                `json:"notify"`
	NotifyEmail string              `json:"notifyEmail"`
}

func (r scheduleRequest) toModel() (*models.Schedule, error) {
	sc := &models.Schedule{
		Type:        r.Type,
		Active:      true,
		Site:        strings.TrimSpace(r.Site),
		Timezone:    strings.TrimSpace(r.Timezone),
		EveryDays:   r.EveryDays,
		Time:        strings.TrimSpace(r.Time),
		Notify:      r.Notify,
		NotifyEmail: strings.TrimSpace(r.NotifyEmail),
	}
	if r.Active != nil {
		sc.Active = *r.Active
	}
	if r.RunAt != "" {
		loc, err := sc.Location()
		if err != nil {
			return nil, err
		}
		runAt, err := models.ParseRunAt(r.RunAt, loc)
		if err != nil {
			return nil, err
		}
		runAt = runAt.UTC()
		sc.RunAt = &runAt
	}
	return sc, nil
}

func (s *Server) listSchedules(c *gin.Context) {
	schedules, err := s.schedules.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": schedules, "total": len(schedules)})
}

func (s *Server) createSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sc, err := req.toModel()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.schedules.Create(c.Request.Context(), sc); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sc)
}

func (s *Server) getSchedule(c *gin.Context) {
	sc, err := s.schedules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) updateSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sc, err := req.toModel()
	if err != nil {
		respondError(c, err)
		return
	}
	sc.ID = c.Param("id")
	if req.Active == nil {
		existing, err := s.schedules.Get(c.Request.Context(), sc.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		sc.Active = existing.Active
	}
	if err := s.schedules.Update(c.Request.Context(), sc); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	if err := s.schedules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearScheduleHistory(c *gin.Context) {
	n, err := s.schedules.ClearHistory(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// evaluateSchedules runs a scheduler pass now instead of waiting for the tick.
func (s *Server) evaluateSchedules(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "scheduler is not running"})
		return
	}
	fired, err := s.scheduler.TriggerNow(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fired": fired})
}

func (s *Server) getScanDefaults(c *gin.Context) {
	d, err := s.settings.GetScanDefaults(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) putScanDefaults(c *gin.Context) {
	var d models.ScanDefaults
	if err := c.ShouldBindJSON(&d); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := s.settings.SaveScanDefaults(c.Request.Context(), d); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
