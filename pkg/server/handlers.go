package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrisonrobin/chronos/pkg/extract"
	"github.com/harrisonrobin/chronos/pkg/ingest"
	"github.com/harrisonrobin/chronos/pkg/model"
)

func (s *Server) handleDrafts(c *gin.Context) {
	var req draftsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}

	if len(req.Drafts) > 0 {
		res, err := s.deps.Tasks.SubmitAll(c.Request.Context(), identity(c), draftSeq(req.Drafts))
		if err != nil {
			s.writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	d, err := req.draftPayload.toDraft()
	if err != nil {
		s.writeErr(c, err)
		return
	}
	res, err := s.deps.Tasks.Submit(c.Request.Context(), identity(c), d)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	status := http.StatusCreated
	if res.Merged {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *Server) handleExtractText(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}
	s.extract(c, s.deps.Text, []byte(req.Text))
}

func (s *Server) handleExtractDocument(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentLen))
	if err != nil {
		s.writeErr(c, fmt.Errorf("%w: read document: %v", model.ErrInvalidInput, err))
		return
	}
	if len(body) == 0 {
		s.writeErr(c, fmt.Errorf("%w: empty document", model.ErrInvalidInput))
		return
	}
	s.extract(c, s.deps.Document, body)
}

func (s *Server) extract(c *gin.Context, a extract.Adapter, raw []byte) {
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "extractor not configured"})
		return
	}
	ctx := c.Request.Context()
	res, err := s.deps.Tasks.SubmitAll(ctx, identity(c), a.Extract(ctx, raw))
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleAgent(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}

	id := identity(c)
	intent, err := s.deps.Interpreter.Interpret(c.Request.Context(), id.OwnerID, req.Text)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	res, err := s.deps.Tasks.Submit(c.Request.Context(), id, intent)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, agentResponse{Intent: intent, Result: res})
}

func (s *Server) handleListTasks(c *gin.Context) {
	from, err := parseTime(c.Query("from"), s.deps.Location)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	to, err := parseTime(c.Query("to"), s.deps.Location)
	if err != nil {
		s.writeErr(c, err)
		return
	}

	tasks, err := s.deps.Tasks.Query(c.Request.Context(), identity(c), ingest.Filter{From: from, To: to})
	if err != nil {
		s.writeErr(c, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeErr(c, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}

	task, err := s.deps.Tasks.Update(c.Request.Context(), identity(c), c.Param("id"), ingest.Patch{
		Version:   req.Version,
		Title:     req.Title,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		ClearTime: req.ClearTime,
	})
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	version, err := parseVersion(c.Query("version"))
	if err != nil {
		s.writeErr(c, err)
		return
	}
	ack, err := s.deps.Tasks.Delete(c.Request.Context(), identity(c), c.Param("id"), version)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (s *Server) handleResync(c *gin.Context) {
	task, err := s.deps.Tasks.Resync(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

func (s *Server) handleHistory(c *gin.Context) {
	events, err := s.deps.Tasks.History(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleSlots(c *gin.Context) {
	day, err := parseTime(c.Query("date"), s.deps.Location)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	if day == nil {
		s.writeErr(c, fmt.Errorf("%w: date is required", model.ErrInvalidInput))
		return
	}
	duration, err := parseDuration(c.Query("duration"), time.Hour)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	buffer, err := parseDuration(c.Query("buffer"), 0)
	if err != nil {
		s.writeErr(c, err)
		return
	}

	starts, err := s.deps.Tasks.SuggestSlots(c.Request.Context(), identity(c), ingest.SlotRequest{Day: *day, Duration: duration, Buffer: buffer})
	if err != nil {
		s.writeErr(c, err)
		return
	}
	if starts == nil {
		starts = []time.Time{}
	}
	c.JSON(http.StatusOK, gin.H{"slots": starts})
}

func (s *Server) handleGoogleAuthURL(c *gin.Context) {
	if s.deps.Linker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "google calendar not configured"})
		return
	}
	url, err := s.deps.Linker.AuthURL(identity(c).OwnerID)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// handleGoogleCallback finishes the consent flow. The owner comes from the
// state issued with the auth URL, not from a header.
func (s *Server) handleGoogleCallback(c *gin.Context) {
	if s.deps.Linker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "google calendar not configured"})
		return
	}
	if msg := c.Query("error"); msg != "" {
		s.writeErr(c, fmt.Errorf("%w: consent denied: %s", model.ErrInvalidInput, msg))
		return
	}
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		s.writeErr(c, fmt.Errorf("%w: state and code are required", model.ErrInvalidInput))
		return
	}

	owner, err := s.deps.Linker.Callback(c.Request.Context(), state, code)
	if err != nil {
		s.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner_id": owner, "linked": true})
}
