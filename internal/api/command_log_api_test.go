package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/wfunc/dispenser-ctl/internal/errors"
	"github.com/wfunc/dispenser-ctl/internal/hardware"
	"github.com/wfunc/dispenser-ctl/internal/middleware"
	"github.com/wfunc/dispenser-ctl/internal/models"
	"github.com/wfunc/dispenser-ctl/internal/protocol"
	"github.com/wfunc/dispenser-ctl/internal/repository"
	"github.com/wfunc/dispenser-ctl/internal/service"
)

type CommandLogAPITestSuite struct {
	suite.Suite
	router  *Router
	service *service.CommandLogService
}

func (s *CommandLogAPITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	db := repository.SetupTestDB()
	s.T().Cleanup(func() { repository.CleanupTestDB(db) })

	s.service = service.NewCommandLogService(db, hardware.SimulatorName, "framed")
	s.router = NewRouter(db, s.service, nil, 90, zap.NewNop())

	// 通过模拟器产生几条真实的历史记录
	link := hardware.NewLink(hardware.NewSimulator(), hardware.LinkConfig{
		Mode:         hardware.LinkFramed,
		ReplyTimeout: 50 * time.Millisecond,
		DataTimeout:  50 * time.Millisecond,
	})
	d := hardware.NewDispenser(link, protocol.NewEncoder(protocol.ProfileDecimal))
	for _, cmd := range [][]string{
		{"pressure", "50.0"},
		{"time", "1.2345"},
		{"pressure", "150"},
		{"read_values"},
	} {
		result, err := d.Run(cmd[0], cmd[1:])
		s.Require().NoError(s.service.Record(context.Background(), &service.Execution{
			Name: cmd[0], Args: cmd[1:], Result: result, Err: err,
		}))
	}
}

func (s *CommandLogAPITestSuite) do(method, target string, body url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(body.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

type listResponse struct {
	Data  []*models.CommandLog `json:"data"`
	Total int64                `json:"total"`
	Count int                  `json:"count"`
	Limit int                  `json:"limit"`
}

type errorResponse struct {
	Success bool `json:"success"`
	Error   struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (s *CommandLogAPITestSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("healthy", decode[map[string]interface{}](s.T(), w)["status"])
}

func (s *CommandLogAPITestSuite) TestQuery() {
	w := s.do(http.MethodGet, "/api/v1/commands?name=pressure", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	resp := decode[listResponse](s.T(), w)
	s.Equal(int64(2), resp.Total)
	s.Len(resp.Data, 2)
	s.Equal("150", resp.Data[0].Argument)
	s.Equal(defaultLimit, resp.Limit)
	s.NotEmpty(w.Header().Get(middleware.RequestIDHeader))
}

func (s *CommandLogAPITestSuite) TestQueryFilters() {
	w := s.do(http.MethodGet, "/api/v1/commands?sent=true&order_by=id%20asc&limit=2", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	resp := decode[listResponse](s.T(), w)
	s.Equal(int64(3), resp.Total)
	s.Require().Len(resp.Data, 2)
	s.Equal("pressure", resp.Data[0].Name)
	s.Equal("PS  50.0", resp.Data[0].Command)
	s.Equal("time", resp.Data[1].Name)
}

func (s *CommandLogAPITestSuite) TestInvalidParams() {
	for _, target := range []string{
		"/api/v1/commands?limit=abc",
		"/api/v1/commands?offset=-1",
		"/api/v1/commands?has_error=maybe",
		"/api/v1/commands?start_time=yesterday",
		"/api/v1/commands?order_by=id%20sideways",
		"/api/v1/commands?order_by=drop",
		"/api/v1/commands?order_by=id%3Bdrop%20table",
		"/api/v1/commands/stats?end_time=2024-13-01",
	} {
		w := s.do(http.MethodGet, target, nil)
		s.Equal(http.StatusBadRequest, w.Code, target)

		resp := decode[errorResponse](s.T(), w)
		s.False(resp.Success)
		s.Equal(int(errors.ErrInvalidParam), resp.Error.Code, target)
		s.Equal(w.Header().Get(middleware.RequestIDHeader), resp.RequestID)
	}
}

func (s *CommandLogAPITestSuite) TestLatestAndErrors() {
	w := s.do(http.MethodGet, "/api/v1/commands/latest?limit=1", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	latest := decode[listResponse](s.T(), w)
	s.Require().Equal(1, latest.Count)
	s.Equal("read_values", latest.Data[0].Name)
	s.Equal(50.0, latest.Data[0].Values["pressure"])

	w = s.do(http.MethodGet, "/api/v1/commands/errors", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	failed := decode[listResponse](s.T(), w)
	s.Require().Equal(1, failed.Count)
	s.Equal(int(errors.ErrRange), failed.Data[0].ErrorCode)
	s.False(failed.Data[0].Sent)
}

func (s *CommandLogAPITestSuite) TestStats() {
	w := s.do(http.MethodGet, "/api/v1/commands/stats", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	stats := decode[models.CommandLogStats](s.T(), w)
	s.Equal(int64(4), stats.TotalCount)
	s.Equal(int64(3), stats.TotalSent)
	s.Equal(int64(1), stats.TotalRejected)
	s.Equal(int64(1), stats.TotalErrors)
	s.Require().NotEmpty(stats.ByCommand)
	s.Equal("pressure", stats.ByCommand[0].Name)
	s.Equal(int64(2), stats.ByCommand[0].Count)
}

func (s *CommandLogAPITestSuite) TestCleanup() {
	w := s.do(http.MethodPost, "/api/v1/commands/cleanup", url.Values{"retention_days": {"0"}})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/commands/cleanup", url.Values{})
	s.Require().Equal(http.StatusOK, w.Code)
	resp := decode[map[string]interface{}](s.T(), w)
	s.EqualValues(0, resp["deleted"])
	s.EqualValues(90, resp["retention_days"])
}

func (s *CommandLogAPITestSuite) TestExport() {
	w := s.do(http.MethodGet, "/api/v1/commands/export?has_error=false", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Contains(w.Header().Get("Content-Disposition"), "command_logs_export.json")

	logs := decode[[]*models.CommandLog](s.T(), w)
	s.Len(logs, 3)
}

func (s *CommandLogAPITestSuite) TestNotFound() {
	w := s.do(http.MethodGet, "/api/v1/unknown", nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal(int(errors.ErrNotFound), decode[errorResponse](s.T(), w).Error.Code)
}

func TestCommandLogAPITestSuite(t *testing.T) {
	suite.Run(t, new(CommandLogAPITestSuite))
}

func TestParseLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		target string
		want   int
	}{
		{"/?limit=5000", maxLimit},
		{"/", 10},
		{"/?limit=3", 3},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, tt.target, nil)

		limit, err := parseLimit(c, 10)
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.want, limit, tt.target)
	}
}
