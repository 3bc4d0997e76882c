package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"migrationScope/internal/aggregate"
	"migrationScope/internal/model"
	"migrationScope/internal/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func uintQuery(c *gin.Context, name string, def uint64) (uint64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

func (s *Server) loadRecords(c *gin.Context) ([]model.MigrationRecord, bool) {
	records, err := s.cfg.Store.QueryRecords(c.Request.Context(), store.RecordFilter{})
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return records, true
}

func (s *Server) getHealth(c *gin.Context) {
	if _, err := s.cfg.Store.CountRecords(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getDashboard returns the full analytics bundle in one payload.
func (s *Server) getDashboard(c *gin.Context) {
	records, ok := s.loadRecords(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, aggregate.BuildReport(records, s.cfg.ReportOptions))
}

func (s *Server) getStatistics(c *gin.Context) {
	records, ok := s.loadRecords(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, aggregate.Summarize(records))
}

// getDailyStats serves the cached snapshots, computing them live when the
// cache is empty.
func (s *Server) getDailyStats(c *gin.Context) {
	snapshots, err := s.cfg.Store.LoadDailySnapshots(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(snapshots) == 0 {
		records, ok := s.loadRecords(c)
		if !ok {
			return
		}
		snapshots = aggregate.Snapshots(records)
	}
	if snapshots == nil {
		snapshots = []model.DailySnapshot{}
	}
	c.JSON(http.StatusOK, snapshots)
}

func (s *Server) getDistribution(c *gin.Context) {
	records, ok := s.loadRecords(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, aggregate.Distribution(records, s.cfg.ReportOptions.BinEdges))
}

func (s *Server) getSourceBreakdown(c *gin.Context) {
	records, ok := s.loadRecords(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, aggregate.SourceBreakdown(records))
}

func (s *Server) getMigrations(c *gin.Context) {
	fromBlock, err := uintQuery(c, "from_block", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	toBlock, err := uintQuery(c, "to_block", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	limit, err := intQuery(c, "limit", defaultPageSize)
	if err != nil {
		badRequest(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		badRequest(c, err)
		return
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	filter := store.RecordFilter{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Limit:     limit,
		Offset:    offset,
	}
	if raw := c.Query("source"); raw != "" {
		source := model.SourceClass(strings.ToLower(strings.TrimSpace(raw)))
		if !source.Valid() {
			badRequest(c, fmt.Errorf("invalid source %q", raw))
			return
		}
		filter.Source = source
	}

	records, err := s.cfg.Store.QueryRecords(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []model.MigrationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"migrations": records,
		"count":      len(records),
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) getLargeMigrations(c *gin.Context) {
	threshold := s.cfg.ReportOptions.LargeThreshold
	if threshold.IsZero() {
		threshold = aggregate.DefaultLargeThreshold
	}
	if raw := c.Query("threshold"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			badRequest(c, fmt.Errorf("invalid threshold %q", raw))
			return
		}
		threshold = parsed
	}

	records, ok := s.loadRecords(c)
	if !ok {
		return
	}
	large := aggregate.LargeMigrations(records, threshold)
	if large == nil {
		large = []model.MigrationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"threshold":  threshold,
		"migrations": large,
		"count":      len(large),
	})
}

func (s *Server) getByAddress(c *gin.Context) {
	raw := c.Param("address")
	if !common.IsHexAddress(raw) {
		badRequest(c, fmt.Errorf("invalid address %q", raw))
		return
	}
	addr := model.NormalizeAddress(common.HexToAddress(raw).Hex())

	records, err := s.cfg.Store.QueryByAddress(c.Request.Context(), addr)
	if err != nil {
		s.fail(c, err)
		return
	}
	if records == nil {
		records = []model.MigrationRecord{}
	}

	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.ScaledAmount)
	}
	c.JSON(http.StatusOK, gin.H{
		"address":      addr,
		"count":        len(records),
		"total_scaled": total,
		"migrations":   records,
	})
}

func (s *Server) getSyncStatus(c *gin.Context) {
	if s.cfg.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync status unavailable"})
		return
	}
	status, err := s.cfg.Status.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getRate(c *gin.Context) {
	days, err := intQuery(c, "days", s.cfg.RateWindowDays)
	if err != nil {
		badRequest(c, err)
		return
	}
	if days < 1 {
		badRequest(c, fmt.Errorf("days must be positive, got %d", days))
		return
	}

	records, ok := s.loadRecords(c)
	if !ok {
		return
	}
	window := time.Duration(days) * 24 * time.Hour
	c.JSON(http.StatusOK, aggregate.RateOverWindow(records, window, time.Now().UTC()))
}
