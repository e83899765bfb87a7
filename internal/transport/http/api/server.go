package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quantdesk/internal/backtest"
	"quantdesk/internal/dashboard"
	"quantdesk/internal/logger"
	"quantdesk/internal/store/gormstore"
	"quantdesk/internal/strategy"
)

// Server 暴露回测、数据拉取与策略库的 REST 接口。
type Server struct {
	addr   string
	router *gin.Engine

	runner     *backtest.Runner
	results    *backtest.ResultStore
	fetch      *backtest.Service
	strategies *gormstore.GormStore
	hub        *dashboard.Hub
}

// ServerConfig 描述 HTTP 服务依赖。Strategies 与 Hub 可选。
type ServerConfig struct {
	Addr       string
	Runner     *backtest.Runner
	Results    *backtest.ResultStore
	Fetch      *backtest.Service
	Strategies *gormstore.GormStore
	Hub        *dashboard.Hub
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Runner == nil || cfg.Results == nil {
		return nil, errors.New("http server requires runner and result store")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9880"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:       cfg.Addr,
		router:     router,
		runner:     cfg.Runner,
		results:    cfg.Results,
		fetch:      cfg.Fetch,
		strategies: cfg.Strategies,
		hub:        cfg.Hub,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/backtest")
	api.POST("", s.handleRun)
	api.GET("", s.handleList)
	api.GET("/:id", s.handleGet)
	api.DELETE("/:id", s.handleDelete)
	api.GET("/:id/report", s.handleReport)

	if s.fetch != nil {
		api.POST("/fetch", s.handleFetch)
		api.GET("/fetch/:id", s.handleFetchStatus)
		api.GET("/jobs", s.handleJobs)
		api.GET("/data", s.handleManifest)
		api.GET("/candles", s.handleCandles)
	}

	if s.strategies != nil {
		grp := s.router.Group("/api/strategies")
		grp.POST("", s.handleStrategyCreate)
		grp.GET("", s.handleStrategyList)
		grp.GET("/types", s.handleStrategyTypes)
		grp.GET("/:id", s.handleStrategyGet)
		grp.PUT("/:id", s.handleStrategyUpdate)
		grp.DELETE("/:id", s.handleStrategyDelete)
	}

	if s.hub != nil {
		s.router.GET("/ws", s.hub.HandleUpgrade)
	}
}

// Router 暴露内部 gin.Engine，便于测试。
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleRun(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.runner.Run(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.StrategyID != "" && s.strategies != nil {
		if err := s.strategies.SetLastBacktest(c.Request.Context(), req.StrategyID, result.ID); err != nil {
			logger.Warnf("更新策略 %s 的最近回测失败: %v", req.StrategyID, err)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"result": result})
}

func (s *Server) handleList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := s.results.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": list})
}

func (s *Server) handleGet(c *gin.Context) {
	result, err := s.results.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, backtest.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.results.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, backtest.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReport(c *gin.Context) {
	result, err := s.results.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, backtest.ErrResultNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := backtest.RenderReport(c.Writer, result); err != nil {
		logger.Errorf("渲染报告 %s 失败: %v", result.ID, err)
	}
}

func (s *Server) handleFetch(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.fetch.SubmitFetch(backtest.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	job, ok := s.fetch.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.fetch.JobsSnapshot()})
}

func (s *Server) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.fetch.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	data, err := s.fetch.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *Server) handleStrategyCreate(c *gin.Context) {
	var req gormstore.StrategyRecord
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.strategies.CreateStrategy(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy": rec})
}

func (s *Server) handleStrategyList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := s.strategies.ListStrategies(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list})
}

func (s *Server) handleStrategyTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": strategy.Types()})
}

func (s *Server) handleStrategyGet(c *gin.Context) {
	rec, err := s.strategies.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gormstore.ErrStrategyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": rec})
}

func (s *Server) handleStrategyUpdate(c *gin.Context) {
	var req gormstore.StrategyRecord
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.ID = c.Param("id")
	rec, err := s.strategies.UpdateStrategy(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, gormstore.ErrStrategyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": rec})
}

func (s *Server) handleStrategyDelete(c *gin.Context) {
	if err := s.strategies.DeleteStrategy(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, gormstore.ErrStrategyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("HTTP 服务监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
