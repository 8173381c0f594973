package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleGetHealth)

		runs := v1.Group("/optimizations")
		{
			runs.POST("", s.handleStartOptimization)
			runs.GET("", s.handleListOptimizations)
			runs.GET("/:id", s.handleGetOptimization)
			runs.DELETE("/:id", s.handleCancelOptimization)
			runs.GET("/:id/report", s.handleGetReport)
			runs.GET("/:id/stream", s.handleStreamOptimization)
		}

		domains := v1.Group("/domains")
		{
			domains.GET("", s.handleListDomains)
			domains.GET("/:strategy", s.handleGetDomains)
		}

		v1.GET("/audit", s.handleListAuditEvents)
	}

	s.router.GET("/health", s.handleGetHealth)
	s.router.GET("/", s.handleRoot)
}
