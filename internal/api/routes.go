package api

// setupRoutes configures the run-status / event-streaming surface. The runs
// group is gated by AuthMiddleware when api.auth.enabled is set; otherwise
// it passes every request through unchanged.
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		runs := v1.Group("/runs")
		runs.Use(AuthMiddleware(s.authStore, s.authCfg))
		{
			runs.POST("", s.handleCreateRun)
			runs.GET("", s.handleListRuns)
			runs.GET("/:id", s.handleGetRun)
			runs.DELETE("/:id", s.handleDeleteRun)
			runs.GET("/:id/events", s.handleRunEvents)
		}
	}

	s.router.GET("/", s.handleRoot)
}
