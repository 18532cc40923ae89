package core

import (
	"fmt"
	"net/http"

	"sevino/internal/engine"
)

// Server ties a storage engine to the HTTP transport described by Config.
type Server struct {
	Engine *engine.Engine
	Config Config
}

// NewServer constructs the engine from cfg's data directory and size cap.
func NewServer(cfg Config) (*Server, error) {
	eng, err := engine.New(engine.Config{
		DataDir:     cfg.DataDir,
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize storage engine: %w", err)
	}
	return &Server{Engine: eng, Config: cfg}, nil
}

// Handler returns the fully wired http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return Handler(NewHandlers(s.Engine), s.Config)
}

// Addr formats the host:port this server's Config requests.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
}
