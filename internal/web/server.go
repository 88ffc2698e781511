package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonstreeter/comfyui-archive-output/internal/archiver"
	"github.com/jonstreeter/comfyui-archive-output/internal/compressor"
	"github.com/jonstreeter/comfyui-archive-output/internal/config"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server exposes the archive and compression engines over HTTP and
// pushes live progress to WebSocket clients.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	archiver   *archiver.Engine
	compressor *compressor.Engine
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// archiveExecuteRequest overlays the default archive configuration;
// omitted fields keep their defaults.
type archiveExecuteRequest struct {
	FolderName     *string `json:"archive_folder_name"`
	SkipHidden     *bool   `json:"skip_hidden_files"`
	SkipExtensions *string `json:"skip_extensions"`
}

// compressExecuteRequest overlays the default compression configuration.
type compressExecuteRequest struct {
	TargetDirectory *string `json:"target_directory"`
	Quality         *int    `json:"quality"`
	OutputFormat    *string `json:"output_format"`
	DeleteOriginal  *bool   `json:"delete_original"`
	Recursive       *bool   `json:"recursive"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer wires both engines behind the HTTP API. The compressor's
// progress hook is claimed for WebSocket broadcasting.
func NewServer(cfg *config.Config, log *logrus.Logger, arch *archiver.Engine, comp *compressor.Engine) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		archiver:   arch,
		compressor: comp,
	}

	comp.SetProgressHook(func(snap compressor.Snapshot) {
		s.broadcastWSMessage("compress_progress", snap)
	})

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/archive/execute", s.handleArchiveExecute).Methods("POST")
	api.HandleFunc("/archive/status", s.handleArchiveStatus).Methods("GET")
	api.HandleFunc("/compress/execute", s.handleCompressExecute).Methods("POST")
	api.HandleFunc("/compress/progress", s.handleCompressProgress).Methods("GET")
	api.HandleFunc("/compress/cancel", s.handleCompressCancel).Methods("POST")
	api.HandleFunc("/compress/status", s.handleCompressStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleArchiveExecute runs the archive engine synchronously and returns
// its result. Two overlapping calls are the caller's problem; the engine
// itself is not coordinated across invocations.
func (s *Server) handleArchiveExecute(w http.ResponseWriter, r *http.Request) {
	req := archiver.DefaultRequest()
	if s.cfg != nil {
		req.FolderName = s.cfg.Archive.FolderName
		req.SkipHidden = s.cfg.Archive.SkipHidden
		req.SkipExtensions = s.cfg.Archive.SkipExtensions
	}

	// An empty body is fine; a malformed one is not.
	var overlay archiveExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&overlay); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if overlay.FolderName != nil {
		req.FolderName = *overlay.FolderName
	}
	if overlay.SkipHidden != nil {
		req.SkipHidden = *overlay.SkipHidden
	}
	if overlay.SkipExtensions != nil {
		req.SkipExtensions = *overlay.SkipExtensions
	}

	s.broadcastWSMessage("archive_started", map[string]interface{}{
		"archive_folder_name": req.FolderName,
	})

	result := s.archiver.Run(req)

	s.broadcastWSMessage("archive_completed", result)

	if !result.Success {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(result)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.archiver.Status(),
	})
}

// handleCompressExecute starts a compression batch in the background and
// returns immediately; clients poll /api/compress/progress.
func (s *Server) handleCompressExecute(w http.ResponseWriter, r *http.Request) {
	req := compressor.DefaultRequest()
	if s.cfg != nil {
		req.TargetDirectory = s.cfg.Compression.TargetDirectory
		req.Quality = s.cfg.Compression.Quality
		req.OutputFormat = s.cfg.Compression.OutputFormat
		req.DeleteOriginal = s.cfg.Compression.DeleteOriginal
		req.Recursive = s.cfg.Compression.Recursive
	}

	var overlay compressExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&overlay); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if overlay.TargetDirectory != nil {
		req.TargetDirectory = *overlay.TargetDirectory
	}
	if overlay.Quality != nil {
		req.Quality = *overlay.Quality
	}
	if overlay.OutputFormat != nil {
		req.OutputFormat = *overlay.OutputFormat
	}
	if overlay.DeleteOriginal != nil {
		req.DeleteOriginal = *overlay.DeleteOriginal
	}
	if overlay.Recursive != nil {
		req.Recursive = *overlay.Recursive
	}

	if err := s.compressor.Start(req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, compressor.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		s.writeError(w, err.Error(), status)
		return
	}

	s.broadcastWSMessage("compress_started", req)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Compression started",
		Data:    map[string]interface{}{"poll_progress": true},
	})
}

func (s *Server) handleCompressProgress(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.compressor.Progress(),
	})
}

func (s *Server) handleCompressCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.compressor.Cancel(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.broadcastWSMessage("compress_cancel_requested", nil)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Cancellation requested",
	})
}

func (s *Server) handleCompressStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.compressor.Status(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			// Remove failed connection
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
