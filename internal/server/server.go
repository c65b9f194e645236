package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

// Server exposes one capture service over HTTP so a recording can be
// started and stopped from another device on the network.
type Server struct {
	service service.Service
	port    string
	mux     *http.ServeMux

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	current string
	last    *service.RecordResult
	lastErr string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string             `json:"status"`
	Message   string             `json:"message,omitempty"`
	Recording string             `json:"recording,omitempty"`
	Session   *audio.SessionInfo `json:"session,omitempty"`
	Last      *LastRecording     `json:"last,omitempty"`
	Profile   string             `json:"profile"`
	LastError string             `json:"last_error,omitempty"`
}

// LastRecording summarises the most recent finished recording
type LastRecording struct {
	Name       string  `json:"name"`
	WAVPath    string  `json:"wav_path"`
	DurationMs float64 `json:"duration_ms"`
	ByteLength int     `json:"byte_length"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Frames     int     `json:"frames"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files           []service.RecordingFileInfo `json:"files"`
	TotalCount      int                         `json:"total_count"`
	OutputDirectory string                      `json:"output_directory"`
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new web server instance
func New(svc service.Service, port string) *Server {
	s := &Server{
		service: svc,
		port:    port,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/start", s.handleStart)
	s.mux.HandleFunc("/stop", s.handleStop)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/api/files", s.handleFiles)
	s.mux.HandleFunc("/api/files/download/", s.handleFileDownload)
	s.mux.HandleFunc("/api/files/inspect/", s.handleFileInspect)
	s.mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then stops any running recording
// and shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting PCMCapture web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if _, err := s.stopRecording(); err != nil && !errors.Is(err, errNotRecording) {
		slog.Warn("Failed to stop recording on shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var (
	errAlreadyRecording = errors.New("a recording is already in progress")
	errNotRecording     = errors.New("no recording in progress")
)

// startRecording runs Record in the background until stopRecording.
func (s *Server) startRecording(name, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errAlreadyRecording
	}
	if profile != "" {
		if err := s.service.LoadProfile(profile); err != nil {
			return err
		}
	}
	if _, err := s.service.GetRecordingInfo(name); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done, s.current = cancel, done, name

	go func() {
		defer close(done)
		res, err := s.service.Record(ctx, name)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancel, s.done, s.current = nil, nil, ""
		s.lastErr = ""
		if err != nil {
			s.lastErr = err.Error()
			slog.Error("Server: recording failed", "name", name, "error", err)
			return
		}
		s.last = res
		slog.Info("Server: recording finished", "name", name, "path", res.WAVPath)
	}()

	return nil
}

// stopRecording cancels the running recording and waits for it to be saved.
func (s *Server) stopRecording() (*service.RecordResult, error) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil, errNotRecording
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != "" {
		return nil, errors.New(s.lastErr)
	}
	return s.last, nil
}

// handleStart begins a recording (IDLE -> RECORDING)
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	name := r.FormValue("name")
	profile := r.FormValue("profile")
	slog.Debug("Start request received", "name", name, "profile", profile)

	if name == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Recording name is required", "operation", "start")
		return
	}

	if err := s.startRecording(name, profile); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, errAlreadyRecording) {
			code = http.StatusConflict
		}
		s.sendErrorResponse(w, code, fmt.Sprintf("Failed to start recording: %v", err),
			"name", name, "profile", profile, "operation", "start")
		return
	}

	s.sendJSON(w, http.StatusAccepted, GenericResponse{Success: true, Message: audio.StartMessage})
}

// handleStop stops the current recording and reports the saved file
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	res, err := s.stopRecording()
	switch {
	case errors.Is(err, errNotRecording):
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "operation", "stop")
		return
	case err != nil:
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop recording: %v", err), "operation", "stop")
		return
	}

	s.sendJSON(w, http.StatusOK, lastRecording(res))
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, info := s.service.GetRecordingStatus()

	s.mu.Lock()
	resp := StatusResponse{
		Status:    string(status),
		Recording: s.current,
		Session:   info,
		Last:      lastRecording(s.last),
		Profile:   s.service.GetConfig().Profile,
		LastError: s.lastErr,
	}
	s.mu.Unlock()
	resp.Message = statusMessage(status, resp.Recording)

	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	files, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error(), "operation", "list_files")
		return
	}
	if files == nil {
		files = []service.RecordingFileInfo{}
	}

	s.sendJSON(w, http.StatusOK, FilesResponse{
		Files:           files,
		TotalCount:      len(files),
		OutputDirectory: s.service.GetConfig().Output.Directory,
	})
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filePath, filename, ok := s.resolveFile(w, strings.TrimPrefix(r.URL.Path, "/api/files/download/"))
	if !ok {
		return
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}

	contentType := audio.MIMEType
	if strings.HasSuffix(filename, ".pcm") {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))

	file, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		slog.Error("Error serving file download", "file", filename, "error", err)
	}
}

func (s *Server) handleFileInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filePath, filename, ok := s.resolveFile(w, strings.TrimPrefix(r.URL.Path, "/api/files/inspect/"))
	if !ok {
		return
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".wav") {
		s.sendErrorResponse(w, http.StatusBadRequest, "Only WAV files can be inspected")
		return
	}

	a, err := s.service.Inspect(filePath)
	if err != nil {
		code := http.StatusUnprocessableEntity
		if errors.Is(err, os.ErrNotExist) {
			code = http.StatusNotFound
		}
		s.sendErrorResponse(w, code, err.Error(), "file", filename, "operation", "inspect")
		return
	}
	s.sendJSON(w, http.StatusOK, a)
}

// resolveFile maps a request path segment to a file in the output directory.
func (s *Server) resolveFile(w http.ResponseWriter, filename string) (string, string, bool) {
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return "", "", false
	}
	// Prevent path traversal
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return "", "", false
	}
	lower := strings.ToLower(filename)
	if !strings.HasSuffix(lower, ".wav") && !strings.HasSuffix(lower, ".frames.pcm") {
		http.Error(w, "File type not supported", http.StatusForbidden)
		return "", "", false
	}
	return filepath.Join(s.service.GetConfig().Output.Directory, filename), filename, true
}

func lastRecording(res *service.RecordResult) *LastRecording {
	if res == nil || res.Recording == nil {
		return nil
	}
	return &LastRecording{
		Name:       res.CleanName,
		WAVPath:    res.WAVPath,
		DurationMs: res.Recording.DurationMs,
		ByteLength: res.Recording.ByteLength,
		SampleRate: res.Recording.SampleRate,
		Channels:   res.Recording.Channels,
		Frames:     res.Frames,
	}
}

func statusMessage(status audio.Status, name string) string {
	switch status {
	case audio.StatusArmed:
		return "Waiting for the input device"
	case audio.StatusRecording:
		return fmt.Sprintf("Recording %s", name)
	case audio.StatusStopped:
		return "Recording saved"
	default:
		return "Ready to record"
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	slog.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
