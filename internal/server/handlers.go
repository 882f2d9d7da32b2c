package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/laboras/laboras/internal/recorder"
	"github.com/laboras/laboras/internal/service"
	"github.com/laboras/laboras/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "ok"})
}

// handleStatus returns the current recording status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.service.GetRecordingStatus()
	s.sendJSON(w, http.StatusOK, StatusResponse{
		Success: true,
		Status:  status,
		Message: statusMessage(status),
		Config:  s.resolvedConfig(),
	})
}

func statusMessage(st service.RecordingStatus) string {
	switch st.State {
	case recorder.Recording:
		return fmt.Sprintf("Recording %s", st.SessionID)
	case recorder.Paused:
		return fmt.Sprintf("Paused %s", st.SessionID)
	case recorder.Stopping:
		return "Finishing recording"
	case recorder.Failed:
		return fmt.Sprintf("Recording failed: %s", st.Error)
	}
	if st.PendingSession != "" {
		return fmt.Sprintf("Session %s ready to record", st.PendingSession)
	}
	return "Idle"
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.GetStats()
	if err != nil {
		s.sendServiceError(w, "stats", err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "stats": stats})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "config": s.resolvedConfig()})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "settings": s.service.GetSettings()})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings store.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "save_settings")
		return
	}
	if err := s.service.SaveSettings(settings); err != nil {
		s.sendServiceError(w, "save_settings", err)
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Settings saved"})
}

// handleCreateSession creates a session and, unless ?start=false, starts recording it
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "create_session")
			return
		}
	}

	var (
		session *store.Session
		err     error
	)
	if r.URL.Query().Get("start") == "false" {
		session, err = s.service.CreateSession(req)
	} else {
		session, err = s.service.StartSession(req)
	}
	if err != nil {
		s.sendServiceError(w, "create_session", err)
		return
	}

	slog.Info("Server: session created", "session", session.ID, "status", session.Status)
	s.sendJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "session": session})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.StartRecording(mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "start_recording", err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session": session})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PauseRecording(); err != nil {
		s.sendServiceError(w, "pause_recording", err)
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ResumeRecording(); err != nil {
		s.sendServiceError(w, "resume_recording", err)
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Recording resumed"})
}

// handleStop stops the current recording and returns its summary
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.StopRecording()
	if err != nil {
		s.sendServiceError(w, "stop_recording", err)
		return
	}
	message := "Recording stopped"
	if summary.Cancelled {
		message = "Session cancelled"
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
		"summary": summary,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions()
	if err != nil {
		s.sendServiceError(w, "list_sessions", err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "get_session", err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session": session})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var details service.SessionDetails
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "update_session")
		return
	}
	session, err := s.service.UpdateSessionDetails(mux.Vars(r)["id"], details)
	if err != nil {
		s.sendServiceError(w, "update_session", err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session": session})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.service.DeleteSession(id); err != nil {
		s.sendServiceError(w, "delete_session", err)
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: fmt.Sprintf("Session %s deleted", id)})
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.AssembleSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "assemble_session", err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "summary": summary})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	uploaded, err := s.service.ArchiveSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "archive_session", err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "archive": uploaded})
}

// handleVideo streams the final video with range support
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	path, err := s.service.VideoPath(mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "stream_video", err)
		return
	}
	s.serveFile(w, r, path)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "thumbnail", err)
		return
	}
	if session.ThumbnailPath == "" {
		s.sendErrorResponse(w, http.StatusNotFound, "Thumbnail not available", "session", session.ID)
		return
	}
	s.serveFile(w, r, session.ThumbnailPath)
}

func (s *Server) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.service.GetNotes(mux.Vars(r)["id"])
	if err != nil {
		s.sendServiceError(w, "get_notes", err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"success": true, "notes": notes})
}

func (s *Server) handleSaveNotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes []store.Note `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "save_notes")
		return
	}
	if err := s.service.SaveNotes(mux.Vars(r)["id"], body.Notes); err != nil {
		s.sendServiceError(w, "save_notes", err)
		return
	}
	s.sendJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "Notes saved"})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	file, err := os.Open(path)
	if err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, "File not found", "path", path)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Error accessing file", "path", path)
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), file)
}
