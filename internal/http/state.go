package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"eduvia/portal/internal/appstate"
	"eduvia/portal/internal/asset"
	"eduvia/portal/internal/session"
)

const (
	stateCookie    = "portal_state"
	maxActionBytes = 4 << 10
	maxUploadBytes = 5 << 20
)

// stateID returns the visitor's state id, issuing one on first use.
func (s *Server) stateID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(stateCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	ttl := s.cfg.StateTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    id,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl / time.Second),
	})
	return id
}

type stateResponse struct {
	State    appstate.State     `json:"state"`
	Sections []appstate.Section `json:"sections"`
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.State.Load(r.Context(), s.stateID(w, r))
	if err != nil {
		s.logger.Error("state load failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state, Sections: appstate.Sections()})
}

func (s *Server) handleStateAction(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxActionBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	action, err := appstate.DecodeAction(raw)
	if err != nil {
		if errors.Is(err, appstate.ErrUnknownAction) {
			writeError(w, http.StatusBadRequest, "unknown_action")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	state, err := appstate.Apply(r.Context(), s.deps.State, s.stateID(w, r), action)
	if err != nil {
		s.logger.Error("state update failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state, Sections: appstate.Sections()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Uploads == nil {
		writeError(w, http.StatusNotFound, "uploads_disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()

	// The declared part type is ignored; the content decides.
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_upload")
		return
	}
	if n == 0 {
		writeError(w, http.StatusBadRequest, "empty_upload")
		return
	}
	head = head[:n]
	contentType := sniffContentType(head)
	if !strings.HasPrefix(contentType, "image/") && contentType != "application/pdf" {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_file_type")
		return
	}
	url, err := s.deps.Uploads.Upload(r.Context(), asset.File{
		Name:        filepath.Base(header.Filename),
		ContentType: contentType,
		Body:        io.MultiReader(bytes.NewReader(head), file),
	})
	if err != nil {
		if errors.Is(err, asset.ErrEmptyUpload) {
			writeError(w, http.StatusBadRequest, "empty_upload")
			return
		}
		s.writeUpstreamError(w, "upload", err)
		return
	}
	profile, _ := session.ProfileFromContext(r.Context())
	s.logger.Info("asset uploaded", "user_id", profile.UserID, "role", string(profile.Role), "url", url)
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

func sniffContentType(head []byte) string {
	contentType := http.DetectContentType(head)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return contentType
}
