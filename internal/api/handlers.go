package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	apperrors "github.com/navinbhat12/rewindify/internal/common/errors"
	"github.com/navinbhat12/rewindify/internal/ingest"
)

const multipartMemory = 32 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sessionID reads the session header, falling back to the query string.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("session_id")
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(rt.checks))
	for name, check := range rt.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "dependencies": deps})
}

func (rt *Router) createSession(w http.ResponseWriter, r *http.Request) {
	info, err := rt.svc.CreateSession(r.Context())
	if err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (rt *Router) endSession(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.EndSession(r.Context(), sessionID(r)); err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	if sessionID(r) == "" {
		rt.errHandler.HandleHTTPError(w, r, apperrors.NewSessionInvalidError(""))
		return
	}
	if err := rt.svc.ValidateSession(r.Context(), sessionID(r)); err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}

	req, err := rt.parseUpload(w, r)
	if err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}

	res, err := rt.svc.Ingest(r.Context(), *req)
	if err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) parseUpload(w http.ResponseWriter, r *http.Request) (*ingest.ChunkRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid multipart upload: %v", err))
	}

	req := &ingest.ChunkRequest{SessionID: sessionID(r), ChunkTotal: 1}
	ints := []struct {
		field string
		dst   *int
	}{
		{"chunk_index", &req.ChunkIndex},
		{"chunk_total", &req.ChunkTotal},
		{"file_part_index", &req.FilePartIndex},
		{"file_part_total", &req.FilePartTotal},
	}
	for _, f := range ints {
		raw := r.FormValue(f.field)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("%s must be an integer", f.field))
		}
		*f.dst = n
	}

	for _, fh := range r.MultipartForm.File["files"] {
		file, err := fh.Open()
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("reading %s: %v", fh.Filename, err))
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("reading %s: %v", fh.Filename, err))
		}
		req.Files = append(req.Files, ingest.File{Name: fh.Filename, Data: data})
	}
	return req, nil
}

func (rt *Router) daily(w http.ResponseWriter, r *http.Request) {
	series, err := rt.svc.DailySeries(r.Context(), sessionID(r))
	if err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (rt *Router) tracks(w http.ResponseWriter, r *http.Request) {
	plays, err := rt.svc.EventsForDate(r.Context(), sessionID(r), chi.URLParam(r, "date"))
	if err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plays)
}

func (rt *Router) allTimeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.svc.AllTimeStats(r.Context(), sessionID(r))
	if err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) clear(w http.ResponseWriter, r *http.Request) {
	res, err := rt.svc.Clear(r.Context(), sessionID(r))
	if err != nil {
		rt.errHandler.HandleHTTPError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
