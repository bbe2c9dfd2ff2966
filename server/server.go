// Package server exposes a session over HTTP so a capture front end can
// add, edit, reorder and export pages.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/wudi/pagescan/catalog"
	"github.com/wudi/pagescan/export"
	"github.com/wudi/pagescan/filters"
	"github.com/wudi/pagescan/observability"
	"github.com/wudi/pagescan/page"
	"github.com/wudi/pagescan/session"
	"github.com/wudi/pagescan/upload"
)

const maxUploadSize = 64 << 20

type Server struct {
	session *session.Session
	logger  observability.Logger
}

func New(s *session.Session, logger observability.Logger) *Server {
	return &Server{session: s, logger: observability.OrNop(logger)}
}

// Router returns the routes of the API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/pages", s.listPages).Methods(http.MethodGet)
	r.HandleFunc("/pages", s.addPage).Methods(http.MethodPost)
	r.HandleFunc("/pages/swap", s.swapPages).Methods(http.MethodPost)
	r.HandleFunc("/pages/{id}", s.getPage).Methods(http.MethodGet)
	r.HandleFunc("/pages/{id}", s.deletePage).Methods(http.MethodDelete)
	r.HandleFunc("/pages/{id}/original", s.getOriginal).Methods(http.MethodGet)
	r.HandleFunc("/pages/{id}/modified", s.getModified).Methods(http.MethodGet)
	r.HandleFunc("/pages/{id}/preview", s.getPreview).Methods(http.MethodGet)
	r.HandleFunc("/pages/{id}/filters", s.putFilters).Methods(http.MethodPut)
	r.HandleFunc("/pages/{id}/move", s.movePage).Methods(http.MethodPost)

	r.HandleFunc("/target", s.getTarget).Methods(http.MethodGet)
	r.HandleFunc("/target", s.putTarget).Methods(http.MethodPut)
	r.HandleFunc("/export", s.export).Methods(http.MethodPost)
	r.HandleFunc("/session", s.discard).Methods(http.MethodDelete)
	return r
}

type httpError struct {
	status int
	err    error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func badRequest(err error) error { return &httpError{status: http.StatusBadRequest, err: err} }

func statusOf(err error) int {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrNoTarget), errors.Is(err, export.ErrNoPages):
		return http.StatusConflict
	case errors.Is(err, image.ErrFormat):
		return http.StatusBadRequest
	case errors.Is(err, filters.ErrUnsupportedImage):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", observability.String("method", r.Method), observability.String("path", r.URL.Path), observability.Err(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Errorf("decode request: %w", err))
	}
	return nil
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	png.Encode(w, img)
}

func (s *Server) lookup(r *http.Request) (page.Page, int, error) {
	id := mux.Vars(r)["id"]
	p, ok := s.session.Page(id)
	if !ok {
		return page.Page{}, -1, fmt.Errorf("page %s: %w", id, catalog.ErrNotFound)
	}
	return p, s.session.Repository().Catalog().Index(id), nil
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	pages := s.session.Pages()
	out := make([]pageView, len(pages))
	for i, p := range pages {
		out[i] = viewOf(p, i)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	p, idx, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p, idx))
}

// addPage stores the multipart "file" part as a new page. The optional
// "contour" field holds eight comma separated normalized coordinates.
func (s *Server) addPage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.fail(w, r, badRequest(fmt.Errorf("parse upload: %w", err)))
		return
	}
	defer r.MultipartForm.RemoveAll()
	var contour *page.Contour
	if v := r.FormValue("contour"); v != "" {
		c, err := filters.ParseContour(v)
		if err != nil {
			s.fail(w, r, badRequest(err))
			return
		}
		contour = &c
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, badRequest(fmt.Errorf("missing file: %w", err)))
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "pagescan-upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.fail(w, r, err)
		return
	}
	if err := tmp.Close(); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.session.AddFile(r.Context(), tmp.Name(), contour)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, _ := s.session.Page(id)
	writeJSON(w, http.StatusCreated, viewOf(p, s.session.Repository().Catalog().Index(id)))
}

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Delete(mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getOriginal(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img, ok := s.session.Repository().ReadOriginal(p.ID)
	if !ok {
		s.fail(w, r, &httpError{status: http.StatusNotFound, err: fmt.Errorf("original of %s unavailable", p.ID)})
		return
	}
	writePNG(w, img)
}

func (s *Server) getModified(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	path, ok := s.session.Repository().ReadModifiedFile(p.ID)
	if !ok {
		s.fail(w, r, &httpError{status: http.StatusNotFound, err: fmt.Errorf("modified image of %s unavailable", p.ID)})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

// getPreview renders the original through the filters named in "filters"
// (all when absent). Query parameters of a filters edit preview parameters
// that are not committed yet.
func (s *Server) getPreview(w http.ResponseWriter, r *http.Request) {
	p, _, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	types := filters.AllFilters
	if v := q.Get("filters"); v != "" {
		if types, err = filters.ParseFilterTypes(v); err != nil {
			s.fail(w, r, badRequest(err))
			return
		}
	}
	req, err := previewRequest(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if p, err = req.apply(p); err != nil {
		s.fail(w, r, err)
		return
	}
	img, ok := s.session.Repository().ReadWithFilters(p, types...)
	if !ok {
		s.fail(w, r, &httpError{status: http.StatusUnprocessableEntity, err: fmt.Errorf("preview of %s unavailable", p.ID)})
		return
	}
	writePNG(w, img)
}

func (s *Server) putFilters(w http.ResponseWriter, r *http.Request) {
	var req filtersRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	p, err := s.session.Edit(id, req.apply)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p, s.session.Repository().Catalog().Index(id)))
}

func (s *Server) swapPages(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.session.Swap(req.A, req.B); err != nil {
		s.fail(w, r, err)
		return
	}
	s.listPages(w, r)
}

func (s *Server) movePage(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.session.Move(mux.Vars(r)["id"], req.Index); err != nil {
		s.fail(w, r, err)
		return
	}
	s.listPages(w, r)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	t, ok := s.session.Target()
	if !ok {
		s.fail(w, r, &httpError{status: http.StatusNotFound, err: upload.ErrNoTarget})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) putTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	t := req.Target
	if req.Raw != "" {
		parsed, err := upload.ParseTarget(req.Raw)
		if err != nil {
			s.fail(w, r, badRequest(err))
			return
		}
		t = parsed
	}
	if t.IsZero() {
		s.fail(w, r, badRequest(upload.ErrNoTarget))
		return
	}
	if err := s.session.SetTarget(t); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ft := export.PDF
	if req.Type != "" {
		var err error
		if ft, err = export.ParseFileType(req.Type); err != nil {
			s.fail(w, r, badRequest(err))
			return
		}
	}
	uris, err := s.session.Export(r.Context(), req.Name, ft, req.Upload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Files: uris})
}

func (s *Server) discard(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Discard(); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
