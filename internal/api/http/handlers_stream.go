package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"moviestream/internal/domain"
	"moviestream/internal/usecase"
)

const maxRequestBodyBytes = 64 << 10

type createStreamRequest struct {
	Source  domain.TorrentSource `json:"source"`
	MovieID domain.MovieID       `json:"movieId"`
}

type createStreamResponse struct {
	StreamURL domain.ContentHash `json:"streamUrl"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateStream(w, r)
	case http.MethodGet, http.MethodHead:
		s.handleServeStream(w, r)
	default:
		allowMethods(w, r, http.MethodGet, http.MethodHead, http.MethodPost)
	}
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	if s.resolveSource == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "stream creation not configured")
		return
	}

	var req createStreamRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	resolved, err := s.resolveSource.Execute(r.Context(), usecase.ResolveSourceInput{
		Source:  req.Source,
		MovieID: req.MovieID,
	})
	if err != nil {
		s.logger.Warn("stream source rejected",
			slog.Int64("movieId", int64(req.MovieID)),
			slog.String("error", err.Error()),
		)
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createStreamResponse{StreamURL: resolved.Hash})
}

func (s *Server) handleServeStream(w http.ResponseWriter, r *http.Request) {
	if s.serveStream == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "streaming not configured")
		return
	}
	hash, err := hashFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	log := s.logger.With(slog.String("contentHash", string(hash)))

	var result *usecase.StreamResult
	if r.Method == http.MethodHead {
		var ok bool
		result, ok, err = s.serveStream.OpenCached(r.Context(), hash)
		if err == nil && !ok {
			err = domain.ErrUnknownHash
		}
	} else {
		result, err = s.serveStream.Execute(r.Context(), hash)
	}
	if err != nil {
		if r.Context().Err() != nil {
			log.Debug("stream request cancelled", slog.String("error", err.Error()))
			return
		}
		if !errors.Is(err, domain.ErrUnknownHash) {
			log.Error("stream open failed", slog.String("error", err.Error()))
		}
		writeUseCaseError(w, err)
		return
	}
	defer result.Close()

	if rs, ok := result.Seekable(); ok {
		s.serveRange(w, r, result, rs, log)
		return
	}
	s.serveTranscoded(w, r, result, log)
}

func (s *Server) serveRange(w http.ResponseWriter, r *http.Request, result *usecase.StreamResult, rs io.ReadSeeker, log *slog.Logger) {
	rng, err := parseByteRange(r.Header.Get("Range"), result.Size, s.chunkSize)
	if err != nil {
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", result.Size))
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "range not satisfiable")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_range", "invalid range header")
		return
	}

	if rng.Start > 0 {
		if _, err := rs.Seek(rng.Start, io.SeekStart); err != nil {
			log.Error("stream seek failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "seek failed")
			return
		}
	}

	h := w.Header()
	h.Set("Content-Type", result.ContentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	if rng.Partial() {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, result.Size))
	}
	w.WriteHeader(rng.Status)
	if r.Method == http.MethodHead || rng.Length() <= 0 {
		return
	}

	if _, err := io.CopyN(w, rs, rng.Length()); err != nil && r.Context().Err() == nil {
		log.Warn("stream copy interrupted",
			slog.String("source", string(result.Source)),
			slog.Int64("start", rng.Start),
			slog.String("error", err.Error()),
		)
	}
}

// serveTranscoded streams encoder output as it is produced. The length is
// unknown, so the response carries neither Content-Length nor Content-Range.
func (s *Server) serveTranscoded(w http.ResponseWriter, r *http.Request, result *usecase.StreamResult, log *slog.Logger) {
	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 256<<10)
	for {
		n, err := result.Reader.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			if r.Context().Err() == nil {
				log.Error("live transcode aborted", slog.String("error", err.Error()))
				panic(http.ErrAbortHandler)
			}
			return
		}
	}
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.sessionState == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "session state not configured")
		return
	}
	hash, err := hashFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	state, err := s.sessionState.Execute(r.Context(), hash)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
