package xmltv

import (
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// EPGPath resolves a per-user target name to the on-disk EPG file the
// target's ingestion run last wrote (repository.TargetPaths.EPGExport).
type EPGPath func(targetName string) (string, error)

// Timeshift resolves the requesting user's epg_timeshift setting, empty
// when unset.
type Timeshift func(r *http.Request) string

// Server serves xmltv.php/epg.xml for every configured target.
type Server struct {
	EPGPath   EPGPath
	Timeshift Timeshift
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/{target}/xmltv.php", s.handleEPG)
	r.Get("/{target}/epg.xml", s.handleEPG)
	return r
}

func (s *Server) handleEPG(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	path, err := s.EPGPath(target)
	if err != nil {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_ = WriteEmpty(w)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_ = WriteEmpty(w)
		return
	}
	defer f.Close()

	var rawShift string
	if s.Timeshift != nil {
		rawShift = s.Timeshift(r)
	}
	offset, hasShift := ParseTimeshift(rawShift)

	w.Header().Set("Content-Type", "text/xml")
	if !hasShift {
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, f)
		return
	}

	enc := NegotiateEncoding(r.Header.Get("Accept-Encoding"))
	if enc != EncodingIdentity {
		w.Header().Set("Content-Encoding", string(enc))
	}
	w.WriteHeader(http.StatusOK)
	_ = ServeTimeshifted(w, f, offset, enc)
}
