package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ftpgateway/core"
)

// StatusFor maps an error kind to the HTTP status of its envelope.
func StatusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindValidation, core.KindConfiguration, core.KindUnsupportedOperation:
		return http.StatusBadRequest
	case core.KindConnection, core.KindTransfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// responseSink renders gateway results onto an http.ResponseWriter. Download
// headers are staged until the first body byte, so a failure before that
// still becomes a JSON envelope.
type responseSink struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	committed bool
	download  bool
}

func newResponseSink(w http.ResponseWriter) *responseSink {
	return &responseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *responseSink) WriteEntries(entries []core.DirectoryEntry) error {
	if entries == nil {
		entries = []core.DirectoryEntry{}
	}
	return s.writeJSON(http.StatusOK, entries)
}

func (s *responseSink) WriteSuccess() error {
	return s.writeJSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *responseSink) BeginDownload(fileName string) (io.Writer, error) {
	h := s.w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", contentDisposition(fileName))
	h.Set("X-Content-Type-Options", "nosniff")
	s.download = true
	return &flushWriter{sink: s}, nil
}

// finish commits an empty download, which never wrote a byte.
func (s *responseSink) finish() {
	if s.download && !s.committed {
		s.committed = true
		s.w.WriteHeader(http.StatusOK)
	}
}

// fail writes the error envelope. It must not be called once committed.
func (s *responseSink) fail(err error) {
	if s.download {
		s.w.Header().Del("Content-Disposition")
		s.w.Header().Del("X-Content-Type-Options")
	}
	s.failStatus(StatusFor(err), err)
}

func (s *responseSink) failStatus(status int, err error) {
	_ = s.writeJSON(status, core.Envelope(err))
}

func (s *responseSink) writeJSON(status int, v any) error {
	s.committed = true
	s.w.Header().Set("Content-Type", "application/json")
	s.w.WriteHeader(status)
	return json.NewEncoder(s.w).Encode(v)
}

type flushWriter struct {
	sink *responseSink
}

func (f *flushWriter) Write(p []byte) (int, error) {
	f.sink.committed = true
	n, err := f.sink.w.Write(p)
	if err != nil {
		return n, err
	}
	_ = f.sink.rc.Flush()
	return n, nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "")

// contentDisposition quotes the name and adds an RFC 5987 filename* form for
// names outside ASCII.
func contentDisposition(name string) string {
	v := fmt.Sprintf(`attachment; filename="%s"`, quoteEscaper.Replace(name))
	for _, r := range name {
		if r > 127 {
			return v + "; filename*=UTF-8''" + url.PathEscape(name)
		}
	}
	return v
}
