package core

import (
	"errors"
	"time"

	"github.com/samber/lo"

	"ftpgateway/protocols"
)

type EntryKind string

const (
	EntryFile      EntryKind = "file"
	EntryDirectory EntryKind = "directory"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DirectoryEntry is one element of a list result. ModifiedAt is nil when the
// server did not report a time, which renders as JSON null.
type DirectoryEntry struct {
	Name       string    `json:"name"`
	Kind       EntryKind `json:"type"`
	Size       int64     `json:"size"`
	ModifiedAt *string   `json:"modifiedAt"`
}

// ErrorEnvelope is the body of every failed response.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// KindOfEntry collapses the raw type code: anything that is not a plain file
// is treated as a directory.
func KindOfEntry(t protocols.EntryType) EntryKind {
	if t == protocols.EntryTypeFile {
		return EntryFile
	}
	return EntryDirectory
}

// NormalizeEntries keeps server order and drops the "." and ".." entries.
func NormalizeEntries(raw []protocols.FileEntry) []DirectoryEntry {
	kept := lo.Filter(raw, func(e protocols.FileEntry, _ int) bool {
		return e.Name != "." && e.Name != ".."
	})
	return lo.Map(kept, func(e protocols.FileEntry, _ int) DirectoryEntry {
		return NormalizeEntry(e)
	})
}

func NormalizeEntry(e protocols.FileEntry) DirectoryEntry {
	kind := KindOfEntry(e.Type)
	size := e.Size
	if kind == EntryDirectory || size < 0 {
		size = 0
	}
	return DirectoryEntry{
		Name:       e.Name,
		Kind:       kind,
		Size:       size,
		ModifiedAt: FormatTimestamp(e.ModTime),
	}
}

func FormatTimestamp(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	return lo.ToPtr(t.UTC().Format(TimestampLayout))
}

// Envelope renders any error for the caller. The message is the short
// description, the details keep the whole chain.
func Envelope(err error) ErrorEnvelope {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ErrorEnvelope{Error: ge.Error(), Details: ge.Details()}
	}
	return ErrorEnvelope{Error: err.Error(), Details: "Error: " + err.Error()}
}
