package core

import (
	"encoding/base64"
	"net/url"
	"path"
	"strings"

	"github.com/samber/lo"
)

type Operation string

const (
	OpList      Operation = "list"
	OpDownload  Operation = "download"
	OpUpload    Operation = "upload"
	OpDelete    Operation = "delete"
	OpCreateDir Operation = "createDir"
	OpRename    Operation = "rename"
)

var operations = []Operation{OpList, OpDownload, OpUpload, OpDelete, OpCreateDir, OpRename}

// Known reports whether the gateway implements the operation.
func (o Operation) Known() bool {
	return lo.Contains(operations, o)
}

// ReadOnly reports whether the operation never modifies the remote side.
func (o Operation) ReadOnly() bool {
	return o == OpList || o == OpDownload
}

// OperationRequest is the request contract shared by the JSON body and the
// query-string form.
type OperationRequest struct {
	Operation            Operation             `json:"operation"`
	Path                 string                `json:"path"`
	Content              *string               `json:"content,omitempty"`
	Encoding             string                `json:"encoding,omitempty"`
	NewName              *string               `json:"newName,omitempty"`
	ConnectionParameters *ConnectionParameters `json:"connectionParameters,omitempty"`

	// ReadOnly restricts the request to operations that never modify the
	// remote side. Query-string requests set it.
	ReadOnly bool `json:"-"`
}

// ParseQuery builds a request from query parameters. The operation defaults
// to download so a plain link can fetch a file.
func ParseQuery(q url.Values) (*OperationRequest, error) {
	params, err := ParamsFromQuery(q)
	if err != nil {
		return nil, err
	}
	op := Operation(q.Get("operation"))
	if op == "" {
		op = OpDownload
	}
	req := &OperationRequest{
		Operation:            op,
		Path:                 q.Get("path"),
		ConnectionParameters: params,
		ReadOnly:             true,
	}
	if q.Has("newName") {
		newName := q.Get("newName")
		req.NewName = &newName
	}
	return req, nil
}

// ParseCommand validates req and returns the command it names. No remote
// call happens before this succeeds.
func ParseCommand(req *OperationRequest) (Command, error) {
	if req == nil {
		return nil, validationError("request body is required")
	}
	if !req.Operation.Known() {
		return nil, unsupportedOperation(string(req.Operation))
	}
	if req.ReadOnly && !req.Operation.ReadOnly() {
		return nil, validationError("operation %q requires POST", req.Operation)
	}

	switch req.Operation {
	case OpList:
		p := cleanPath(req.Path)
		if p == "" {
			p = "/"
		}
		return &ListCommand{Path: p}, nil

	case OpDownload:
		p, err := requirePath(req)
		if err != nil {
			return nil, err
		}
		return &DownloadCommand{Path: p}, nil

	case OpUpload:
		p, err := requirePath(req)
		if err != nil {
			return nil, err
		}
		if req.Content == nil {
			return nil, validationError("content is required for upload")
		}
		content, err := decodeContent(*req.Content, req.Encoding)
		if err != nil {
			return nil, err
		}
		return &UploadCommand{Path: p, Content: content}, nil

	case OpDelete:
		p, err := requirePath(req)
		if err != nil {
			return nil, err
		}
		if p == "/" {
			return nil, validationError("refusing to delete the root directory")
		}
		return &DeleteCommand{Path: p}, nil

	case OpCreateDir:
		p, err := requirePath(req)
		if err != nil {
			return nil, err
		}
		return &CreateDirCommand{Path: p}, nil

	case OpRename:
		p, err := requirePath(req)
		if err != nil {
			return nil, err
		}
		if req.NewName == nil || strings.TrimSpace(*req.NewName) == "" {
			return nil, validationError("newName is required for rename")
		}
		if p == "/" {
			return nil, validationError("refusing to rename the root directory")
		}
		dest := renameTarget(p, *req.NewName)
		if dest == "/" || dotSegment(*req.NewName) {
			return nil, validationError("newName %q does not name a location", *req.NewName)
		}
		return &RenameCommand{Path: p, Destination: dest}, nil

	default:
		return nil, unsupportedOperation(string(req.Operation))
	}
}

func requirePath(req *OperationRequest) (string, error) {
	p := cleanPath(req.Path)
	if p == "" {
		return "", validationError("path is required for %s", req.Operation)
	}
	return p, nil
}

// cleanPath returns an absolute, slash-delimited path, or "" for blank input.
func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean("/" + p)
}

// renameTarget resolves a bare name against the parent of from; anything
// containing a slash is taken as the full destination.
func renameTarget(from, newName string) string {
	newName = strings.TrimSpace(newName)
	if strings.Contains(newName, "/") {
		return path.Clean("/" + newName)
	}
	return path.Join(path.Dir(from), newName)
}

// dotSegment reports whether the last segment of name is "." or "..".
func dotSegment(name string) bool {
	name = strings.TrimSpace(name)
	last := name[strings.LastIndex(name, "/")+1:]
	return last == "." || last == ".."
}

func decodeContent(content, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "", "utf8", "utf-8", "text":
		return []byte(content), nil
	case "base64":
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, validationError("content is not valid base64: %v", err)
		}
		return data, nil
	default:
		return nil, validationError("unsupported content encoding %q", encoding)
	}
}

// downloadName is the last path segment, or "download" for the root.
func downloadName(p string) string {
	name := path.Base(p)
	if name == "/" || name == "." || name == "" {
		return "download"
	}
	return name
}
