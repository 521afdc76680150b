package core

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Protocol string

const (
	ProtocolFTP   Protocol = "ftp"
	ProtocolFTPS  Protocol = "ftps"
	ProtocolSFTP  Protocol = "sftp"
	ProtocolLocal Protocol = "local"
)

// DefaultPort returns the well-known port of the protocol.
func (p Protocol) DefaultPort() int {
	if p == ProtocolSFTP {
		return 22
	}
	return 21
}

// ConnectionParameters describe the remote server of a single request.
// They are never persisted.
type ConnectionParameters struct {
	Host     string   `json:"host" validate:"required,host"`
	Port     int      `json:"port,omitempty" validate:"min=1,max=65535"`
	User     string   `json:"user"`
	Password string   `json:"password"`
	Protocol Protocol `json:"protocol,omitempty" validate:"oneof=ftp ftps sftp local"`
}

// String omits the password so parameters can be logged.
func (p ConnectionParameters) String() string {
	return fmt.Sprintf("%s://%s@%s", p.Protocol, p.User, p.Address())
}

// Address is host:port.
func (p ConnectionParameters) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("host", func(fl validator.FieldLevel) bool {
		return validHost(fl.Field().String())
	})
	return v
}

// validHost accepts an IP address or a dotted name. Underscores are allowed
// in labels since internal hosts such as ftp_server use them.
func validHost(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if len(label) == 0 || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r == '-' || r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				return false
			}
		}
	}
	return true
}

// Resolver turns the connection part of a request into ConnectionParameters.
type Resolver struct {
	allowed map[Protocol]bool
}

// NewResolver accepts only the listed protocols. An empty list allows ftp, ftps and sftp.
func NewResolver(protocols []string) *Resolver {
	if len(protocols) == 0 {
		protocols = []string{string(ProtocolFTP), string(ProtocolFTPS), string(ProtocolSFTP)}
	}
	allowed := make(map[Protocol]bool, len(protocols))
	for _, p := range protocols {
		allowed[Protocol(strings.ToLower(strings.TrimSpace(p)))] = true
	}
	return &Resolver{allowed: allowed}
}

// Resolve applies defaults and validates raw. It never touches the network.
func (r *Resolver) Resolve(raw *ConnectionParameters) (ConnectionParameters, error) {
	if raw == nil {
		return ConnectionParameters{}, configurationError("connection parameters are required")
	}
	params := *raw
	params.Host = strings.TrimSpace(params.Host)
	if params.Host == "" {
		return ConnectionParameters{}, configurationError("connection parameter host is required")
	}
	params.Protocol = Protocol(strings.ToLower(string(params.Protocol)))
	if params.Protocol == "" {
		params.Protocol = ProtocolFTP
	}
	if params.Port == 0 {
		params.Port = params.Protocol.DefaultPort()
	}

	if err := validate.Struct(params); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return ConnectionParameters{}, configurationError("invalid connection parameter %s: %v", fe.Field(), fe.Value())
		}
		return ConnectionParameters{}, configurationError("invalid connection parameters: %v", err)
	}
	if !r.allowed[params.Protocol] {
		return ConnectionParameters{}, configurationError("protocol %s is not enabled", params.Protocol)
	}
	return params, nil
}

// ParamsFromQuery reads host, port, user, password and protocol from a query string.
func ParamsFromQuery(q url.Values) (*ConnectionParameters, error) {
	params := &ConnectionParameters{
		Host:     q.Get("host"),
		User:     q.Get("user"),
		Password: q.Get("password"),
		Protocol: Protocol(q.Get("protocol")),
	}
	if raw := q.Get("port"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, configurationError("invalid connection parameter port: %s", raw)
		}
		params.Port = port
	}
	return params, nil
}
