package core

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Gateway runs one operation request against a fresh session.
type Gateway struct {
	opener   Opener
	resolver *Resolver
	conduit  *Conduit
	history  *HistoryManager
	log      *zap.Logger
}

// NewGateway wires the gateway. history may be nil.
func NewGateway(opener Opener, resolver *Resolver, conduit *Conduit, history *HistoryManager, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		opener:   opener,
		resolver: resolver,
		conduit:  conduit,
		history:  history,
		log:      log,
	}
}

// Execute resolves the connection parameters, parses the command, opens a
// session, runs the command and closes the session on every path. All
// returned errors are *GatewayError.
func (g *Gateway) Execute(ctx context.Context, requestID string, req *OperationRequest, out ResultWriter) error {
	start := time.Now()
	rec := Record{ID: requestID, StartedAt: start}
	if req != nil {
		rec.Operation = string(req.Operation)
		rec.Path = req.Path
	}

	n, err := g.execute(ctx, req, out, &rec)

	rec.Bytes = n
	rec.DurationMs = time.Since(start).Milliseconds()
	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("operation", rec.Operation),
		zap.String("host", rec.Host),
		zap.String("path", rec.Path),
		zap.Duration("duration", time.Since(start)),
	}
	if n > 0 {
		fields = append(fields, zap.Int64("bytes", n), zap.String("size", humanize.Bytes(uint64(n))))
	}
	if err != nil {
		rec.Status = KindOf(err).String()
		rec.Error = err.Error()
		g.log.Warn("operation failed", append(fields, zap.String("kind", rec.Status), zap.Error(err))...)
	} else {
		rec.Status = StatusOK
		g.log.Info("operation completed", fields...)
	}
	if g.history != nil {
		g.history.Add(rec)
	}
	return err
}

func (g *Gateway) execute(ctx context.Context, req *OperationRequest, out ResultWriter, rec *Record) (int64, error) {
	if req == nil {
		return 0, validationError("request body is required")
	}
	params, err := g.resolver.Resolve(req.ConnectionParameters)
	if err != nil {
		return 0, err
	}
	rec.Host = params.Host
	rec.Protocol = string(params.Protocol)

	cmd, err := ParseCommand(req)
	if err != nil {
		return 0, err
	}
	rec.Path = cmd.Target()

	fs, err := g.opener.Open(ctx, params)
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = connectionError(err, "cannot open session to %s", params.Address())
		}
		return 0, err
	}
	sess := newSession(fs, g.log.With(zap.Stringer("remote", params)))
	defer sess.Close()
	// A caller that goes away must not leave a command blocked on the server.
	stop := context.AfterFunc(ctx, sess.abort)
	defer stop()

	g.log.Debug("session opened", zap.Stringer("remote", params), zap.String("operation", string(cmd.Operation())))
	n, err := cmd.execute(ctx, &execEnv{sess: sess, conduit: g.conduit, out: out})
	if err != nil && KindOf(err) == KindUnknown {
		err = transferError(err, "writing %s result", cmd.Operation())
	}
	return n, err
}
