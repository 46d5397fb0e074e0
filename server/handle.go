package server

import (
	"context"

	"conn-proxy/message"
	"conn-proxy/proxyerr"
	"conn-proxy/session"
)

// handle is the innermost handler. Reserved methods drive the session
// lifecycle; every other method is an operation for Exec.
func (svr *Server) handle(ctx context.Context, req *message.Request) *message.Response {
	sess, err := svr.ensureSession()
	if err != nil {
		return message.ErrorResponse(req.Method, proxyerr.Code(err), err.Error())
	}

	if req.Options != nil {
		if err := svr.applyOptions(sess, req.Options); err != nil {
			return message.ErrorResponse(req.Method, proxyerr.Code(err), err.Error())
		}
	}

	var result any
	switch req.Method {
	case message.MethodSetOptions:
		err = svr.applyOptions(sess, req.Kwargs)
	case message.MethodConnect:
		err = sess.Connect(ctx)
	case message.MethodClose:
		err = sess.Close(ctx)
	case message.MethodStatus:
		result = sess.Status().Map()
	default:
		result, err = sess.Exec(ctx, req.Method, req.Args, req.Kwargs)
	}

	if err != nil {
		return message.ErrorResponse(req.Method, proxyerr.Code(err), err.Error())
	}
	return &message.Response{Method: req.Method, Result: result}
}

// applyOptions merges values into the current options and hands the
// result to the session.
func (svr *Server) applyOptions(sess *session.Session, values map[string]any) error {
	opts, err := svr.options.Update(values)
	if err != nil {
		return err
	}
	svr.options = *opts
	sess.SetOptions(*opts)
	return nil
}

// ensureSession creates the session on first use.
func (svr *Server) ensureSession() (*session.Session, error) {
	if svr.session != nil {
		return svr.session, nil
	}
	opts := svr.options
	sess, err := session.New(session.Config{
		Factory: svr.cfg.Factory,
		Direct:  svr.cfg.Direct,
		Options: &opts,
		Queue:   svr.cfg.Queue,
	})
	if err != nil {
		return nil, err
	}
	svr.session = sess
	svr.logger.Info("session started", "session", sess.ID())
	return sess, nil
}
