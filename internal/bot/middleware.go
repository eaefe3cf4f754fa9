package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	logx "tvbot/pkg/logx"
	"tvbot/pkg/tgui"
)

type middleware func(next HandlerFunc) HandlerFunc

const slowCommand = 750 * time.Millisecond

// chain applies mw so that mw[0] sees the request first.
func chain(h HandlerFunc, mw ...middleware) HandlerFunc {
	for _, m := range slices.Backward(mw) {
		h = m(h)
	}
	return h
}

// withTimeout bounds the handler. Zero leaves ctx as is.
func withTimeout(d time.Duration) middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

func recoverPanic() middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				req.Logger.Error("command panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("internal error: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// logRequest logs failures at warn and slow successes at info.
func logRequest() middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := logx.Duration("took", time.Since(began))
			switch {
			case err != nil:
				req.Logger.Warn("command failed", took, logx.Err(err))
			case time.Since(began) >= slowCommand:
				req.Logger.Info("command done", took)
			default:
				req.Logger.Debug("command done", took)
			}
			return err
		}
	}
}

// usageError is shown to the operator as-is, with the command usage.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error { return usageError{msg: fmt.Sprintf(format, args...)} }

// replyErrors turns a handler error into a reply so the operator always gets
// an answer.
func replyErrors() middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			text := tgui.Raw("❌ ") + tgui.Esc(err.Error())
			var ue usageError
			if errors.As(err, &ue) {
				text = tgui.Raw("⚠️ ") + tgui.Esc(ue.msg)
			}
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if rerr := req.Reply(rctx, text.String()); rerr != nil {
				req.Logger.Warn("error reply failed", logx.Err(rerr))
			}
			return err
		}
	}
}
