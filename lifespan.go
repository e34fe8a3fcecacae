package panini

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// LifespanState is the serving state of an App.
type LifespanState int32

const (
	Unstarted LifespanState = iota
	Running
	Stopped
)

func (s LifespanState) String() string {
	switch s {
	case Unstarted:
		return "UNSTARTED"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// State is the lifespan state of the app. It is safe to call concurrently.
func (a *App) State() LifespanState { return LifespanState(a.state.Load()) }

// OnStartup registers a callback run when the gateway starts the app.
// Callbacks run in registration order.
func (a *App) OnStartup(fn func(context.Context) error) {
	a.startup = append(a.startup, fn)
}

// OnShutdown registers a callback run when the gateway stops the app.
// Callbacks run in registration order.
func (a *App) OnShutdown(fn func(context.Context) error) {
	a.shutdown = append(a.shutdown, fn)
}

// Startup runs the startup callbacks. The first failure aborts startup and is
// returned; the app then stays unstarted.
func (a *App) Startup(ctx context.Context) error {
	for _, fn := range a.startup {
		if err := fn(ctx); err != nil {
			a.Logger.Error("startup failed", zap.Error(err))
			return err
		}
	}
	a.state.Store(int32(Running))
	return nil
}

// Shutdown runs every shutdown callback, even if some fail. Failures are
// logged and returned together.
func (a *App) Shutdown(ctx context.Context) error {
	var errs error
	for _, fn := range a.shutdown {
		if err := fn(ctx); err != nil {
			a.Logger.Error("shutdown callback failed", zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	a.state.Store(int32(Stopped))
	return errs
}

func (a *App) serveLifespan(ctx context.Context, receive Receive, send Send) error {
	for {
		msg, err := receive(ctx)
		if err != nil {
			return err
		}
		switch msg.Type {
		case TypeLifespanStartup:
			if err := a.Startup(ctx); err != nil {
				if serr := send(ctx, Message{Type: TypeLifespanStartupFailed, Reason: err.Error()}); serr != nil {
					return serr
				}
				return err
			}
			if err := send(ctx, Message{Type: TypeLifespanStartupComplete}); err != nil {
				return err
			}
		case TypeLifespanShutdown:
			if err := a.Shutdown(ctx); err != nil {
				if serr := send(ctx, Message{Type: TypeLifespanShutdownFailed, Reason: err.Error()}); serr != nil {
					return serr
				}
				if a.Debug {
					return err
				}
				return nil
			}
			return send(ctx, Message{Type: TypeLifespanShutdownComplete})
		}
	}
}
