package uow

import (
	"context"
	"errors"
)

var ErrUnitOfWorkMissing = errors.New("uow: unit of work missing from context")

type ctxKey struct{}

// ContextWithUnitOfWork stores the provided unit of work in context.
func ContextWithUnitOfWork(ctx context.Context, unit UnitOfWork) context.Context {
	return context.WithValue(ctx, ctxKey{}, unit)
}

// FromContext retrieves a unit of work from context if present.
func FromContext(ctx context.Context) (UnitOfWork, bool) {
	val := ctx.Value(ctxKey{})
	if val == nil {
		return nil, false
	}
	unit, ok := val.(UnitOfWork)
	return unit, ok
}

// Require returns the contextual unit of work or ErrUnitOfWorkMissing.
func Require(ctx context.Context) (UnitOfWork, error) {
	unit, ok := FromContext(ctx)
	if !ok {
		return nil, ErrUnitOfWorkMissing
	}
	return unit, nil
}

// ContextInjector is implemented by units whose backing transaction travels
// on the context (the Mongo session). Repository calls made under such a unit
// only run transactionally when they receive the injected context.
type ContextInjector interface {
	InjectContext(ctx context.Context) context.Context
}

// Bind returns the context all repository calls under this unit must use.
// Every caller of Factory.Begin goes through here, so a session-backed unit
// cannot be used with a plain context by accident.
func Bind(ctx context.Context, unit UnitOfWork) context.Context {
	if injector, ok := unit.(ContextInjector); ok {
		return injector.InjectContext(ctx)
	}
	return ctx
}
