package sensor

import "fmt"

// Reaction is user logic resolved into one of its two supported shapes. It is
// a closed variant: noArgReaction or contextReaction.
//
// A nil result is read as "reaction performed" and becomes a synthesized
// RunReaction. A non-nil empty result is a decision that emits nothing.
type Reaction interface {
	// TakesContext reports whether the reaction receives a *Context.
	TakesContext() bool

	call(c *Context) ([]Output, error)
}

type noArgReaction struct {
	fn func() ([]Output, error)
}

func (noArgReaction) TakesContext() bool { return false }

func (r noArgReaction) call(*Context) ([]Output, error) { return r.fn() }

type contextReaction struct {
	fn func(*Context) ([]Output, error)
}

func (contextReaction) TakesContext() bool { return true }

func (r contextReaction) call(c *Context) ([]Output, error) { return r.fn(c) }

// ResolveReaction resolves fn into a Reaction. Supported shapes are
//
//	func() ([]Output, error)
//	func(*Context) ([]Output, error)
//	func(*FailureContext) ([]Output, error)
//
// The failure shape is converted through Context.ForRunFailure.
func ResolveReaction(fn any) (Reaction, error) {
	switch f := fn.(type) {
	case func() ([]Output, error):
		if f == nil {
			return nil, fmt.Errorf("reaction function is nil")
		}
		return noArgReaction{fn: f}, nil
	case func(*Context) ([]Output, error):
		if f == nil {
			return nil, fmt.Errorf("reaction function is nil")
		}
		return contextReaction{fn: f}, nil
	case func(*FailureContext) ([]Output, error):
		if f == nil {
			return nil, fmt.Errorf("reaction function is nil")
		}
		return contextReaction{fn: func(c *Context) ([]Output, error) {
			return f(c.ForRunFailure())
		}}, nil
	case nil:
		return nil, fmt.Errorf("reaction function is nil")
	default:
		return nil, fmt.Errorf("unsupported reaction signature %T", fn)
	}
}

func isFailureReaction(fn any) bool {
	_, ok := fn.(func(*FailureContext) ([]Output, error))
	return ok
}
