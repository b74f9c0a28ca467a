package plugraph

import (
	"github.com/junioryono/plugraph/internal/reflection"
)

// In embeds plugraph.In to mark a parameter object. When a constructor
// accepts a single struct parameter with embedded In, every exported field of
// that struct is resolved as a dependency:
//   - `optional:"true"` - the field is left at its zero value when nothing is registered
//   - `name:"instance"` - the field is resolved from the named instance
//
// Fields can also be overridden per instance with ConstructorInstance.Arg.
//
// Example:
//
//	type HandlerParams struct {
//	    plugraph.In
//
//	    Store  Store
//	    Cache  Cache  `name:"redis"`
//	    Logger Logger `optional:"true"`
//	}
//
//	func NewHandler(p HandlerParams) *Handler {
//	    return &Handler{store: p.Store, cache: p.Cache, logger: p.Logger}
//	}
//
// The In struct must be embedded anonymously:
//
//	type HandlerParams struct {
//	    plugraph.In  // ✓ Correct - anonymous embedding
//	    // ...
//	}
//
//	type HandlerParams struct {
//	    In plugraph.In  // ✗ Wrong - named field
//	    // ...
//	}
type In = reflection.In
