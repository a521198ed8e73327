package credits

import "github.com/docustream/credits/types"

// Re-export common types for convenience so users don't have to import the
// types package.

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Entity constructor
var NewEntity = types.NewEntity
