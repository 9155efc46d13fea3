package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction/handle.
// Repo methods take this instead of a bare context.Context so call sites can
// thread an existing transaction through without every signature growing a
// *gorm.DB parameter.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func (c Context) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}
