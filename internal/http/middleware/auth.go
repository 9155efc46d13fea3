package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PoetCoderJun/autocut-backend/internal/auth"
	"github.com/PoetCoderJun/autocut-backend/internal/data/repos"
	"github.com/PoetCoderJun/autocut-backend/internal/domain"
	"github.com/PoetCoderJun/autocut-backend/internal/http/response"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/ctxutil"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/dbctx"
	"github.com/PoetCoderJun/autocut-backend/internal/platform/logger"
)

const currentUserKey = "current_user"

type AuthMiddleware struct {
	log      *logger.Logger
	verifier auth.Verifier
	users    repos.UserRepo
}

func NewAuthMiddleware(baseLog *logger.Logger, verifier auth.Verifier, users repos.UserRepo) *AuthMiddleware {
	return &AuthMiddleware{
		log:      baseLog.With("middleware", "AuthMiddleware"),
		verifier: verifier,
		users:    users,
	}
}

// RequireAuth verifies the bearer token and materializes the user row on
// first sight (refreshing a changed email), attaching both the identity and
// the loaded user to the request.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" && am.verifier.Enabled() {
			response.ErrorCode(c, "UNAUTHORIZED", "missing or invalid token")
			c.Abort()
			return
		}

		identity, err := am.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			am.log.Debug("token verification failed", "error", err)
			response.ErrorCode(c, "UNAUTHORIZED", "missing or invalid token")
			c.Abort()
			return
		}

		user, err := am.users.GetOrCreate(dbctx.Context{Ctx: c.Request.Context()}, identity.UserID, strings.ToLower(identity.Email))
		if err != nil {
			am.log.Error("user materialization failed", "error", err, "user_id", identity.UserID)
			response.ErrorCode(c, "INTERNAL_ERROR", "internal error")
			c.Abort()
			return
		}

		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{
			UserID: user.UserID,
			Email:  user.Email,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set(currentUserKey, user)
		c.Next()
	}
}

// CurrentUser returns the user RequireAuth attached, or nil outside an
// authenticated route.
func CurrentUser(c *gin.Context) *domain.User {
	if v, ok := c.Get(currentUserKey); ok {
		if u, ok := v.(*domain.User); ok {
			return u
		}
	}
	return nil
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
