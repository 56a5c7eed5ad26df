package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/bookkeeper/pkg/book"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyScope   = "ledger_scope"
	contextKeySubject = "ledger_subject"

	claimOrganization = "org"
	claimEnvironment  = "env"
)

// apiClaims are the bearer token claims the facade cares about. The
// organization and environment claims pin every request to one scope;
// clients cannot address another tenant's book no matter what ids they
// put in the body.
type apiClaims struct {
	Organization string `json:"org"`
	Environment  string `json:"env"`
	jwt.RegisteredClaims
}

func authMiddleware(signingKey []byte, issuer string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := bearerToken(ctx.GetHeader("Authorization"))
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		claims := &apiClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return signingKey, nil
		}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
		if err != nil || !parsed.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid bearer token"))
			return
		}
		scope, err := book.NewScope(claims.Organization, claims.Environment)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "token missing ledger scope"))
			return
		}
		ctx.Set(contextKeyScope, scope)
		ctx.Set(contextKeySubject, claims.Subject)
		ctx.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func scopeFrom(ctx *gin.Context) (book.Scope, bool) {
	value, ok := ctx.Get(contextKeyScope)
	if !ok {
		return book.Scope{}, false
	}
	scope, ok := value.(book.Scope)
	return scope, ok
}
