package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"ticketgate/internal/logger"
	"ticketgate/internal/service"
)

const (
	RoleAdmin     = "admin"
	RoleOrganizer = "organizer"
	RoleStaff     = "staff"
)

type ctxKey string

const operatorKey ctxKey = "operator"

// OperatorClaims are the JWT claims of a scanner or back-office operator.
// Subject carries the operator id.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func ContextWithOperator(ctx context.Context, op service.Operator) context.Context {
	ctx = logger.ContextWithOperatorID(ctx, op.ID)
	return context.WithValue(ctx, operatorKey, op)
}

func OperatorFromContext(ctx context.Context) (service.Operator, bool) {
	op, ok := ctx.Value(operatorKey).(service.Operator)
	return op, ok
}

// Operator returns the authenticated operator of the request
func Operator(c *gin.Context) service.Operator {
	op, _ := OperatorFromContext(c.Request.Context())
	return op
}

// IssueToken signs operator claims; used by tooling and tests
func IssueToken(secret []byte, issuer, operatorID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Browsers cannot set headers on WebSocket upgrades
	if token := c.Query("token"); token != "" {
		return token
	}
	if cookie, err := c.Cookie("auth_token"); err == nil {
		return cookie
	}
	return ""
}

// JWTAuth authenticates operators with HS256 tokens. An empty secret
// disables authentication and treats every caller as an admin.
func JWTAuth(secret []byte, issuer string) gin.HandlerFunc {
	if len(secret) == 0 {
		return func(c *gin.Context) {
			op := service.Operator{ID: "anonymous", Role: RoleAdmin}
			c.Request = c.Request.WithContext(ContextWithOperator(c.Request.Context(), op))
			c.Next()
		}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)

	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims := &OperatorClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			message := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "Token expired"
			}
			logger.WithContext(c.Request.Context()).Warn("Authentication failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
			return
		}

		op := service.Operator{ID: claims.Subject, Role: claims.Role}
		c.Set("operator_id", op.ID)
		c.Request = c.Request.WithContext(ContextWithOperator(c.Request.Context(), op))

		c.Next()
	}
}

// RequireRole lets only the listed roles through
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		op, ok := OperatorFromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !slices.Contains(roles, op.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}
