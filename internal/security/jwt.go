// Package security holds the request validation collaborator the gateway
// delegates to via ConfigureSecurity. Authorization policy itself lives with
// the wrapped services; the gateway only runs the configured validator.
package security

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/pkg/logger"
)

// RequestValidator validates a gateway request before it is admitted to the
// routing pipeline.
type RequestValidator interface {
	Validate(req *domain.Request) error
}

// JWTConfig contains JWT validation configuration
type JWTConfig struct {
	SecretKey string `yaml:"secret_key"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// JWTValidator validates HMAC-signed bearer tokens on the Authorization
// header of incoming requests.
type JWTValidator struct {
	config JWTConfig
	logger *logger.Logger
}

// NewJWTValidator creates a JWT request validator
func NewJWTValidator(config JWTConfig, log *logger.Logger) (*JWTValidator, error) {
	if config.SecretKey == "" {
		return nil, domain.NewConfiguration("jwt secret key cannot be empty")
	}
	return &JWTValidator{
		config: config,
		logger: log.ComponentLogger("security"),
	}, nil
}

// Validate checks the request's bearer token signature and claims.
func (v *JWTValidator) Validate(req *domain.Request) error {
	raw := bearerToken(req.Headers)
	if raw == "" {
		return fmt.Errorf("missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.config.SecretKey), nil
	})
	if err != nil {
		v.logger.WithError(err).Debug("Token validation failed")
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	if v.config.Issuer != "" && claims.Issuer != v.config.Issuer {
		return fmt.Errorf("invalid token issuer %q", claims.Issuer)
	}
	if v.config.Audience != "" && !containsAudience(claims.Audience, v.config.Audience) {
		return fmt.Errorf("token audience does not include %q", v.config.Audience)
	}

	return nil
}

func bearerToken(headers map[string]string) string {
	for key, value := range headers {
		if strings.EqualFold(key, "Authorization") {
			if strings.HasPrefix(value, "Bearer ") {
				return strings.TrimPrefix(value, "Bearer ")
			}
			return ""
		}
	}
	return ""
}

func containsAudience(audience jwt.ClaimStrings, want string) bool {
	for _, a := range audience {
		if a == want {
			return true
		}
	}
	return false
}
