package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/rs/zerolog/log"

	"github.com/charleshuang3/onboard/internal/handlers/firewall"
)

var (
	logger = log.With().Str("component", "auth").Logger()
)

const (
	KeyRequesterID = "REQUESTER_ID"
)

// AuthConfig describes how access tokens of the upstream OIDC provider are
// verified. The token subject is the requester's identity id.
type AuthConfig struct {
	// Issuer of access tokens, checked when set.
	Issuer string `yaml:"issuer"`

	// Audience checked when set.
	Audience string `yaml:"audience"`

	// PublicKeyPEM verifies RS256 tokens offline. Takes precedence over JWKSURL.
	PublicKeyPEM string `yaml:"public_key_pem"`

	// JWKSURL of the provider, keys are fetched and refreshed on demand.
	JWKSURL string `yaml:"jwks_url"`
}

func (c *AuthConfig) Validate() {
	if c.PublicKeyPEM == "" && c.JWKSURL == "" {
		logger.Fatal().Msg("AuthConfig: PublicKeyPEM or JWKSURL is required")
	}
	if c.PublicKeyPEM == "" && c.Issuer == "" {
		logger.Fatal().Msg("AuthConfig: Issuer is required with JWKSURL")
	}
}

type verifyFunc func(ctx context.Context, rawToken string) (subject string, err error)

type Authenticator struct {
	verify verifyFunc
}

func NewAuthenticator(conf *AuthConfig) *Authenticator {
	if conf.PublicKeyPEM != "" {
		return &Authenticator{verify: staticKeyVerifier(conf)}
	}
	return &Authenticator{verify: remoteKeySetVerifier(conf)}
}

func staticKeyVerifier(conf *AuthConfig) verifyFunc {
	key, err := jwk.ParseKey([]byte(conf.PublicKeyPEM), jwk.WithPEM(true))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse public key")
	}

	pub, err := key.PublicKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get public key")
	}

	opts := []jwt.ParseOption{jwt.WithKey(jwa.RS256(), pub), jwt.WithValidate(true)}
	if conf.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(conf.Issuer))
	}
	if conf.Audience != "" {
		opts = append(opts, jwt.WithAudience(conf.Audience))
	}

	return func(_ context.Context, rawToken string) (string, error) {
		token, err := jwt.Parse([]byte(rawToken), opts...)
		if err != nil {
			return "", err
		}
		sub, ok := token.Subject()
		if !ok || sub == "" {
			return "", errors.New("token has no subject")
		}
		return sub, nil
	}
}

func remoteKeySetVerifier(conf *AuthConfig) verifyFunc {
	keySet := oidc.NewRemoteKeySet(context.Background(), conf.JWKSURL)
	verifier := oidc.NewVerifier(conf.Issuer, keySet, &oidc.Config{
		ClientID:          conf.Audience,
		SkipClientIDCheck: conf.Audience == "",
	})

	return func(ctx context.Context, rawToken string) (string, error) {
		token, err := verifier.Verify(ctx, rawToken)
		if err != nil {
			return "", err
		}
		if token.Subject == "" {
			return "", errors.New("token has no subject")
		}
		return token.Subject, nil
	}
}

// RequireRequester rejects requests without a valid bearer token and stores
// the token subject as requester id.
func (a *Authenticator) RequireRequester() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || rawToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authorization",
				"message": "Missing bearer token.",
			})
			return
		}

		sub, err := a.verify(c.Request.Context(), rawToken)
		if err != nil {
			logger.Debug().Err(err).Msg("Rejected bearer token")
			firewall.LogMaybeHack(c, "invalid bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authorization",
				"message": "Invalid bearer token.",
			})
			return
		}

		c.Set(KeyRequesterID, sub)
		c.Next()
	}
}

func RequesterID(c *gin.Context) string {
	return c.GetString(KeyRequesterID)
}
