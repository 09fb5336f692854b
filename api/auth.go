package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"tasks-api/config"
)

var (
	errTokenExpired  = errors.New("token expired or missing exp")
	errTokenAudience = errors.New("token audience mismatch")
	errTokenIssuer   = errors.New("token issuer mismatch")
	errTokenSubject  = errors.New("token has no subject")
	errNoJWKS        = errors.New("jwks not configured")
)

// Auth resolves the caller's user id from a bearer JWT.
type Auth struct {
	jwks     *keyfunc.JWKS
	audience string
	issuer   string

	parser *jwt.Parser
	keys   jwt.Keyfunc

	kids   sync.Map // kid -> kidEntry
	kidTTL time.Duration
}

type kidEntry struct {
	key     any
	expires time.Time
}

// NewAuth builds an Auth from cfg. With a local secret tokens are HS256
// signed; otherwise RS256 keys are fetched from the domain's JWKS endpoint.
func NewAuth(cfg config.AuthConfig, logger *log.Logger) (*Auth, error) {
	a := &Auth{audience: cfg.Audience, kidTTL: cfg.JWKSCacheTTL}
	if cfg.Domain != "" {
		a.issuer = "https://" + cfg.Domain + "/"
	}

	if cfg.LocalSecret != "" {
		secret := []byte(cfg.LocalSecret)
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		a.keys = func(*jwt.Token) (any, error) { return secret, nil }
		return a, nil
	}

	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	a.jwks = jwks
	a.parser = jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	a.keys = a.keyForToken
	return a, nil
}

// Close stops the background JWKS refresh.
func (a *Auth) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// UserIDFromAuthHeader returns the sub claim of a valid "Bearer <jwt>" header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer verifies a compact JWT and returns its subject.
func (a *Auth) UserIDFromBearer(token []byte) (string, error) {
	if len(token) == 0 {
		return "", errBadAuthorization
	}
	var claims jwt.RegisteredClaims
	if _, err := a.parser.ParseWithClaims(readOnlyString(token), &claims, a.keys); err != nil {
		return "", err
	}
	// exp is optional for jwt.RegisteredClaims.Valid; tasks tokens must carry it.
	if claims.ExpiresAt == nil {
		return "", errTokenExpired
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return "", errTokenAudience
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return "", errTokenIssuer
	}
	if claims.Subject == "" {
		return "", errTokenSubject
	}
	return claims.Subject, nil
}

// keyForToken resolves the RS256 verification key, remembering it per kid
// for kidTTL.
func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errNoJWKS
	}
	kid, _ := token.Header["kid"].(string)
	useCache := kid != "" && a.kidTTL > 0

	if useCache {
		if v, ok := a.kids.Load(kid); ok {
			if e := v.(kidEntry); time.Now().Before(e.expires) {
				return e.key, nil
			}
			a.kids.Delete(kid)
		}
	}
	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if useCache {
		a.kids.Store(kid, kidEntry{key: key, expires: time.Now().Add(a.kidTTL)})
	}
	return key, nil
}
