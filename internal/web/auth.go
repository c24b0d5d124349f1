package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tracepad/tracepad"
)

const userCookie = "tracepad_user"

// cookieMaxAge keeps the identity for a year; the session registry's TTL
// governs how long any server-side state lives.
const cookieMaxAge = 365 * 24 * time.Hour

// userID returns the caller's identity from the signed session cookie,
// minting and setting a fresh one when the cookie is absent or invalid.
func (s *Server) userID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(userCookie); err == nil {
		if id, err := s.verifyToken(c.Value); err == nil {
			return id
		}
	}

	id := tracepad.NewID()
	token, err := s.signToken(id)
	if err != nil {
		// Signing only fails on a broken secret; fall back to an unsigned
		// session that lasts this request.
		s.logger.Error("sign session token", "error", err)
		return id
	}
	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// signToken issues an HS256 token whose subject is the user id.
func (s *Server) signToken(id string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  id,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// verifyToken validates the signature and extracts the subject.
func (s *Server) verifyToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
