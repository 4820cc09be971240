package relay

import (
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/sketchsync/sketch/board"
)

// VerifyJwt checks an HS256 login token signed with `secret` and returns its claims.
func VerifyJwt(secret string, jwt string) (*board.BoardJwt, error) {
	if jwt == "" {
		return nil, errors.New("Missing jwt.")
	}
	parser := gojwt.NewParser(gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	token, err := parser.Parse(jwt, func(token *gojwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("Invalid jwt.")
	}
	// the signature is verified, so the claims can be read the same way the client does
	return board.ParseBoardJwtUnverified(jwt)
}

// authorize returns the user of a connection. With no secret every connection is a guest.
func (self *Relay) authorize(token string) (string, error) {
	if self.settings.JwtSecret == "" {
		return "", nil
	}
	boardJwt, err := VerifyJwt(self.settings.JwtSecret, token)
	if err != nil {
		return "", err
	}
	return boardJwt.UserId, nil
}
