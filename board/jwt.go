package board

import (
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// BoardJwt is the login token issued by the board api.
// The client reads the claims without verifying them. The api and relay verify.
type BoardJwt struct {
	UserId string
	Email  string
}

func ParseBoardJwtUnverified(jwt string) (*BoardJwt, error) {
	if jwt == "" {
		return nil, errors.New("Missing jwt.")
	}

	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	boardJwt := &BoardJwt{}

	if userId, ok := claims["id"]; ok {
		switch v := userId.(type) {
		case string:
			boardJwt.UserId = v
		case float64:
			// numeric ids from older servers
			boardJwt.UserId = fmt.Sprintf("%d", int64(v))
		}
	}
	if email, ok := claims["email"].(string); ok {
		boardJwt.Email = email
	}
	if boardJwt.UserId == "" {
		return nil, errors.New("Missing user id.")
	}

	return boardJwt, nil
}
