package streamref

import (
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Node links authenticate with a pre-exchanged shared secret. Each side
// presents an HS256 token carrying its endpoint id; the other side
// verifies it before the link is admitted.

type NodeAuth struct {
	NodeId Id
}

func NewNodeToken(nodeId Id, secret []byte) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"node_id": nodeId.String(),
	})
	return token.SignedString(secret)
}

func ParseNodeToken(tokenStr string, secret []byte) (*NodeAuth, error) {
	token, err := gojwt.Parse(tokenStr, func(token *gojwt.Token) (any, error) {
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("Unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("Invalid node token.")
	}
	return nodeAuthFromClaims(token.Claims)
}

func nodeAuthFromClaims(tokenClaims gojwt.Claims) (*NodeAuth, error) {
	claims, ok := tokenClaims.(gojwt.MapClaims)
	if !ok {
		return nil, errors.New("Missing claims.")
	}
	nodeIdStr, ok := claims["node_id"].(string)
	if !ok {
		return nil, errors.New("Missing node_id claim.")
	}
	nodeId, err := ParseId(nodeIdStr)
	if err != nil {
		return nil, err
	}
	return &NodeAuth{
		NodeId: nodeId,
	}, nil
}
