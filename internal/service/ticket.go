package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidTicket = errors.New("invalid or expired ticket")

// TicketClaims привязка игрока к игре, выдается при create/join
// и предъявляется в resume-game после переподключения
type TicketClaims struct {
	GameID   string `json:"gid"`
	PlayerID string `json:"pid"`
	jwt.RegisteredClaims
}

type TicketIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTicketIssuer(secret string, ttl time.Duration) *TicketIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TicketIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue подписывает тикет HS256
func (i *TicketIssuer) Issue(gameID, playerID string) (string, error) {
	now := i.now()
	claims := TicketClaims{
		GameID:   gameID,
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign ticket: %w", err)
	}
	return token, nil
}

// Parse проверяет подпись и срок действия
func (i *TicketIssuer) Parse(raw string) (*TicketClaims, error) {
	claims := &TicketClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidTicket
	}
	if claims.GameID == "" || claims.PlayerID == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
