package service

import (
	"testing"
	"time"
)

func TestTicketRoundTrip(t *testing.T) {
	issuer := NewTicketIssuer("secret", time.Hour)
	raw, err := issuer.Issue("g1", "p1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := issuer.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.GameID != "g1" || claims.PlayerID != "p1" {
		t.Fatalf("claims: %+v", claims)
	}
}

func TestTicketRejectsForeignSecret(t *testing.T) {
	raw, _ := NewTicketIssuer("a", time.Hour).Issue("g1", "p1")
	if _, err := NewTicketIssuer("b", time.Hour).Parse(raw); err != ErrInvalidTicket {
		t.Fatalf("ожидался ErrInvalidTicket, получено %v", err)
	}
}

func TestTicketExpires(t *testing.T) {
	issuer := NewTicketIssuer("secret", time.Minute)
	raw, _ := issuer.Issue("g1", "p1")

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := issuer.Parse(raw); err != ErrInvalidTicket {
		t.Fatalf("просроченный тикет принят: %v", err)
	}
}

func TestTicketGarbage(t *testing.T) {
	if _, err := NewTicketIssuer("secret", 0).Parse("not-a-jwt"); err != ErrInvalidTicket {
		t.Fatalf("ожидался ErrInvalidTicket, получено %v", err)
	}
}
