package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTicketTTL      = 5 * time.Minute
	defaultTicketIssuer   = "blog-api"
	defaultTicketAudience = "blog-upload"
)

var (
	ErrMissingSigningSecret = errors.New("upload tickets: signing secret required")
	ErrInvalidTicket        = errors.New("upload tickets: invalid ticket")
	ErrExpiredTicket        = errors.New("upload tickets: ticket expired")
	errIncompleteTicket     = errors.New("upload tickets: post, file and author are required")
)

// UploadTicket authorizes one image upload into one post.
type UploadTicket struct {
	PostID   string
	FileName string
	Author   string
}

type uploadClaims struct {
	PostID   string `json:"post_id"`
	FileName string `json:"file_name"`
	jwt.RegisteredClaims
}

type TicketIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TicketTTL     time.Duration
	Clock         func() time.Time
}

// TicketIssuer signs HS256 upload tickets. A ticket lets the upload socket be
// opened without resending the session token.
type TicketIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
}

func NewTicketIssuer(cfg TicketIssuerConfig) (*TicketIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TicketTTL
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultTicketIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultTicketAudience
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketIssuer{
		secret:   append([]byte(nil), cfg.SigningSecret...),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		clock:    clock,
	}, nil
}

// Issue signs a ticket and returns it with its expiry.
func (i *TicketIssuer) Issue(ticket UploadTicket) (string, time.Time, error) {
	if ticket.PostID == "" || ticket.FileName == "" || ticket.Author == "" {
		return "", time.Time{}, errIncompleteTicket
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	claims := uploadClaims{
		PostID:   ticket.PostID,
		FileName: ticket.FileName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ticket.Author,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks the signature, expiry, issuer and audience of a ticket.
func (i *TicketIssuer) Validate(tokenString string) (UploadTicket, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return UploadTicket{}, ErrInvalidTicket
	}
	claims := &uploadClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return UploadTicket{}, ErrExpiredTicket
		}
		return UploadTicket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.PostID == "" || claims.FileName == "" || claims.Subject == "" {
		return UploadTicket{}, ErrInvalidTicket
	}
	return UploadTicket{PostID: claims.PostID, FileName: claims.FileName, Author: claims.Subject}, nil
}
