// Package voucher issues the signed receipt handed back to a caller once
// a Payment reaches Completed: an RS256 JWT carrying the funding
// transaction hash, the payment's identifier, the amount paid, the
// payer address, and the issuing store.
package voucher

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/finchgate/gateway/internal/money"
)

// Claims is the voucher's JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	TxHash  string `json:"tx_hash"`
	UUID    string `json:"uuid"`
	Value   string `json:"value"`
	PaidBy  string `json:"paid_by"`
	StoreID string `json:"store_id"`
}

// Issuer signs vouchers with a store's RSA key pair.
type Issuer struct {
	KID string
}

func NewIssuer(kid string) *Issuer {
	return &Issuer{KID: kid}
}

// Issue signs a voucher for a completed payment. privateKeyPEM is the
// store's own VoucherPrivateKeyPEM; paidBy is the funding transaction's
// counterparty address (sender).
func (i *Issuer) Issue(privateKeyPEM string, storeID, paymentID uuid.UUID, txHash string, value money.Amount, paidBy string, issuedAt time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("voucher: parse store signing key: %w", err)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(issuedAt),
			Subject:  paymentID.String(),
		},
		TxHash:  txHash,
		UUID:    paymentID.String(),
		Value:   value.String(),
		PaidBy:  paidBy,
		StoreID: storeID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.KID

	return token.SignedString(key)
}

// Verify checks a voucher's signature against a store's public key and
// returns its claims. Used by tests and by any out-of-core caller that
// wants to validate a voucher without re-deriving it from the store.
func Verify(publicKeyPEM, tokenString string) (*Claims, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("voucher: parse store verify key: %w", err)
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("voucher: unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
