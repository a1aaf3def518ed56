// Package service содержит адаптер для jwt.Manager.
package service

import (
	"context"

	"example.com/payment-recon/pkg/jwt"
)

// jwtManagerAdapter оборачивает *jwt.Manager для реализации JWTManager интерфейса.
// Необходим потому что *jwt.Manager.Blacklist() возвращает *jwt.Blacklist,
// а интерфейс требует service.Blacklist.
type jwtManagerAdapter struct {
	manager *jwt.Manager
}

// NewJWTManagerAdapter создаёт адаптер для jwt.Manager.
func NewJWTManagerAdapter(manager *jwt.Manager) JWTManager {
	return &jwtManagerAdapter{manager: manager}
}

func (a *jwtManagerAdapter) GenerateTokenPair(operatorID, role string) (*jwt.TokenPair, error) {
	return a.manager.GenerateTokenPair(operatorID, role)
}

func (a *jwtManagerAdapter) ValidateToken(tokenString string) (*jwt.Claims, error) {
	return a.manager.ValidateToken(tokenString)
}

func (a *jwtManagerAdapter) ValidateWithBlacklist(ctx context.Context, tokenString string) (*jwt.Claims, error) {
	return a.manager.ValidateWithBlacklist(ctx, tokenString)
}

func (a *jwtManagerAdapter) Blacklist() Blacklist {
	bl := a.manager.Blacklist()
	if bl == nil {
		return nil
	}
	return bl
}
