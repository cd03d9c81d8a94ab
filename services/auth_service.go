package services

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"fmt"
)

type IAuthService interface {
	Register(username, name, password string) (domain.User, Token, error)
	Login(username, password string) (Token, error)
	Token(userID domain.UserID) (Token, error)
}

type AuthService struct {
	userRepository repositories.IUserRepository
	tokens         auth.Tokens
}

type Token string

func (t Token) String() string {
	return string(t)
}

func NewAuthService(repo repositories.IUserRepository, tokens auth.Tokens) IAuthService {
	return &AuthService{userRepository: repo, tokens: tokens}
}

func (s *AuthService) Register(username, name, password string) (domain.User, Token, error) {
	// Validated before any expensive hashing
	if err := auth.ValidateRegister(auth.RegisterRequest{
		Username: username,
		Name:     name,
		Password: password,
	}); err != nil {
		return domain.User{}, "", err
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.userRepository.CreateUser(username, name, hashedPassword)
	if err != nil {
		return domain.User{}, "", err
	}

	token, err := s.Token(user.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}

func (s *AuthService) Login(username, password string) (Token, error) {
	user, err := s.userRepository.GetUserByUsername(username)
	if err != nil {
		// Same error as a bad password so usernames can't be probed
		return "", errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return "", errors.ErrInvalidCredentials
	}
	return s.Token(user.ID)
}

// Token issues a session token for an existing user.
func (s *AuthService) Token(userID domain.UserID) (Token, error) {
	token, err := s.tokens.Generate(string(userID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrTokenGeneration, err)
	}
	return Token(token), nil
}
