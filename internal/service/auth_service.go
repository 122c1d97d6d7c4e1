package service

import (
	"context"
	"strings"

	"paper_test_backend/internal/config"
	"paper_test_backend/internal/model"
	"paper_test_backend/internal/repository"
	"paper_test_backend/internal/util"
	"paper_test_backend/pkg/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var validate = validator.New()

type RegisterRequest struct {
	Name     string         `json:"name" validate:"required,max=100"`
	Email    string         `json:"email" validate:"required,email,max=100"`
	Password string         `json:"password" validate:"required,min=6,max=72"`
	Role     model.UserRole `json:"role" validate:"required,oneof=student teacher"`
}

type LoginResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

type AuthService struct {
	UserRepo *repository.UserRepository
	Identity IdentityProvider
	Cfg      *config.Config
}

func NewAuthService(userRepo *repository.UserRepository, identity IdentityProvider, cfg *config.Config) *AuthService {
	return &AuthService{
		UserRepo: userRepo,
		Identity: identity,
		Cfg:      cfg,
	}
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	if _, demo := s.Identity.(*DemoIdentityProvider); demo {
		return nil, util.ErrRegistrationClosed
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Name:     req.Name,
		Email:    strings.ToLower(req.Email),
		Password: string(hashedPassword),
		Role:     req.Role,
	}
	if err := s.UserRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	logger.Log.Info("user registered", zap.Uint("userId", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.Identity.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	token, err := util.GenerateJWT(user, s.Cfg.JWT.Secret, s.Cfg.JWT.ExpireTime)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, User: user}, nil
}
