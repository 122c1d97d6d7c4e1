package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"paper_test_backend/internal/model"
	"paper_test_backend/internal/repository"
	"paper_test_backend/internal/util"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// IdentityProvider 校验登录凭据，返回对应用户
type IdentityProvider interface {
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
}

// DatabaseIdentityProvider 使用 users 表中的 bcrypt 哈希
type DatabaseIdentityProvider struct {
	UserRepo *repository.UserRepository
}

func NewDatabaseIdentityProvider(userRepo *repository.UserRepository) *DatabaseIdentityProvider {
	return &DatabaseIdentityProvider{UserRepo: userRepo}
}

func (p *DatabaseIdentityProvider) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := p.UserRepo.FindByEmail(ctx, strings.ToLower(email))
	if err != nil {
		if errors.Is(err, util.ErrUserNotFound) {
			return nil, util.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, util.ErrInvalidCredentials
	}
	return user, nil
}

type demoUser struct {
	ID       uint           `yaml:"id"`
	Name     string         `yaml:"name"`
	Email    string         `yaml:"email"`
	Password string         `yaml:"password"`
	Role     model.UserRole `yaml:"role"`
}

// DemoIdentityProvider 演示环境使用的固定账号，从 YAML 文件加载
type DemoIdentityProvider struct {
	users map[string]demoUser
}

func LoadDemoIdentityProvider(path string) (*DemoIdentityProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read demo users: %w", err)
	}
	return ParseDemoIdentityProvider(data)
}

func ParseDemoIdentityProvider(data []byte) (*DemoIdentityProvider, error) {
	var file struct {
		Users []demoUser `yaml:"users"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse demo users: %w", err)
	}

	p := &DemoIdentityProvider{users: make(map[string]demoUser, len(file.Users))}
	for _, u := range file.Users {
		if u.ID == 0 || u.Email == "" || !u.Role.Valid() {
			return nil, fmt.Errorf("invalid demo user %q", u.Email)
		}
		p.users[strings.ToLower(u.Email)] = u
	}
	return p, nil
}

func (p *DemoIdentityProvider) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, ok := p.users[strings.ToLower(email)]
	if !ok || u.Password != password {
		return nil, util.ErrInvalidCredentials
	}
	user := &model.User{Name: u.Name, Email: u.Email, Role: u.Role}
	user.ID = u.ID
	return user, nil
}

// Seed 将演示账号写入 users 表，使提交记录的外键成立
func (p *DemoIdentityProvider) Seed(ctx context.Context, userRepo *repository.UserRepository) error {
	for _, u := range p.users {
		user := &model.User{Name: u.Name, Email: strings.ToLower(u.Email), Password: "-", Role: u.Role}
		user.ID = u.ID
		if err := userRepo.Upsert(ctx, user); err != nil {
			return fmt.Errorf("seed demo user %q: %w", u.Email, err)
		}
	}
	return nil
}
