package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const tokenIssuer = "phonemart"

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	validate  *validator.Validate
	now       func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	ShopID string `json:"shop_id,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	user, err := a.userStore.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("load user %s: %w", username, err)
	}
	if !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(*user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ShopID:      user.ShopID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken turns a bearer token into the principal it was issued for.
func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	switch claims.Role {
	case domain.RoleAdmin, domain.RoleManager, domain.RoleTechnician:
	default:
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{UserID: sub, Name: claims.Name, Role: claims.Role, ShopID: claims.ShopID}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Name:   user.Name,
		Role:   user.Role,
		ShopID: user.ShopID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateStaff registers a manager or technician bound to one shop.
func (a *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Name = strings.TrimSpace(req.Name)
	if err := a.validate.Struct(req); err != nil {
		return domain.StaffUser{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	if strings.ContainsAny(req.Username, " \t\r\n") {
		return domain.StaffUser{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidInput)
	}
	if _, err := a.userStore.GetUser(ctx, req.Username); err == nil {
		return domain.StaffUser{}, fmt.Errorf("%w: username already exists", store.ErrInvalidInput)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.StaffUser{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  req.Username,
		Name:      req.Name,
		Password:  passwordHash,
		Role:      req.Role,
		ShopID:    req.ShopID,
		Active:    true,
		CreatedAt: a.now(),
	}
	if err := a.userStore.CreateUser(ctx, account); err != nil {
		return domain.StaffUser{}, err
	}
	return staffUser(account), nil
}

func (a *AuthManager) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.StaffUser, 0, len(users))
	for _, user := range users {
		result = append(result, staffUser(user))
	}
	return result, nil
}

func staffUser(user domain.UserAccount) domain.StaffUser {
	return domain.StaffUser{
		Username:  user.Username,
		Name:      user.Name,
		Role:      user.Role,
		ShopID:    user.ShopID,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
