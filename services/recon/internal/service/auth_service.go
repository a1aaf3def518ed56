package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"example.com/payment-recon/pkg/jwt"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/services/recon/internal/domain"
	"example.com/payment-recon/services/recon/internal/repository"
)

// bcryptCost — стоимость хэширования bcrypt.
// Значение 12 обеспечивает хороший баланс безопасности и производительности.
const bcryptCost = 12

// Blacklist определяет интерфейс для работы с blacklist токенов.
// Позволяет мокать jwt.Blacklist в тестах.
type Blacklist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Check(ctx context.Context, jti string) (bool, error)
}

// JWTManager определяет интерфейс для работы с JWT токенами.
// Позволяет мокать jwt.Manager в тестах.
type JWTManager interface {
	GenerateTokenPair(operatorID, role string) (*jwt.TokenPair, error)
	ValidateToken(tokenString string) (*jwt.Claims, error)
	ValidateWithBlacklist(ctx context.Context, tokenString string) (*jwt.Claims, error)
	Blacklist() Blacklist
}

// AuthService определяет операции аутентификации операторов.
type AuthService interface {
	// Login аутентифицирует оператора и возвращает токены.
	Login(ctx context.Context, email, password string) (*jwt.TokenPair, error)

	// Logout инвалидирует токен (добавляет в blacklist).
	Logout(ctx context.Context, accessToken string) error

	// CreateOperator создаёт нового оператора. Доступно только администраторам,
	// проверка роли выполняется в middleware.
	CreateOperator(ctx context.Context, actor string, name, email, password string, role domain.OperatorRole) (operatorID string, err error)
}

// authService — реализация AuthService.
type authService struct {
	operators    repository.OperatorRepository
	audit        repository.AuditRepository
	jwtManager   JWTManager
	loginLimiter LoginLimiter // nil = без ограничений (для тестов без Redis)
}

// NewAuthService создаёт сервис аутентификации операторов.
// loginLimiter может быть nil — тогда защита от brute-force отключена.
func NewAuthService(operators repository.OperatorRepository, audit repository.AuditRepository, jwtManager JWTManager, loginLimiter LoginLimiter) AuthService {
	return &authService{
		operators:    operators,
		audit:        audit,
		jwtManager:   jwtManager,
		loginLimiter: loginLimiter,
	}
}

// Login аутентифицирует оператора.
// При включённом LoginLimiter: после 5 неудачных попыток блокирует вход на 15 минут.
func (s *authService) Login(ctx context.Context, email, password string) (*jwt.TokenPair, error) {
	log := logger.FromContext(ctx)

	// Проверяем блокировку входа (если limiter настроен)
	if s.loginLimiter != nil {
		locked, err := s.loginLimiter.IsLocked(ctx, email)
		if err != nil {
			log.Error().Err(err).Str("email", email).Msg("Ошибка проверки блокировки входа")
			// При ошибке Redis — пропускаем проверку, не блокируем оператора
		} else if locked {
			log.Warn().Str("email", email).Msg("Попытка входа в заблокированную учётную запись")
			return nil, domain.ErrLoginLocked
		}
	}

	operator, err := s.operators.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrOperatorNotFound) {
			log.Warn().Str("email", email).Msg("Попытка входа с несуществующим email")
			// Записываем неудачную попытку (защита от перебора email)
			s.recordLoginFailure(ctx, email)
			return nil, domain.ErrInvalidCredentials
		}
		log.Error().Err(err).Str("email", email).Msg("Ошибка получения оператора")
		return nil, fmt.Errorf("ошибка получения оператора: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password)); err != nil {
		log.Warn().Str("email", email).Str("operator_id", operator.ID).Msg("Неверный пароль")
		s.recordLoginFailure(ctx, email)
		return nil, domain.ErrInvalidCredentials
	}

	// Успешный вход — сбрасываем счётчик попыток
	s.resetLoginAttempts(ctx, email)

	tokenPair, err := s.jwtManager.GenerateTokenPair(operator.ID, string(operator.Role))
	if err != nil {
		log.Error().Err(err).Str("operator_id", operator.ID).Msg("Ошибка генерации токенов")
		return nil, fmt.Errorf("ошибка генерации токенов: %w", err)
	}

	log.Info().
		Str("operator_id", operator.ID).
		Str("email", email).
		Str("role", string(operator.Role)).
		Msg("Оператор успешно вошёл в систему")

	return tokenPair, nil
}

// recordLoginFailure записывает неудачную попытку входа (если limiter доступен).
func (s *authService) recordLoginFailure(ctx context.Context, email string) {
	if s.loginLimiter == nil {
		return
	}
	if err := s.loginLimiter.RecordFailure(ctx, email); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("email", email).Msg("Ошибка записи неудачной попытки входа")
	}
}

// resetLoginAttempts сбрасывает счётчик попыток после успешного входа.
func (s *authService) resetLoginAttempts(ctx context.Context, email string) {
	if s.loginLimiter == nil {
		return
	}
	if err := s.loginLimiter.ResetAttempts(ctx, email); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("email", email).Msg("Ошибка сброса счётчика попыток")
	}
}

// Logout инвалидирует токен.
func (s *authService) Logout(ctx context.Context, accessToken string) error {
	log := logger.FromContext(ctx)

	// Валидируем токен для получения claims
	claims, err := s.jwtManager.ValidateToken(accessToken)
	if err != nil {
		log.Warn().Err(err).Msg("Попытка logout с невалидным токеном")
		return domain.ErrInvalidCredentials
	}

	blacklist := s.jwtManager.Blacklist()
	if blacklist == nil {
		log.Warn().Str("operator_id", claims.OperatorID).Msg("Blacklist не настроен, токен не добавлен")
		return nil
	}

	if err := blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		log.Error().Err(err).Str("jti", claims.ID).Msg("Ошибка добавления токена в blacklist")
		return fmt.Errorf("ошибка отзыва токена: %w", err)
	}

	log.Info().
		Str("operator_id", claims.OperatorID).
		Str("jti", claims.ID).
		Msg("Токен успешно отозван")

	return nil
}

// CreateOperator создаёт новую учётную запись оператора и пишет запись аудита.
func (s *authService) CreateOperator(ctx context.Context, actor string, name, email, password string, role domain.OperatorRole) (string, error) {
	log := logger.FromContext(ctx)

	if len(password) < 8 {
		return "", errors.New("пароль должен быть не короче 8 символов")
	}

	operator := &domain.Operator{
		ID:    uuid.New().String(),
		Name:  name,
		Email: email,
		Role:  role,
	}
	if err := operator.Validate(); err != nil {
		log.Warn().Str("email", email).Err(err).Msg("Ошибка валидации данных оператора")
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка хэширования пароля")
		return "", fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	operator.PasswordHash = string(hash)

	if err := s.operators.Create(ctx, operator); err != nil {
		if errors.Is(err, domain.ErrOperatorExists) {
			log.Warn().Str("email", email).Msg("Попытка создания оператора с занятым email")
			return "", err
		}
		log.Error().Err(err).Str("email", email).Msg("Ошибка создания оператора")
		return "", fmt.Errorf("ошибка создания оператора: %w", err)
	}

	// Аудит вне транзакции: сам оператор уже создан, потеря записи
	// аудита здесь допустима и логируется.
	auditErr := s.audit.Create(ctx, &domain.AuditRecord{
		Actor:     actor,
		Action:    domain.ActionOperatorCreated,
		NewStatus: string(role),
		Reason:    "создан оператор " + email,
	})
	if auditErr != nil {
		log.Error().Err(auditErr).Str("operator_id", operator.ID).Msg("Ошибка записи аудита создания оператора")
	}

	log.Info().
		Str("operator_id", operator.ID).
		Str("email", email).
		Str("role", string(role)).
		Str("actor", actor).
		Msg("Оператор успешно создан")

	return operator.ID, nil
}
