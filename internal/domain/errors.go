package domain

import (
	"errors"
	"fmt"
	"time"
)

// ParseErrorKind классифицирует ошибки работы с источником.
type ParseErrorKind string

const (
	// ParseErrInvalidURL — идентификатор не распознан ни одним парсером.
	ParseErrInvalidURL ParseErrorKind = "invalid_url"
	// ParseErrSourceNotFound — источник не существует (постоянная ошибка).
	ParseErrSourceNotFound ParseErrorKind = "source_not_found"
	// ParseErrAccessDenied — источник существует, но доступ запрещён.
	ParseErrAccessDenied ParseErrorKind = "access_denied"
	// ParseErrRateLimited — источник ограничил частоту запросов.
	ParseErrRateLimited ParseErrorKind = "rate_limited"
	// ParseErrParseFailed — разметка или формат изменились (транзиентная).
	ParseErrParseFailed ParseErrorKind = "parse_failed"
	// ParseErrNetwork — сетевая ошибка (транзиентная).
	ParseErrNetwork ParseErrorKind = "network_error"
	// ParseErrUnknown — неклассифицированная ошибка.
	ParseErrUnknown ParseErrorKind = "unknown"
)

// ParseError — типизированная ошибка парсера источника.
// Identifier указывает на проблемный источник, RetryAfter подсказывает
// паузу при rate limit.
type ParseError struct {
	Kind       ParseErrorKind
	Identifier string
	RetryAfter time.Duration
	Err        error
}

// Error реализует error.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Identifier, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Identifier)
}

// Unwrap возвращает вложенную ошибку.
func (e *ParseError) Unwrap() error { return e.Err }

// Transient сообщает, безопасно ли повторить операцию на следующем проходе.
func (e *ParseError) Transient() bool {
	switch e.Kind {
	case ParseErrRateLimited, ParseErrParseFailed, ParseErrNetwork:
		return true
	}
	return false
}

// NewParseError создаёт ParseError с заданным классом.
func NewParseError(kind ParseErrorKind, identifier string, err error) *ParseError {
	return &ParseError{Kind: kind, Identifier: identifier, Err: err}
}

// AsParseError извлекает ParseError из цепочки ошибок.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

var (
	// ErrUnsupportedSource — идентификатор не подошёл ни одному парсеру.
	ErrUnsupportedSource = errors.New("источник не поддерживается")
	// ErrNeeds2FA — аккаунт требует облачный пароль, а он не был передан.
	ErrNeeds2FA = errors.New("требуется пароль двухфакторной аутентификации")
	// ErrSessionExpired — сохранённая MTProto-сессия отозвана.
	ErrSessionExpired = errors.New("сессия отозвана, требуется повторная авторизация")
	// ErrNoActiveSession — у пользователя нет активной MTProto-сессии.
	ErrNoActiveSession = errors.New("нет активной сессии")
	// ErrCodeInvalid — введён неверный или просроченный код подтверждения.
	ErrCodeInvalid = errors.New("неверный или просроченный код подтверждения")
	// ErrNoContent — за период не найдено постов, сводка не создаётся.
	ErrNoContent = errors.New("нет постов за период")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrAlreadyExists — запись с таким уникальным ключом уже существует.
	ErrAlreadyExists = errors.New("запись уже существует")
	// ErrRateLimited — превышен лимит чувствительных операций пользователя.
	ErrRateLimited = errors.New("превышен лимит запросов, попробуйте позже")
)
