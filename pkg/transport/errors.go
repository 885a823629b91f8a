package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// NetworkErrorType тип сетевой ошибки
type NetworkErrorType int

const (
	ErrorTypeTemporary  NetworkErrorType = iota // Временная ошибка (повтор возможен)
	ErrorTypePermanent                          // Постоянная ошибка
	ErrorTypeTimeout                            // Таймаут
	ErrorTypeConnection                         // Клиент недоступен
	ErrorTypeClosed                             // Сокет закрыт
	ErrorTypeUnknown
)

func (t NetworkErrorType) String() string {
	switch t {
	case ErrorTypeTemporary:
		return "temporary"
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClassifiedError сетевая ошибка с классификацией
type ClassifiedError struct {
	Type      NetworkErrorType
	Operation string
	Err       error
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s (type: %s, retryable: %t)",
		e.Operation, e.Err.Error(), e.Type, e.Retryable)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// classifyNetworkError оборачивает ошибку сокета в ClassifiedError.
// Закрытый сокет дополнительно сопоставляется с ErrClosed.
func classifyNetworkError(operation string, err error) error {
	if err == nil {
		return nil
	}

	classified := &ClassifiedError{
		Operation: operation,
		Err:       err,
		Type:      ErrorTypeUnknown,
	}

	var netErr net.Error
	switch {
	case errors.Is(err, net.ErrClosed):
		classified.Type = ErrorTypeClosed
		classified.Err = fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		classified.Type = ErrorTypeTimeout
		classified.Retryable = true
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR), errors.Is(err, syscall.ENOBUFS):
		classified.Type = ErrorTypeTemporary
		classified.Retryable = true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		classified.Type = ErrorTypeConnection
		classified.Retryable = true
	case errors.Is(err, syscall.EINVAL), errors.Is(err, syscall.EACCES),
		errors.Is(err, syscall.EAFNOSUPPORT), errors.Is(err, syscall.EMSGSIZE):
		classified.Type = ErrorTypePermanent
	}

	return classified
}

// IsTimeout проверяет, что ошибка - таймаут ожидания
func IsTimeout(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type == ErrorTypeTimeout
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
