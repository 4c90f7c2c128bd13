package bot

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange - индекс аккаунта вне списка (например, после конкурентного удаления)
	ErrIndexOutOfRange = errors.New("account index out of range")

	// ErrAccountNotFound - аккаунт с таким ID не найден
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateAccount - аккаунт с таким ID уже существует
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrInvalidAccount - конфигурация аккаунта не прошла проверку
	ErrInvalidAccount = errors.New("invalid account config")

	// ErrTooManyFailures - движок остановлен после MaxConsecutiveFailures ошибок подряд
	ErrTooManyFailures = errors.New("too many consecutive failures")

	// ErrSupervisorClosed - операция после Close
	ErrSupervisorClosed = errors.New("supervisor closed")
)

// StructuralMutationError - изменение списка аккаунтов по индексу, который
// больше не существует
type StructuralMutationError struct {
	Op    string
	Index int
	Len   int
}

func (e *StructuralMutationError) Error() string {
	return fmt.Sprintf("%s account: index %d out of range [0, %d)", e.Op, e.Index, e.Len)
}

// Unwrap позволяет errors.Is(err, ErrIndexOutOfRange)
func (e *StructuralMutationError) Unwrap() error {
	return ErrIndexOutOfRange
}

// InstanceError - ошибка жизненного цикла одного бота
type InstanceError struct {
	AccountID string
	Op        string // start, stop, build
	Err       error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("bot %s: %s: %v", e.AccountID, e.Op, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}
