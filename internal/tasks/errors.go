package tasks

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound — задачи с таким id нет в коллекции пользователя.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTasks — хотя бы один элемент пакета импорта не прошёл валидацию.
	ErrInvalidTasks = errors.New("invalid tasks in import")
	// ErrStorage — ошибка чтения/записи файла пользователя.
	ErrStorage = errors.New("storage failure")
	// ErrInvalidUserID — user_id нельзя использовать как имя файла.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrClosed — сервис уже остановлен.
	ErrClosed = errors.New("task service closed")
)

// ErrorKind — машиночитаемый вид ошибки поля.
type ErrorKind string

const (
	KindRequired ErrorKind = "required"
	KindInvalid  ErrorKind = "invalid"
	KindTaken    ErrorKind = "taken"
)

// FieldError — ошибка одного поля.
type FieldError struct {
	Field string    `json:"field"`
	Kind  ErrorKind `json:"kind"`
}

// Message возвращает человекочитаемый текст ошибки.
func (e FieldError) Message() string {
	switch e.Kind {
	case KindRequired:
		return "can't be blank"
	case KindTaken:
		return "has already been taken"
	default:
		return "is invalid"
	}
}

// ValidationErrors — набор ошибок валидации, по одной на поле.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	parts := make([]string, 0, len(ve))
	for _, e := range ve {
		parts = append(parts, e.Field+" "+e.Message())
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Messages группирует сообщения по полю: {"title": ["can't be blank"]}.
func (ve ValidationErrors) Messages() map[string][]string {
	out := make(map[string][]string, len(ve))
	for _, e := range ve {
		out[e.Field] = append(out[e.Field], e.Message())
	}
	return out
}

// Has сообщает, есть ли ошибка заданного вида на поле.
func (ve ValidationErrors) Has(field string, kind ErrorKind) bool {
	for _, e := range ve {
		if e.Field == field && e.Kind == kind {
			return true
		}
	}
	return false
}

// InvalidTask — ошибки одного элемента пакета импорта.
type InvalidTask struct {
	Index  int              `json:"index"`
	Errors ValidationErrors `json:"errors"`
}

// InvalidTasksError отклоняет импорт целиком. errors.Is(err, ErrInvalidTasks) == true.
type InvalidTasksError struct {
	Items []InvalidTask
}

func (e *InvalidTasksError) Error() string {
	return fmt.Sprintf("%s: %d of the submitted tasks failed validation", ErrInvalidTasks, len(e.Items))
}

func (e *InvalidTasksError) Unwrap() error { return ErrInvalidTasks }

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
