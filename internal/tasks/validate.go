package tasks

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// fieldOrder задаёт порядок ошибок в ValidationErrors.
var fieldOrder = []string{"id", "title", "description", "priority", "status", "dueDate"}

// taskInput — контракт обязательных полей, проверяемый тегами validate.
type taskInput struct {
	Title    string `json:"title" validate:"required"`
	Priority string `json:"priority" validate:"required,oneof=low medium high"`
	Status   string `json:"status" validate:"required,oneof=pending in_progress completed"`
}

// Validator превращает TaskAttrs в готовую Task либо в ValidationErrors.
//
// Не делает никакого I/O. Источник времени и источник id подменяются
// опциями, чтобы тесты были детерминированными.
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

// ValidatorOption настраивает Validator.
type ValidatorOption func(*Validator)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithIDSource подменяет генератор идентификаторов.
func WithIDSource(newID func() string) ValidatorOption {
	return func(v *Validator) { v.newID = newID }
}

// NewValidator создаёт Validator. По умолчанию id — случайный UUID v4 (122 бита энтропии).
func NewValidator(opts ...ValidatorOption) *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// В ошибках нужны JSON-имена полей, а не имена полей структуры.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	v := &Validator{
		validate: validate,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ForCreate проверяет атрибуты новой задачи.
//
// Переданный клиентом непустой id сохраняется (сценарии импорта/восстановления),
// иначе генерируется новый. CreatedAt и UpdatedAt получают одно и то же значение.
func (v *Validator) ForCreate(attrs TaskAttrs) (Task, error) {
	errs := map[string]ErrorKind{}
	markWrongTypes(errs, attrs)

	v.check(errs, taskInput{
		Title:    blankToEmpty(attrs.Title.String()),
		Priority: attrs.Priority.String(),
		Status:   attrs.Status.String(),
	})
	if len(errs) > 0 {
		return Task{}, ordered(errs)
	}

	id := attrs.ID.String()
	if id == "" {
		id = v.newID()
	}
	now := v.stamp()

	return Task{
		ID:          id,
		Title:       attrs.Title.String(),
		Description: cloneString(attrs.Description.Value),
		Priority:    Priority(attrs.Priority.String()),
		Status:      Status(attrs.Status.String()),
		DueDate:     cloneString(attrs.DueDate.Value),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ForUpdate накладывает атрибуты на существующую задачу.
//
// Отсутствующие ключи сохраняют прежнее значение. id и createdAt из attrs
// игнорируются всегда. UpdatedAt сдвигается вперёд даже если ничего не поменялось.
func (v *Validator) ForUpdate(existing Task, attrs TaskAttrs) (Task, error) {
	attrs.ID = Field{}

	errs := map[string]ErrorKind{}
	markWrongTypes(errs, attrs)

	updated := existing.clone()
	if attrs.Title.Set {
		updated.Title = attrs.Title.String()
	}
	if attrs.Description.Set {
		updated.Description = cloneString(attrs.Description.Value)
	}
	if attrs.Priority.Set {
		updated.Priority = Priority(attrs.Priority.String())
	}
	if attrs.Status.Set {
		updated.Status = Status(attrs.Status.String())
	}
	if attrs.DueDate.Set {
		updated.DueDate = cloneString(attrs.DueDate.Value)
	}

	v.check(errs, taskInput{
		Title:    blankToEmpty(updated.Title),
		Priority: string(updated.Priority),
		Status:   string(updated.Status),
	})
	if len(errs) > 0 {
		return Task{}, ordered(errs)
	}

	now := v.stamp()
	if !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Microsecond)
	}
	updated.UpdatedAt = now
	return updated, nil
}

// check запускает validator и добавляет ошибки полей, у которых ещё нет ошибки типа.
func (v *Validator) check(errs map[string]ErrorKind, in taskInput) {
	err := v.validate.Struct(in)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return
	}
	for _, fe := range verrs {
		if _, ok := errs[fe.Field()]; ok {
			continue
		}
		kind := KindInvalid
		if fe.Tag() == "required" {
			kind = KindRequired
		}
		errs[fe.Field()] = kind
	}
}

func (v *Validator) stamp() time.Time {
	return v.now().UTC().Truncate(time.Microsecond)
}

func markWrongTypes(errs map[string]ErrorKind, attrs TaskAttrs) {
	for name, f := range map[string]Field{
		"id":          attrs.ID,
		"title":       attrs.Title,
		"description": attrs.Description,
		"priority":    attrs.Priority,
		"status":      attrs.Status,
		"dueDate":     attrs.DueDate,
	} {
		if f.wrongType {
			errs[name] = KindInvalid
		}
	}
}

// blankToEmpty: строка из одних пробелов считается пустой для required.
func blankToEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

func ordered(errs map[string]ErrorKind) ValidationErrors {
	out := make(ValidationErrors, 0, len(errs))
	for _, name := range fieldOrder {
		if kind, ok := errs[name]; ok {
			out = append(out, FieldError{Field: name, Kind: kind})
		}
	}
	return out
}
