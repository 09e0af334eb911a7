// Package tasks хранит задачи пользователей: модель, валидация, файловое
// хранилище (один JSON-файл на пользователя), сервис с последовательным
// выполнением операций и HTTP-слой поверх него.
package tasks

import "time"

// Priority — приоритет задачи.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Status — состояние задачи.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Task — модель задачи.
//
// Хранится в файле пользователя и отдаётся в API в одном и том же JSON-виде.
// Description и DueDate необязательны: nil сериализуется в null.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	DueDate     *string   `json:"dueDate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Field — одно значение из недоверенного набора атрибутов.
//
// Нужны три состояния: ключа нет (Set == false), ключ есть со значением null
// или пустой строкой (Value == nil), ключ есть со строкой. Нестроковое
// значение помечается wrongType и даёт ошибку invalid.
type Field struct {
	Set       bool
	Value     *string
	wrongType bool
}

// String возвращает значение или пустую строку.
func (f Field) String() string {
	if f.Value == nil {
		return ""
	}
	return *f.Value
}

// TaskAttrs — разобранный JSON-объект задачи от клиента.
//
// Используется и при создании, и как патч при обновлении: поля с Set == false
// при обновлении сохраняют прежнее значение. CreatedAt/UpdatedAt сюда не попадают
// вовсе: их всегда проставляет сервер.
type TaskAttrs struct {
	ID          Field
	Title       Field
	Description Field
	Priority    Field
	Status      Field
	DueDate     Field
}

// ParseAttrs разбирает произвольный JSON-объект в TaskAttrs.
// Неизвестные ключи игнорируются.
func ParseAttrs(raw map[string]any) TaskAttrs {
	return TaskAttrs{
		ID:          parseField(raw, "id"),
		Title:       parseField(raw, "title"),
		Description: parseField(raw, "description"),
		Priority:    parseField(raw, "priority"),
		Status:      parseField(raw, "status"),
		DueDate:     parseField(raw, "dueDate"),
	}
}

func parseField(raw map[string]any, key string) Field {
	v, ok := raw[key]
	if !ok {
		return Field{}
	}
	switch s := v.(type) {
	case nil:
		return Field{Set: true}
	case string:
		if s == "" {
			return Field{Set: true}
		}
		return Field{Set: true, Value: &s}
	default:
		return Field{Set: true, wrongType: true}
	}
}

// clone возвращает копию задачи, не разделяющую указатели с оригиналом.
func (t Task) clone() Task {
	out := t
	out.Description = cloneString(t.Description)
	out.DueDate = cloneString(t.DueDate)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTasks(ts []Task) []Task {
	out := make([]Task, len(ts))
	for i := range ts {
		out[i] = ts[i].clone()
	}
	return out
}
