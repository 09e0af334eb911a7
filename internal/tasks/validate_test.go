package tasks

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock возвращает часы, которые сдвигаются на step при каждом вызове.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}
}

func newTestValidator() *Validator {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewValidator(WithClock(fixedClock(start, time.Second)), WithIDSource(sequentialIDs()))
}

func TestValidator_ForCreate_EmptyAttrs(t *testing.T) {
	v := newTestValidator()

	_, err := v.ForCreate(ParseAttrs(map[string]any{}))

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, ValidationErrors{
		{Field: "title", Kind: KindRequired},
		{Field: "priority", Kind: KindRequired},
		{Field: "status", Kind: KindRequired},
	}, verrs)
	assert.Equal(t, []string{"can't be blank"}, verrs.Messages()["title"])
}

func TestValidator_ForCreate_InvalidPriority(t *testing.T) {
	v := newTestValidator()

	_, err := v.ForCreate(ParseAttrs(map[string]any{
		"title": "x", "priority": "urgent", "status": "pending",
	}))

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, ValidationErrors{{Field: "priority", Kind: KindInvalid}}, verrs)
	assert.Equal(t, []string{"is invalid"}, verrs.Messages()["priority"])
}

func TestValidator_ForCreate_InvalidStatus(t *testing.T) {
	v := newTestValidator()

	_, err := v.ForCreate(ParseAttrs(map[string]any{
		"title": "x", "priority": "low", "status": "done",
	}))

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, ValidationErrors{{Field: "status", Kind: KindInvalid}}, verrs)
}

func TestValidator_ForCreate_BlankAndWrongTypes(t *testing.T) {
	v := newTestValidator()

	_, err := v.ForCreate(ParseAttrs(map[string]any{
		"title":       "   ",
		"priority":    42.0,
		"status":      "pending",
		"description": []any{"nope"},
		"dueDate":     true,
	}))

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, ValidationErrors{
		{Field: "title", Kind: KindRequired},
		{Field: "description", Kind: KindInvalid},
		{Field: "priority", Kind: KindInvalid},
		{Field: "dueDate", Kind: KindInvalid},
	}, verrs)
}

func TestValidator_ForCreate_Valid(t *testing.T) {
	v := newTestValidator()

	task, err := v.ForCreate(ParseAttrs(map[string]any{
		"title":       "Write report",
		"description": "quarterly",
		"priority":    "high",
		"status":      "in_progress",
		"dueDate":     "2026-02-01",
		"createdAt":   "1999-01-01T00:00:00Z",
		"unknown":     "ignored",
	}))
	require.NoError(t, err)

	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, "Write report", task.Title)
	require.NotNil(t, task.Description)
	assert.Equal(t, "quarterly", *task.Description)
	assert.Equal(t, PriorityHigh, task.Priority)
	assert.Equal(t, StatusInProgress, task.Status)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, "2026-02-01", *task.DueDate)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), task.CreatedAt)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
}

func TestValidator_ForCreate_KeepsSuppliedID(t *testing.T) {
	v := newTestValidator()

	task, err := v.ForCreate(ParseAttrs(map[string]any{
		"id": "restored-1", "title": "x", "priority": "low", "status": "pending",
	}))
	require.NoError(t, err)
	assert.Equal(t, "restored-1", task.ID)

	task, err = v.ForCreate(ParseAttrs(map[string]any{
		"id": nil, "title": "x", "priority": "low", "status": "pending",
	}))
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.ID)
}

func TestValidator_ForCreate_DefaultIDsAreUUIDs(t *testing.T) {
	v := NewValidator()
	attrs := ParseAttrs(map[string]any{"title": "x", "priority": "low", "status": "pending"})

	a, err := v.ForCreate(attrs)
	require.NoError(t, err)
	b, err := v.ForCreate(attrs)
	require.NoError(t, err)

	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.CreatedAt.Location())
}

func TestValidator_ForUpdate(t *testing.T) {
	v := newTestValidator()
	existing, err := v.ForCreate(ParseAttrs(map[string]any{
		"title": "old", "description": "keep me", "priority": "low", "status": "pending",
	}))
	require.NoError(t, err)

	updated, err := v.ForUpdate(existing, ParseAttrs(map[string]any{
		"id":        "hijack",
		"createdAt": "2000-01-01T00:00:00Z",
		"status":    "completed",
		"dueDate":   "2026-03-01",
	}))
	require.NoError(t, err)

	assert.Equal(t, existing.ID, updated.ID)
	assert.Equal(t, existing.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "old", updated.Title)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "keep me", *updated.Description)
	assert.Equal(t, StatusCompleted, updated.Status)
	require.NotNil(t, updated.DueDate)
	assert.Equal(t, "2026-03-01", *updated.DueDate)
	assert.True(t, updated.UpdatedAt.After(existing.UpdatedAt))
}

func TestValidator_ForUpdate_ClearsOptionalFields(t *testing.T) {
	v := newTestValidator()
	existing, err := v.ForCreate(ParseAttrs(map[string]any{
		"title": "x", "description": "d", "priority": "low", "status": "pending",
	}))
	require.NoError(t, err)

	updated, err := v.ForUpdate(existing, ParseAttrs(map[string]any{"description": nil}))
	require.NoError(t, err)
	assert.Nil(t, updated.Description)
}

func TestValidator_ForUpdate_Errors(t *testing.T) {
	v := newTestValidator()
	existing, err := v.ForCreate(ParseAttrs(map[string]any{
		"title": "x", "priority": "low", "status": "pending",
	}))
	require.NoError(t, err)

	_, err = v.ForUpdate(existing, ParseAttrs(map[string]any{"title": "", "priority": "urgent"}))

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, ValidationErrors{
		{Field: "title", Kind: KindRequired},
		{Field: "priority", Kind: KindInvalid},
	}, verrs)
}

func TestValidator_ForUpdate_NoChangeStillAdvancesClock(t *testing.T) {
	// Часы стоят на месте: updatedAt всё равно обязан вырасти.
	frozen := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	v := NewValidator(WithClock(func() time.Time { return frozen }))

	existing, err := v.ForCreate(ParseAttrs(map[string]any{
		"title": "x", "priority": "low", "status": "pending",
	}))
	require.NoError(t, err)

	updated, err := v.ForUpdate(existing, ParseAttrs(map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, existing.UpdatedAt.Add(time.Microsecond), updated.UpdatedAt)
	assert.Equal(t, existing.CreatedAt, updated.CreatedAt)
}
