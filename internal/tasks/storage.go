package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
)

// userIDPattern — допустимые user_id: они становятся именами файлов.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// fileDocument — формат файла пользователя: {"tasks": [...]}.
type fileDocument struct {
	Tasks []Task `json:"tasks"`
}

// ImportResult — итог импорта пакета задач.
type ImportResult struct {
	Imported int `json:"imported"`
	Added    int `json:"added"`
	Replaced int `json:"replaced"`
}

// snapshot — коллекция пользователя, прочитанная с диска.
type snapshot struct {
	path    string
	tasks   []Task
	corrupt bool // файл существует, но не разобрался
}

// TaskStore отвечает за хранение задач: один JSON-файл на пользователя.
//
// Каждая операция целиком читает файл, меняет коллекцию в памяти и целиком
// записывает её обратно через временный файл и rename. Сам TaskStore не
// синхронизирован: конкурентный доступ упорядочивает Service.
type TaskStore struct {
	baseDir   string
	validator *Validator
	log       *zap.Logger
}

// NewTaskStore создаёт хранилище в каталоге baseDir (каталог создаётся при необходимости).
func NewTaskStore(baseDir string, v *Validator, log *zap.Logger) (*TaskStore, error) {
	if baseDir == "" {
		return nil, errors.New("baseDir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, storageErr("create data dir", err)
	}
	if v == nil {
		v = NewValidator()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskStore{baseDir: baseDir, validator: v, log: log}, nil
}

// List возвращает задачи пользователя. Нет файла или файл битый — пустой список.
func (ts *TaskStore) List(userID string) ([]Task, error) {
	snap, err := ts.load(userID)
	if err != nil {
		return nil, err
	}
	return snap.tasks, nil
}

// Get ищет задачу по id.
func (ts *TaskStore) Get(userID, id string) (Task, error) {
	snap, err := ts.load(userID)
	if err != nil {
		return Task{}, err
	}
	idx := indexOf(snap.tasks, id)
	if idx == -1 {
		return Task{}, ErrNotFound
	}
	return snap.tasks[idx], nil
}

// Create валидирует атрибуты, добавляет задачу в начало списка и сохраняет файл.
//
// Переданный клиентом id, который уже есть в коллекции, отклоняется ошибкой
// поля id вида taken: дублей внутри коллекции не бывает.
func (ts *TaskStore) Create(userID string, attrs TaskAttrs) (Task, error) {
	snap, err := ts.load(userID)
	if err != nil {
		return Task{}, err
	}

	created, err := ts.validator.ForCreate(attrs)
	if err != nil {
		return Task{}, err
	}
	if indexOf(snap.tasks, created.ID) != -1 {
		return Task{}, ValidationErrors{{Field: "id", Kind: KindTaken}}
	}

	// Готовим новый список, но на диск он попадает только целиком.
	candidate := make([]Task, 0, len(snap.tasks)+1)
	candidate = append(candidate, created)
	candidate = append(candidate, snap.tasks...)

	if err := ts.persist(userID, snap, candidate); err != nil {
		return Task{}, err
	}
	return created.clone(), nil
}

// Update накладывает атрибуты на задачу id, оставляя её на прежнем месте в списке.
func (ts *TaskStore) Update(userID, id string, attrs TaskAttrs) (Task, error) {
	snap, err := ts.load(userID)
	if err != nil {
		return Task{}, err
	}
	idx := indexOf(snap.tasks, id)
	if idx == -1 {
		return Task{}, ErrNotFound
	}

	updated, err := ts.validator.ForUpdate(snap.tasks[idx], attrs)
	if err != nil {
		return Task{}, err
	}

	candidate := make([]Task, len(snap.tasks))
	copy(candidate, snap.tasks)
	candidate[idx] = updated

	if err := ts.persist(userID, snap, candidate); err != nil {
		return Task{}, err
	}
	return updated.clone(), nil
}

// Delete удаляет задачу и возвращает удалённую запись.
func (ts *TaskStore) Delete(userID, id string) (Task, error) {
	snap, err := ts.load(userID)
	if err != nil {
		return Task{}, err
	}
	idx := indexOf(snap.tasks, id)
	if idx == -1 {
		return Task{}, ErrNotFound
	}
	removed := snap.tasks[idx]

	candidate := make([]Task, 0, len(snap.tasks)-1)
	candidate = append(candidate, snap.tasks[:idx]...)
	candidate = append(candidate, snap.tasks[idx+1:]...)

	if err := ts.persist(userID, snap, candidate); err != nil {
		return Task{}, err
	}
	return removed, nil
}

// Import сливает пакет задач с коллекцией пользователя.
//
// Сначала валидируется весь пакет: один невалидный элемент отменяет импорт
// без записи на диск. Задачи с уже существующим id заменяют старые на их
// месте, остальные добавляются в начало в порядке пакета. Повторы id внутри
// пакета схлопываются до последнего вхождения.
func (ts *TaskStore) Import(userID string, batch []TaskAttrs) (ImportResult, error) {
	snap, err := ts.load(userID)
	if err != nil {
		return ImportResult{}, err
	}

	var (
		imported []Task
		position = map[string]int{}
		invalid  []InvalidTask
	)
	for i, attrs := range batch {
		t, err := ts.validator.ForCreate(attrs)
		if err != nil {
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				return ImportResult{}, err
			}
			invalid = append(invalid, InvalidTask{Index: i, Errors: verrs})
			continue
		}
		if p, ok := position[t.ID]; ok {
			imported[p] = t
			continue
		}
		position[t.ID] = len(imported)
		imported = append(imported, t)
	}
	if len(invalid) > 0 {
		return ImportResult{}, &InvalidTasksError{Items: invalid}
	}

	existing := make(map[string]bool, len(snap.tasks))
	for _, t := range snap.tasks {
		existing[t.ID] = true
	}

	var res ImportResult
	candidate := make([]Task, 0, len(snap.tasks)+len(imported))
	for _, t := range imported {
		if existing[t.ID] {
			res.Replaced++
			continue
		}
		res.Added++
		candidate = append(candidate, t)
	}
	for _, t := range snap.tasks {
		if p, ok := position[t.ID]; ok {
			candidate = append(candidate, imported[p])
			continue
		}
		candidate = append(candidate, t)
	}
	res.Imported = res.Added + res.Replaced

	if err := ts.persist(userID, snap, candidate); err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// Export возвращает коллекцию пользователя в том же формате, что и файл.
func (ts *TaskStore) Export(userID string) ([]byte, error) {
	snap, err := ts.load(userID)
	if err != nil {
		return nil, err
	}
	return encodeDocument(snap.tasks)
}

// path строит путь к файлу пользователя и отсекает user_id,
// которые вывели бы за пределы baseDir.
func (ts *TaskStore) path(userID string) (string, error) {
	if !userIDPattern.MatchString(userID) || userID == "." || userID == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return filepath.Join(ts.baseDir, userID+".json"), nil
}

// load читает файл пользователя.
//
// Отсутствие файла — это пустая коллекция. Битый JSON или неверная форма
// тоже дают пустую коллекцию (с предупреждением в логе), а не ошибку.
// Ошибкой считаются только сбои чтения самого файла.
func (ts *TaskStore) load(userID string) (snapshot, error) {
	path, err := ts.path(userID)
	if err != nil {
		return snapshot{}, err
	}
	snap := snapshot{path: path, tasks: []Task{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, nil
		}
		ts.log.Error("read tasks file", zap.String("user_id", userID), zap.String("path", path), zap.Error(err))
		return snapshot{}, storageErr("read tasks", err)
	}

	tasks, err := decodeDocument(data)
	if err != nil {
		ts.log.Warn("malformed tasks file, treating as empty",
			zap.String("user_id", userID), zap.String("path", path), zap.Error(err))
		snap.corrupt = true
		return snap, nil
	}
	snap.tasks = tasks
	return snap, nil
}

// persist целиком записывает коллекцию. Если прежний файл был битым,
// его содержимое сначала откладывается в <file>.corrupt.
func (ts *TaskStore) persist(userID string, snap snapshot, tasks []Task) error {
	data, err := encodeDocument(tasks)
	if err != nil {
		return storageErr("encode tasks", err)
	}

	if snap.corrupt {
		if err := os.Rename(snap.path, snap.path+".corrupt"); err != nil && !errors.Is(err, os.ErrNotExist) {
			ts.log.Error("preserve corrupt tasks file", zap.String("user_id", userID), zap.Error(err))
			return storageErr("preserve corrupt file", err)
		}
	}

	if err := writeFileAtomic(snap.path, data, 0o644); err != nil {
		ts.log.Error("write tasks file", zap.String("user_id", userID), zap.String("path", snap.path), zap.Error(err))
		return storageErr("write tasks", err)
	}
	return nil
}

// decodeDocument принимает {"tasks": [...]} и, для старых файлов, голый массив.
// Пустой файл — пустая коллекция.
func decodeDocument(data []byte) ([]Task, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []Task{}, nil
	}

	var tasks []Task
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, err
		}
	case '{':
		var doc struct {
			Tasks *[]Task `json:"tasks"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
		if doc.Tasks == nil {
			return nil, errors.New(`missing "tasks" array`)
		}
		tasks = *doc.Tasks
	default:
		return nil, errors.New("expected a JSON object or array")
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return tasks, nil
}

func encodeDocument(tasks []Task) ([]byte, error) {
	if tasks == nil {
		tasks = []Task{}
	}
	return json.MarshalIndent(fileDocument{Tasks: tasks}, "", "  ")
}

func indexOf(tasks []Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// writeFileAtomic пишет данные во временный файл рядом с path и переименовывает его.
// Читатель видит либо старое содержимое, либо новое целиком.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	// Синхронизация каталога best-effort: rename уже произошёл.
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
