package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service — единственная точка входа в хранилище задач.
//
// Все операции, включая чтение, выполняет один рабочий goroutine строго по
// очереди: цикл "прочитать файл -> изменить -> записать" одной операции
// никогда не перемежается с другой, поэтому записи не теряются. Это грубее,
// чем блокировка на пользователя, но нагрузка на запись небольшая.
type Service struct {
	store   *TaskStore
	log     *zap.Logger
	metrics *Metrics

	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type request struct {
	op    string
	fn    func() error
	reply chan error
}

// ServiceOption настраивает Service.
type ServiceOption func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics включает метрики операций.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService создаёт сервис и запускает рабочий goroutine.
// Остановка — через Close.
func NewService(store *TaskStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		log:      zap.NewNop(),
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

// Close дожидается завершения текущей операции и останавливает сервис.
// Последующие вызовы возвращают ErrClosed.
func (s *Service) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

// ListTasks возвращает все задачи пользователя, новые первыми.
func (s *Service) ListTasks(ctx context.Context, userID string) ([]Task, error) {
	var out []Task
	err := s.do(ctx, "list", func() error {
		tasks, err := s.store.List(userID)
		if err != nil {
			return err
		}
		out = cloneTasks(tasks)
		return nil
	})
	return out, err
}

// GetTask возвращает задачу по id или ErrNotFound.
func (s *Service) GetTask(ctx context.Context, userID, id string) (Task, error) {
	var out Task
	err := s.do(ctx, "get", func() error {
		t, err := s.store.Get(userID, id)
		if err != nil {
			return err
		}
		out = t.clone()
		return nil
	})
	return out, err
}

// CreateTask создаёт задачу из недоверенного JSON-объекта.
func (s *Service) CreateTask(ctx context.Context, userID string, raw map[string]any) (Task, error) {
	attrs := ParseAttrs(raw)
	var out Task
	err := s.do(ctx, "create", func() error {
		t, err := s.store.Create(userID, attrs)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// UpdateTask обновляет задачу id. id и createdAt в raw игнорируются.
func (s *Service) UpdateTask(ctx context.Context, userID, id string, raw map[string]any) (Task, error) {
	attrs := ParseAttrs(raw)
	var out Task
	err := s.do(ctx, "update", func() error {
		t, err := s.store.Update(userID, id, attrs)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// DeleteTask удаляет задачу и возвращает удалённую запись.
func (s *Service) DeleteTask(ctx context.Context, userID, id string) (Task, error) {
	var out Task
	err := s.do(ctx, "delete", func() error {
		t, err := s.store.Delete(userID, id)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// ImportTasks сливает пакет задач с коллекцией пользователя (всё или ничего).
func (s *Service) ImportTasks(ctx context.Context, userID string, raw []map[string]any) (ImportResult, error) {
	batch := make([]TaskAttrs, len(raw))
	for i, r := range raw {
		batch[i] = ParseAttrs(r)
	}
	var out ImportResult
	err := s.do(ctx, "import", func() error {
		res, err := s.store.Import(userID, batch)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// ExportTasks возвращает коллекцию пользователя в формате файла: {"tasks": [...]}.
func (s *Service) ExportTasks(ctx context.Context, userID string) ([]byte, error) {
	var out []byte
	err := s.do(ctx, "export", func() error {
		data, err := s.store.Export(userID)
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

// do ставит операцию в очередь рабочего goroutine и ждёт результата.
//
// ctx учитывается только пока операция ждёт своей очереди: принятая
// операция всегда выполняется до конца, и вызывающий получает её итог.
func (s *Service) do(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := request{op: op, fn: fn, reply: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	}
	return <-req.reply
}

func (s *Service) loop() {
	defer close(s.done)
	for {
		select {
		case req := <-s.requests:
			s.handle(req)
		case <-s.quit:
			return
		}
	}
}

func (s *Service) handle(req request) {
	start := time.Now()
	err := req.fn()
	elapsed := time.Since(start)

	s.metrics.observe(req.op, err, elapsed)
	s.log.Debug("task operation",
		zap.String("op", req.op),
		zap.Duration("duration", elapsed),
		zap.Error(err),
	)
	req.reply <- err
}
