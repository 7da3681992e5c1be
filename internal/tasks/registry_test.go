package tasks

import (
	"errors"
	"sync"
	"testing"
)

func noop() {}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	task, err := New(noop, nil, WithName("test_task"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Register(task)

	got, ok := r.Lookup("test_task")
	if !ok {
		t.Fatalf("expected task to be found")
	}

	if got != task {
		t.Fatalf("expected task to match")
	}

	_, ok = r.Lookup("unknown")
	if ok {
		t.Fatalf("expected unknown task to not be found")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	first, _ := New(noop, nil, WithName("dup_task"))
	second, _ := New(noop, nil, WithName("dup_task"), WithQueue("other"))
	r.Register(first)

	defer func() {
		if rec := recover(); rec == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()

	r.Register(second)
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"b", "c", "a"} {
		task, err := New(noop, nil, WithName(name))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r.Register(task)
	}

	names := r.Names()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestRegistryAddDuplicate(t *testing.T) {
	r := NewRegistry()
	first, _ := New(noop, nil, WithName("dup_task"))
	second, _ := New(noop, nil, WithName("dup_task"), WithQueue("other"))

	if err := r.Add(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Add(second); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
	if got, _ := r.Lookup("dup_task"); got != first {
		t.Fatalf("expected the first task to stay registered")
	}
}

func TestRegistryAddConcurrent(t *testing.T) {
	r := NewRegistry()

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	added, duplicates := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, _ := New(noop, nil, WithName("same_name"))
			err := r.Add(task)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				added++
			case errors.Is(err, ErrDuplicateTask):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if added != 1 || duplicates != workers-1 {
		t.Fatalf("expected 1 add and %d duplicates, got %d and %d", workers-1, added, duplicates)
	}
}
