package users

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-users/storage"
	"github.com/ggoodman/mcp-users/storage/file"
	"github.com/ggoodman/mcp-users/storage/memory"
)

func newFileStore(t *testing.T, opts ...Option) (*Store, *file.Document) {
	t.Helper()
	doc, err := file.New(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	t.Cleanup(func() { _ = doc.Close() })
	return NewStore(doc, opts...), doc
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		id, err := s.Append(ctx, Fields{Name: "u", Email: "u@x", Address: "a", Phone: "p"})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if id != want {
			t.Fatalf("Append returned id %d, want %d", id, want)
		}
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	for i, u := range all {
		if u.ID != i+1 {
			t.Fatalf("record %d has id %d", i, u.ID)
		}
	}
}

func TestAppendThenLoadAllRoundTrip(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	in := []Fields{
		{Name: "Ann", Email: "ann@example.com", Address: "1 Main St", Phone: "555-0100"},
		{Name: "Bob <admin>", Email: "bob@example.com", Address: "2 Side & Co", Phone: "555-0101"},
	}
	for _, f := range in {
		if _, err := s.Append(ctx, f); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != len(in) {
		t.Fatalf("LoadAll returned %d records, want %d", len(all), len(in))
	}
	for i, f := range in {
		want := User{ID: i + 1, Name: f.Name, Email: f.Email, Address: f.Address, Phone: f.Phone}
		if all[i] != want {
			t.Fatalf("record %d = %+v, want %+v", i, all[i], want)
		}
	}
}

func TestDocumentIsPrettyPrinted(t *testing.T) {
	s, doc := newFileStore(t)
	ctx := context.Background()
	if _, err := s.Append(ctx, Fields{Name: "Ann", Email: "ann@example.com", Address: "1 Main St", Phone: "555"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	raw, err := doc.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := `[
  {
    "id": 1,
    "name": "Ann",
    "email": "ann@example.com",
    "address": "1 Main St",
    "phone": "555"
  }
]`
	if string(raw) != want {
		t.Fatalf("document =\n%s\nwant\n%s", raw, want)
	}
}

func TestDuplicateFieldsGetDistinctIDs(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	f := Fields{Name: "Same", Email: "same@x", Address: "a", Phone: "p"}

	id1, err := s.Append(ctx, f)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	id2, err := s.Append(ctx, f)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("duplicate creates share id %d", id1)
	}
}

func TestLoadAllMissingOrEmptyDocument(t *testing.T) {
	for name, seed := range map[string][]byte{"absent": nil, "empty": {}, "whitespace": []byte("  \n"), "empty array": []byte("[]")} {
		t.Run(name, func(t *testing.T) {
			s := NewStore(memory.New(seed))
			all, err := s.LoadAll(context.Background())
			if err != nil {
				t.Fatalf("LoadAll: %v", err)
			}
			if all == nil || len(all) != 0 {
				t.Fatalf("LoadAll = %#v, want empty non-nil slice", all)
			}
		})
	}
}

func TestMalformedDocumentsReportFormatError(t *testing.T) {
	tests := map[string]string{
		"object":          `{"id":1}`,
		"truncated":       `[{"id":1,`,
		"not records":     `[1,2,3]`,
		"zero id":         `[{"id":0,"name":"x"}]`,
		"negative id":     `[{"id":-3,"name":"x"}]`,
		"string id":       `[{"id":"1","name":"x"}]`,
		"null element":    `[null]`,
		"scalar document": `42`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewStore(memory.New([]byte(content)))
			_, err := s.LoadAll(context.Background())
			var fe *StorageFormatError
			if !errors.As(err, &fe) {
				t.Fatalf("LoadAll error = %v, want *StorageFormatError", err)
			}

			_, err = s.Append(context.Background(), Fields{Name: "x"})
			if !errors.As(err, &fe) {
				t.Fatalf("Append error = %v, want *StorageFormatError", err)
			}
		})
	}
}

type brokenDocument struct{ err error }

func (b brokenDocument) Load(context.Context) ([]byte, error) { return nil, b.err }
func (b brokenDocument) Update(context.Context, storage.UpdateFunc) error {
	return b.err
}
func (b brokenDocument) Close() error { return nil }

func TestUnreadableMediumReportsReadError(t *testing.T) {
	cause := errors.New("disk on fire")
	s := NewStore(brokenDocument{err: cause})

	_, err := s.LoadAll(context.Background())
	var re *StorageReadError
	if !errors.As(err, &re) || !errors.Is(err, cause) {
		t.Fatalf("LoadAll error = %v, want *StorageReadError wrapping cause", err)
	}

	_, err = s.Append(context.Background(), Fields{Name: "x"})
	if !errors.As(err, &re) || !errors.Is(err, cause) {
		t.Fatalf("Append error = %v, want *StorageReadError wrapping cause", err)
	}

	_, err = s.FindByID(context.Background(), 1)
	if !errors.As(err, &re) {
		t.Fatalf("FindByID error = %v, want *StorageReadError", err)
	}
}

func TestFindByID(t *testing.T) {
	s := NewStore(memory.New([]byte(`[
  {"id": 1, "name": "Ann", "email": "a@x", "address": "A", "phone": "1"},
  {"id": 2, "name": "Bo", "email": "b@x", "address": "B", "phone": "2"}
]`)))
	ctx := context.Background()

	u, err := s.FindByID(ctx, 2)
	if err != nil {
		t.Fatalf("FindByID(2): %v", err)
	}
	if u.Name != "Bo" {
		t.Fatalf("FindByID(2) = %+v", u)
	}

	if _, err := s.FindByID(ctx, 5); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("FindByID(5) error = %v, want ErrUserNotFound", err)
	}
}

func TestConcurrentAppendsProduceContiguousIDs(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	const n = 25
	ids := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Append(ctx, Fields{Name: "c"})
			if err != nil {
				t.Errorf("Append: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d assigned twice", id)
		}
		seen[id] = true
	}
	for id := 1; id <= n; id++ {
		if !seen[id] {
			t.Fatalf("id %d missing", id)
		}
	}
}

func TestChangeHookRunsAfterCommit(t *testing.T) {
	var s *Store
	var seen []int
	s = NewStore(memory.New(nil), WithChangeHook(func(ctx context.Context) {
		all, err := s.LoadAll(ctx)
		if err != nil {
			t.Errorf("LoadAll in hook: %v", err)
			return
		}
		seen = append(seen, len(all))
	}))

	for i := 0; i < 2; i++ {
		if _, err := s.Append(context.Background(), Fields{Name: "h"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("hook observed %v, want [1 2]", seen)
	}
}

func TestMarshalPrettyDoesNotEscapeHTML(t *testing.T) {
	b, err := MarshalPretty(map[string]string{"error": "a<b>&c"})
	if err != nil {
		t.Fatalf("MarshalPretty: %v", err)
	}
	if !strings.Contains(string(b), `"a<b>&c"`) {
		t.Fatalf("unexpected escaping: %s", b)
	}
	if strings.HasSuffix(string(b), "\n") {
		t.Fatalf("trailing newline in %q", b)
	}
}
