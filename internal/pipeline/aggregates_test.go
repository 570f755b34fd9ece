package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"diario/internal/persistence"
	"diario/internal/storage"
)

type fakeAggDB struct {
	files         []persistence.ProcessedTextFile
	knownHashes   map[string]string // file_path -> hash_info
	ensured       bool
	upserts       []persistence.Aggregate
	upsertChecked []string
}

func (f *fakeAggDB) EnsureAggregatesTable(ctx context.Context) error {
	f.ensured = true
	return nil
}

func (f *fakeAggDB) IterateProcessedTextFiles(ctx context.Context, fn func(persistence.ProcessedTextFile) error) error {
	for _, file := range f.files {
		if err := fn(file); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeAggDB) AggregateNeedsUpsert(ctx context.Context, hash, zipPath string) (bool, error) {
	f.upsertChecked = append(f.upsertChecked, zipPath)
	stored, ok := f.knownHashes[zipPath]
	if !ok {
		return true, nil
	}
	return stored != hash, nil
}

func (f *fakeAggDB) UpsertAggregate(ctx context.Context, agg persistence.Aggregate) error {
	f.upserts = append(f.upserts, agg)
	return nil
}

type fakeArchiveStore struct {
	objects  map[string][]byte
	uploaded map[string][]byte // key -> archive bytes at upload time
}

func newFakeArchiveStore() *fakeArchiveStore {
	return &fakeArchiveStore{objects: map[string][]byte{}, uploaded: map[string][]byte{}}
}

func (f *fakeArchiveStore) Download(ctx context.Context, key string, dst io.Writer) error {
	content, ok := f.objects[key]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	_, err := dst.Write(content)
	return err
}

func (f *fakeArchiveStore) UploadFileMultipart(ctx context.Context, key, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.uploaded[key] = content
	return nil
}

func TestAggregatesPipelineBuildsTerritoryAndStateArchives(t *testing.T) {
	db := &fakeAggDB{
		files: []persistence.ProcessedTextFile{
			{TerritoryID: "2709301", TerritoryName: "Viçosa", StateCode: "AL", Year: 2024, TxtPath: "2709301/2024-01-05/a.pdf"},
			{TerritoryID: "2709301", TerritoryName: "Viçosa", StateCode: "AL", Year: 2024, TxtPath: "2709301/2024-02-10/b.pdf"},
			{TerritoryID: "2704500", TerritoryName: "Major Isidoro", StateCode: "AL", Year: 2024, TxtPath: "2704500/2024-03-01/c.pdf"},
		},
	}
	store := newFakeArchiveStore()
	store.objects["2709301/2024-01-05/a.txt"] = []byte("texto a")
	store.objects["2709301/2024-02-10/b.txt"] = []byte("texto b")
	store.objects["2704500/2024-03-01/c.txt"] = []byte("texto c")

	p := NewAggregatesPipeline(db, store, testLogger())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !db.ensured {
		t.Error("aggregates table not ensured")
	}
	wantArchives := []string{
		"aggregates/AL/alvicosa_2709301_2024.zip",
		"aggregates/AL/almajorisidoro_2704500_2024.zip",
		"aggregates/AL/AL_2024.zip",
	}
	for _, want := range wantArchives {
		if _, ok := store.uploaded[want]; !ok {
			t.Errorf("archive %s not uploaded, uploads: %v", want, store.uploaded)
		}
	}
	if len(db.upserts) != 3 {
		t.Fatalf("got %d upserts, want 3", len(db.upserts))
	}
	for _, agg := range db.upserts {
		if agg.HashInfo == "" || agg.StateCode != "AL" || agg.Year != 2024 {
			t.Errorf("incomplete aggregate row: %+v", agg)
		}
	}
}

func TestAggregatesPipelineArchiveContents(t *testing.T) {
	db := &fakeAggDB{
		files: []persistence.ProcessedTextFile{
			{TerritoryID: "2709301", TerritoryName: "Viçosa", StateCode: "AL", Year: 2023, TxtPath: "2709301/2023-05-05/a.pdf"},
		},
	}
	store := newFakeArchiveStore()
	store.objects["2709301/2023-05-05/a.txt"] = []byte("conteúdo do diário")

	p := NewAggregatesPipeline(db, store, testLogger())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	archive, ok := store.uploaded["aggregates/AL/alvicosa_2709301_2023.zip"]
	if !ok {
		t.Fatalf("territory archive not uploaded: %v", store.uploaded)
	}
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(r.File) != 1 || r.File[0].Name != "2709301/2023-05-05/a.txt" {
		t.Fatalf("unexpected archive entries: %v", r.File)
	}
	rc, err := r.File[0].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(content) != "conteúdo do diário" {
		t.Errorf("entry content = %q", content)
	}
}

func TestAggregatesPipelineSkipsUnchangedArchive(t *testing.T) {
	db := &fakeAggDB{
		files: []persistence.ProcessedTextFile{
			{TerritoryID: "2709301", TerritoryName: "Viçosa", StateCode: "AL", Year: 2023, TxtPath: "2709301/2023-05-05/a.pdf"},
		},
		knownHashes: map[string]string{},
	}
	store := newFakeArchiveStore()
	store.objects["2709301/2023-05-05/a.txt"] = []byte("conteúdo estável")

	// First run records the hashes.
	p := NewAggregatesPipeline(db, store, testLogger())
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	for _, agg := range db.upserts {
		db.knownHashes[agg.FilePath] = agg.HashInfo
	}
	firstUpserts := len(db.upserts)

	// Second run with identical inputs uploads nothing new.
	store.uploaded = map[string][]byte{}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(store.uploaded) != 0 {
		t.Errorf("unchanged archives re-uploaded: %v", store.uploaded)
	}
	if len(db.upserts) != firstUpserts {
		t.Errorf("unchanged archives re-upserted: %d -> %d", firstUpserts, len(db.upserts))
	}
}
