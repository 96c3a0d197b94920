package services

import (
	"bytes"
	"context"
	"database/sql"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/visionledger/clock"
	"github.com/camden-git/visionledger/database"
	"github.com/camden-git/visionledger/generators"
	"github.com/camden-git/visionledger/media"
	"github.com/camden-git/visionledger/realtime"
	"github.com/camden-git/visionledger/repository"
)

type testEnv struct {
	db     *sql.DB
	gormDB *gorm.DB
	root   string
	store  *media.LocalStorage
	clock  *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := database.InitDB(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := database.InitGormDB(db, "silent")
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC), time.Second)
	root := filepath.Join(dir, "media")
	store, err := media.NewLocalStorage(root, map[media.AssetType]string{
		media.AssetTypeUpload:    "uploads",
		media.AssetTypeGenerated: "generated_images",
	}, clk)
	require.NoError(t, err)

	return &testEnv{db: db, gormDB: gormDB, root: root, store: store, clock: clk}
}

func (e *testEnv) imageLibrary(timeout time.Duration) *ImageLibrary {
	cache := NewAnswerCache(e.db, e.store, timeout)
	return NewImageLibrary(e.db, repository.NewImageRepository(e.gormDB), e.store, cache, e.clock)
}

func (e *testEnv) ledger(gen generators.ImageGenerator, opts LedgerOptions) *GenerationLedger {
	return e.ledgerWithStore(gen, e.store, opts)
}

func (e *testEnv) ledgerWithStore(gen generators.ImageGenerator, store media.Store, opts LedgerOptions) *GenerationLedger {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	repo := repository.NewGeneratedImageRepository(e.gormDB)
	return NewGenerationLedger(e.db, repo, store, media.NewProcessor(), gen, e.clock, opts)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

// fakeImageGenerator echoes the requested seed, or 42 when none is given.
type fakeImageGenerator struct {
	image []byte
	err   error
	wait  bool // block until the context is done
}

func (g *fakeImageGenerator) ModelID() string { return "fake-model" }

func (g *fakeImageGenerator) Generate(ctx context.Context, req generators.ImageRequest) (generators.ImageResult, error) {
	if g.wait {
		<-ctx.Done()
		return generators.ImageResult{}, ctx.Err()
	}
	if g.err != nil {
		return generators.ImageResult{}, g.err
	}
	seed := int64(42)
	if req.Seed != nil {
		seed = *req.Seed
	}
	return generators.ImageResult{Image: g.image, SeedUsed: seed}, nil
}

type recordingPublisher struct {
	events chan realtime.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(chan realtime.Event, 64)}
}

func (p *recordingPublisher) Broadcast(event realtime.Event) {
	p.events <- event
}

func (p *recordingPublisher) statuses() []string {
	var out []string
	for {
		select {
		case e := <-p.events:
			out = append(out, e.Status)
		default:
			return out
		}
	}
}

// failingStore accepts reads but refuses every write.
type failingStore struct {
	media.Store
}

func (failingStore) Save(ctx context.Context, assetType media.AssetType, logicalName string, data []byte) (media.Reference, error) {
	return media.Reference{}, media.ErrStorage
}

func int64Ptr(v int64) *int64 { return &v }
