package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"pixelbridge/internal/adapters/converter"
	"pixelbridge/internal/adapters/memory"
	"pixelbridge/internal/core/domain"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEncoder struct {
	pixels []domain.PixelRecord
	err    error
	calls  int
}

func (m *mockEncoder) Encode(_ []byte, _ int, _ uint8) ([]domain.PixelRecord, error) {
	m.calls++
	return m.pixels, m.err
}

type mockFetcher struct {
	body []byte
	err  error
	urls []string
}

func (m *mockFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	m.urls = append(m.urls, url)
	return m.body, m.err
}

// faultyStore wraps the memory store and injects failures per operation.
type faultyStore struct {
	*memory.Store
	pingErr       error
	failWritePath string
	writeErr      error
	beforeWrite   func(path string)
}

func (f *faultyStore) Ping(ctx context.Context) (domain.Diagnostics, error) {
	if f.pingErr != nil {
		return domain.Diagnostics{}, f.pingErr
	}
	return f.Store.Ping(ctx)
}

func (f *faultyStore) Write(ctx context.Context, path string, content []byte, message, expectedHash string) error {
	if f.beforeWrite != nil {
		f.beforeWrite(path)
	}
	if path == f.failWritePath {
		return f.writeErr
	}
	return f.Store.Write(ctx, path, content, message, expectedHash)
}

const archiveHost = "https://example.org"

var testSettings = Settings{
	CanvasSize:     2,
	AlphaThreshold: converter.DefaultAlphaThreshold,
	DocumentPath:   "drawing.json",
	ImagesFolder:   "images",
}

func redPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}

	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))

	return buf.Bytes()
}

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func readDrawing(t *testing.T, store *memory.Store) domain.DrawingDocument {
	t.Helper()

	body, err := store.Read(t.Context(), "drawing.json")
	require.NoError(t, err)

	var doc domain.DrawingDocument
	require.NoError(t, json.Unmarshal(body, &doc))

	return doc
}

func TestConvertUploadRedScenario(t *testing.T) {
	store := memory.NewStore("https://raw.example.org/o/r/main")
	svc := NewConversion(store, converter.NewPixelConverter(), &mockFetcher{}, testSettings, nil)
	svc.now = fixedClock(time.Unix(1700000000, 0))

	res, err := svc.ConvertUpload(t.Context(), redPNG(t), "My Photo! (1).PNG")
	require.NoError(t, err)

	assert.Equal(t, 4, res.TotalPixels)
	assert.Equal(t, 2, res.CanvasSize)
	assert.Equal(t, "https://raw.example.org/o/r/main/drawing.json", res.DrawingURL)
	require.NotNil(t, res.Entry)
	assert.Equal(t, "1700000000001_my_photo_1.png", res.Entry.Filename)
	assert.Equal(t, "images/1700000000001_my_photo_1.png", res.Entry.Path)
	assert.Equal(t, "https://raw.example.org/o/r/main/images/1700000000001_my_photo_1.png", res.Entry.PublicURL)

	archived, err := store.Read(t.Context(), res.Entry.Path)
	require.NoError(t, err)
	assert.Equal(t, redPNG(t), archived)

	doc := readDrawing(t, store)
	assert.Equal(t, []domain.PixelRecord{
		{X: 1, Y: 1, R: 255},
		{X: 2, Y: 1, R: 255},
		{X: 1, Y: 2, R: 255},
		{X: 2, Y: 2, R: 255},
	}, doc.Pixels)
	assert.Equal(t, 4, doc.Meta.TotalPixels)
	assert.Equal(t, res.Entry.PublicURL, doc.Meta.ImageURL)
	assert.Equal(t, res.Entry.Filename, doc.Meta.Filename)

	commits := store.Commits()
	require.Len(t, commits, 2)
	assert.Equal(t, "Upload image 1700000000001_my_photo_1.png", commits[0].Message)
	assert.Equal(t, "Update drawing from 1700000000001_my_photo_1.png (4 pixels)", commits[1].Message)
}

func TestPublishRoundTripChangesStamp(t *testing.T) {
	store := memory.NewStore(archiveHost)
	enc := &mockEncoder{pixels: []domain.PixelRecord{{X: 1, Y: 1}, {X: 2, Y: 2, B: 9}}}
	svc := NewConversion(store, enc, &mockFetcher{body: []byte("img")}, testSettings, nil)
	svc.now = fixedClock(time.Unix(1700000000, 0))

	_, err := svc.ConvertFromURL(t.Context(), "https://example.org/images/a.png", "")
	require.NoError(t, err)
	first := readDrawing(t, store)

	_, err = svc.ConvertFromURL(t.Context(), "https://example.org/images/a.png", "")
	require.NoError(t, err)
	second := readDrawing(t, store)

	assert.Equal(t, len(second.Pixels), second.Meta.TotalPixels)
	assert.NotEqual(t, first.Stamp(), second.Stamp())
	assert.Equal(t, "a.png", second.Meta.Filename)
}

func TestConvertUploadValidation(t *testing.T) {
	enc := &mockEncoder{}
	svc := NewConversion(memory.NewStore(archiveHost), enc, &mockFetcher{}, testSettings, nil)

	_, err := svc.ConvertUpload(t.Context(), nil, "a.png")
	require.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Equal(t, 0, enc.calls)
}

func TestUnconfiguredStoreFailsWithConfigError(t *testing.T) {
	enc := &mockEncoder{}
	svc := NewConversion(nil, enc, &mockFetcher{}, testSettings, []string{"GITHUB_TOKEN is not set"})
	ctx := t.Context()

	_, err := svc.ConvertUpload(ctx, []byte("img"), "a.png")
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")

	_, err = svc.ConvertFromURL(ctx, "https://example.org/images/a.png", "a")
	require.ErrorIs(t, err, domain.ErrConfig)

	_, err = svc.ListArchive(ctx)
	require.ErrorIs(t, err, domain.ErrConfig)

	require.ErrorIs(t, svc.DeleteArchiveEntry(ctx, "a.png"), domain.ErrConfig)

	_, err = svc.Drawing(ctx)
	require.ErrorIs(t, err, domain.ErrConfig)

	assert.Equal(t, 0, enc.calls)

	report := svc.CheckConfig(ctx)
	assert.False(t, report.OK)
	assert.Equal(t, []string{"GITHUB_TOKEN is not set"}, report.Issues)
}

func TestConvertUploadFailsFastWhenStoreUnreachable(t *testing.T) {
	store := &faultyStore{Store: memory.NewStore(archiveHost), pingErr: domain.ErrAuth}
	enc := &mockEncoder{}
	svc := NewConversion(store, enc, &mockFetcher{}, testSettings, nil)

	_, err := svc.ConvertUpload(t.Context(), []byte("img"), "a.png")
	require.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, 0, enc.calls)
	assert.Empty(t, store.Commits())
}

func TestConvertUploadDecodeErrorArchivesNothing(t *testing.T) {
	store := memory.NewStore(archiveHost)
	svc := NewConversion(store, converter.NewPixelConverter(), &mockFetcher{}, testSettings, nil)

	_, err := svc.ConvertUpload(t.Context(), []byte("not an image"), "a.png")
	require.ErrorIs(t, err, domain.ErrDecode)
	assert.Empty(t, store.Commits())
}

func TestConvertUploadPublishFailureKeepsArchive(t *testing.T) {
	store := &faultyStore{
		Store:         memory.NewStore("https://raw.example.org"),
		failWritePath: "drawing.json",
		writeErr:      domain.ErrTransient,
	}
	svc := NewConversion(store, &mockEncoder{pixels: []domain.PixelRecord{{X: 1, Y: 1}}}, &mockFetcher{},
		testSettings, nil)

	_, err := svc.ConvertUpload(t.Context(), []byte("img"), "cat.png")
	require.ErrorIs(t, err, domain.ErrTransient)

	var publishErr *domain.PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.True(t, strings.HasSuffix(publishErr.Entry.Filename, "_cat.png"))

	files, err := store.List(t.Context(), "images")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, publishErr.Entry.Path, files[0].Path)
	assert.Equal(t, publishErr.Entry.PublicURL, files[0].RawURL)
}

func TestPublishLosesRaceWithConflict(t *testing.T) {
	inner := memory.NewStore(archiveHost)
	require.NoError(t, inner.Write(t.Context(), "drawing.json", []byte("{}"), "seed", ""))

	raced := false
	store := &faultyStore{Store: inner}
	store.beforeWrite = func(path string) {
		if path != "drawing.json" || raced {
			return
		}
		raced = true
		sha, err := inner.ReadHash(context.Background(), path)
		require.NoError(t, err)
		require.NoError(t, inner.Write(context.Background(), path, []byte(`{"other":true}`), "concurrent", sha))
	}

	svc := NewConversion(store, &mockEncoder{pixels: []domain.PixelRecord{}}, &mockFetcher{body: []byte("x")},
		testSettings, nil)

	_, err := svc.ConvertFromURL(t.Context(), "https://example.org/images/a.png", "a.png")
	require.ErrorIs(t, err, domain.ErrConflict)

	body, err := inner.Read(t.Context(), "drawing.json")
	require.NoError(t, err)
	assert.Equal(t, `{"other":true}`, string(body))
}

func TestConvertFromURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		fetchErr error
		encErr   error
		wantErr  error
	}{
		{name: "success", url: "https://example.org/images/x.png"},
		{name: "missing url", url: "  ", wantErr: domain.ErrValidation},
		{name: "internal host", url: "http://169.254.169.254/latest/meta-data", wantErr: domain.ErrValidation},
		{name: "other host", url: "https://evil.example.net/images/x.png", wantErr: domain.ErrValidation},
		{name: "outside archive folder", url: "https://example.org/drawing.json", wantErr: domain.ErrValidation},
		{name: "climbs out of folder", url: "https://example.org/images/../secret.png", wantErr: domain.ErrValidation},
		{name: "escaped dot segments", url: "https://example.org/images/%2e%2e/secret.png",
			wantErr: domain.ErrValidation},
		{name: "scheme mismatch", url: "http://example.org/images/x.png", wantErr: domain.ErrValidation},
		{name: "credentials in url", url: "https://user@example.org/images/x.png", wantErr: domain.ErrValidation},
		{name: "fetch fails", url: "https://example.org/images/x.png", fetchErr: domain.ErrNotFound, wantErr: domain.ErrNotFound},
		{name: "decode fails", url: "https://example.org/images/x.png", encErr: domain.ErrDecode, wantErr: domain.ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore(archiveHost)
			fetcher := &mockFetcher{body: []byte("img"), err: tt.fetchErr}
			enc := &mockEncoder{pixels: []domain.PixelRecord{{X: 1, Y: 2}}, err: tt.encErr}
			svc := NewConversion(store, enc, fetcher, testSettings, nil)

			res, err := svc.ConvertFromURL(t.Context(), tt.url, "shown.png")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
				if errors.Is(tt.wantErr, domain.ErrValidation) {
					assert.Empty(t, fetcher.urls, "rejected urls are never fetched")
				}
				return
			}

			require.NoError(t, err)
			assert.Nil(t, res.Entry)
			assert.Equal(t, 1, res.TotalPixels)
			assert.Equal(t, []string{tt.url}, fetcher.urls)

			doc := readDrawing(t, store)
			assert.Equal(t, "shown.png", doc.Meta.Filename)
			assert.Equal(t, tt.url, doc.Meta.ImageURL)

			files, err := store.List(t.Context(), "images")
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestListAndDeleteArchive(t *testing.T) {
	store := memory.NewStore(archiveHost)
	ctx := t.Context()
	require.NoError(t, store.Write(ctx, "images/a.png", []byte("a"), "add", ""))
	require.NoError(t, store.Write(ctx, "images/b.png", []byte("b"), "add", ""))

	svc := NewConversion(store, &mockEncoder{}, &mockFetcher{}, testSettings, nil)

	files, err := svc.ListArchive(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	require.NoError(t, svc.DeleteArchiveEntry(ctx, "a.png"))
	require.ErrorIs(t, svc.DeleteArchiveEntry(ctx, "a.png"), domain.ErrNotFound)
	require.ErrorIs(t, svc.DeleteArchiveEntry(ctx, "../drawing.json"), domain.ErrValidation)
	require.ErrorIs(t, svc.DeleteArchiveEntry(ctx, ""), domain.ErrValidation)

	files, err = svc.ListArchive(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.png", files[0].Name)

	commits := store.Commits()
	assert.Equal(t, "Delete image a.png", commits[len(commits)-1].Message)
}

func TestDrawing(t *testing.T) {
	store := memory.NewStore(archiveHost)
	svc := NewConversion(store, &mockEncoder{pixels: []domain.PixelRecord{{X: 1, Y: 1, G: 3}}},
		&mockFetcher{body: []byte("x")}, testSettings, nil)

	_, err := svc.Drawing(t.Context())
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ConvertFromURL(t.Context(), "https://example.org/images/a.png", "a.png")
	require.NoError(t, err)

	doc, err := svc.Drawing(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Meta.TotalPixels)
	assert.Equal(t, uint8(3), doc.Pixels[0].G)
}

func TestCheckConfig(t *testing.T) {
	ok := NewConversion(memory.NewStore(archiveHost), &mockEncoder{}, &mockFetcher{}, testSettings, nil).CheckConfig(t.Context())
	assert.True(t, ok.OK)
	assert.Empty(t, ok.Issues)
	assert.Equal(t, "memory", ok.Diagnostics.Repository)

	store := &faultyStore{Store: memory.NewStore(archiveHost), pingErr: errors.Join(domain.ErrForbidden, errors.New("nope"))}
	bad := NewConversion(store, &mockEncoder{}, &mockFetcher{}, testSettings, nil).CheckConfig(t.Context())
	assert.False(t, bad.OK)
	require.Len(t, bad.Issues, 1)
	assert.Contains(t, bad.Issues[0], "lacks permission")
}
