package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func packOne(t *testing.T, typ string, entries map[string][]uint64, opts ...Option) []byte {
	t.Helper()
	c := NewMemory("pack", opts...)
	for k, v := range entries {
		require.NoError(t, c.Set(typ, 0, k, v, AllLanguages))
	}
	blob, err := c.Pack(typ, 0)
	require.NoError(t, err)
	return blob
}

func loadedGet(t *testing.T, blob []byte, typ, key string) []uint64 {
	t.Helper()
	c := NewMemory("load")
	require.NoError(t, c.LoadSync(blob, typ, 0))
	got, err := c.Get(context.Background(), typ, 0, key)
	require.NoError(t, err)
	return got
}

func TestListEncodingKeepsOrder(t *testing.T) {
	for _, in := range [][]uint64{
		nil,
		{0},
		{0, 1, 2, 3, 10, 11, 12, 13},
		{13, 12, 3, 3, 0},
		{1<<53 - 1, 0, 1<<53 - 1},
	} {
		got, err := decodeList(encodeList(in))
		require.NoError(t, err)
		assert.Equal(t, len(in), len(got))
		if len(in) > 0 {
			assert.Equal(t, in, got)
		}
	}
	_, err := decodeList([]byte{5, 1})
	assert.ErrorIs(t, err, apperrors.ErrCorruptRecord)
}

func TestMergeConcatUnion(t *testing.T) {
	a := packOne(t, TypeGrid, map[string][]uint64{"key": {0, 1, 2, 3}, "onlya": {5, 6}})
	b := packOne(t, TypeGrid, map[string][]uint64{"key": {10, 11, 12, 13}, "onlyb": {7}})

	merged, err := MergeBlobs(a, b, MergeConcat)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3, 10, 11, 12, 13}, loadedGet(t, merged, TypeGrid, "key"))
	assert.Equal(t, []uint64{5, 6}, loadedGet(t, merged, TypeGrid, "onlya"))
	assert.Equal(t, []uint64{7}, loadedGet(t, merged, TypeGrid, "onlyb"))
}

func TestMergeFreq(t *testing.T) {
	a := packOne(t, TypeFreq, map[string][]uint64{FreqMaxKey: {4}, FreqCountKey: {10}, "7": {2}})
	b := packOne(t, TypeFreq, map[string][]uint64{FreqMaxKey: {9}, FreqCountKey: {5}, "7": {3}})

	merged, err := MergeBlobs(a, b, MergeFreq)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9}, loadedGet(t, merged, TypeFreq, FreqMaxKey))
	assert.Equal(t, []uint64{15}, loadedGet(t, merged, TypeFreq, FreqCountKey))
	assert.Equal(t, []uint64{2, 3}, loadedGet(t, merged, TypeFreq, "7"))

	// An empty merge type reduces by section type.
	merged, err = MergeBlobs(a, b, "")
	require.NoError(t, err)
	assert.Equal(t, []uint64{9}, loadedGet(t, merged, TypeFreq, FreqMaxKey))
}

func TestMergeUnknownTypeFallsBackToConcat(t *testing.T) {
	a := packOne(t, TypeFreq, map[string][]uint64{FreqMaxKey: {4}})
	b := packOne(t, TypeFreq, map[string][]uint64{FreqMaxKey: {9}})

	merged, err := MergeBlobs(a, b, "something-else")
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 9}, loadedGet(t, merged, TypeFreq, FreqMaxKey))
}

func TestMergeKeepsSeparateShards(t *testing.T) {
	ca := NewMemory("a")
	require.NoError(t, ca.Set(TypeGrid, 1, "k", []uint64{1}, AllLanguages))
	a, err := ca.Pack(TypeGrid, 1)
	require.NoError(t, err)
	cb := NewMemory("b")
	require.NoError(t, cb.Set(TypeGrid, 2, "k", []uint64{2}, AllLanguages))
	b, err := cb.Pack(TypeGrid, 2)
	require.NoError(t, err)

	merged, err := MergeBlobs(a, b, MergeConcat)
	require.NoError(t, err)
	sections, _, err := readBlob(merged)
	require.NoError(t, err)
	require.Len(t, sections, 2)

	c := NewMemory("c")
	require.NoError(t, c.LoadSync(merged, TypeGrid, 2))
	got, err := c.Get(context.Background(), TypeGrid, 2, "k")
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, got)
}

func TestReplaceSectionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streets.pack")

	c := NewMemory("streets")
	require.NoError(t, c.Set(TypeGrid, 0, "main", []uint64{1, 2}, AllLanguages))
	require.NoError(t, c.Set(TypeGrid, 1, "elm", []uint64{3}, AllLanguages))
	require.NoError(t, c.PackFile(path))

	replacement := packOne(t, TypeGrid, map[string][]uint64{"oak": {9}})
	_, err := ReplaceSectionFile(path, replacement, TypeGrid, 1, CompressionNone)
	require.NoError(t, err)

	reloaded, err := LoadMemory("streets", path)
	require.NoError(t, err)
	ctx := context.Background()
	got, err := reloaded.Get(ctx, TypeGrid, 0, "main")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, got)
	got, err = reloaded.Get(ctx, TypeGrid, 1, "elm")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = reloaded.Get(ctx, TypeGrid, 1, "oak")
	require.NoError(t, err)
	assert.Equal(t, []uint64{9}, got)

	fresh := filepath.Join(t.TempDir(), "new.pack")
	_, err = ReplaceSectionFile(fresh, replacement, TypePhrase, 4, CompressionZSTD)
	require.NoError(t, err)
	loaded, err := LoadMemory("new", fresh)
	require.NoError(t, err)
	assert.Equal(t, []uint32{4}, loaded.Shards(TypePhrase))

	_, err = ReplaceSectionFile(fresh, []byte("junk"), TypeGrid, 0, CompressionNone)
	assert.ErrorIs(t, err, apperrors.ErrCorruptRecord)
}

func TestMergeAsyncCallsBackOnce(t *testing.T) {
	a := packOne(t, TypeGrid, map[string][]uint64{"key": {1}})
	b := packOne(t, TypeGrid, map[string][]uint64{"key": {2}})

	c := NewMemory("m")
	done := make(chan []byte, 2)
	c.Merge(a, b, MergeConcat, func(merged []byte, err error) {
		assert.NoError(t, err)
		done <- merged
	})
	select {
	case merged := <-done:
		assert.Equal(t, []uint64{1, 2}, loadedGet(t, merged, TypeGrid, "key"))
	case <-time.After(5 * time.Second):
		t.Fatal("merge callback never ran")
	}

	errs := make(chan error, 1)
	Merge([]byte("junk"), b, MergeConcat, func(merged []byte, err error) {
		assert.Nil(t, merged)
		errs <- err
	})
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, apperrors.ErrCorruptRecord)
	case <-time.After(5 * time.Second):
		t.Fatal("merge callback never ran")
	}
}

func TestBlobCompression(t *testing.T) {
	entries := make(map[string][]uint64)
	for i := 0; i < 200; i++ {
		entries[string(rune('a'+i%26))+string(rune('a'+i/26))] = []uint64{uint64(i), uint64(i) * 3, 42}
	}
	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(comp.String(), func(t *testing.T) {
			blob := packOne(t, TypeGrid, entries, WithCompression(comp))
			sections, used, err := readBlob(blob)
			require.NoError(t, err)
			assert.Equal(t, comp, used)
			require.Len(t, sections, 1)
			assert.Len(t, sections[0].entries, len(entries))
			assert.Equal(t, []uint64{5, 15, 42}, loadedGet(t, blob, TypeGrid, "fa"))
		})
	}
}

func TestReadBlobRejectsCorruption(t *testing.T) {
	blob := packOne(t, TypeGrid, map[string][]uint64{"key": {1, 2, 3}}, WithCompression(CompressionNone))

	_, _, err := readBlob(blob[:10])
	assert.ErrorIs(t, err, apperrors.ErrCorruptRecord)

	badMagic := append([]byte(nil), blob...)
	badMagic[0] ^= 0xff
	_, _, err = readBlob(badMagic)
	assert.ErrorIs(t, err, apperrors.ErrCorruptRecord)

	flipped := append([]byte(nil), blob...)
	flipped[len(flipped)-1] ^= 0xff
	_, _, err = readBlob(flipped)
	assert.ErrorIs(t, err, apperrors.ErrCorruptRecord)

	c := NewMemory("c")
	assert.ErrorIs(t, c.LoadSync(flipped, TypeGrid, 0), apperrors.ErrCorruptRecord)
	assert.Empty(t, c.Shards(TypeGrid))
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, c)
	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	_, err = ParseCompression("gzip")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestLanguageSet(t *testing.T) {
	s, err := Languages(0, 64, 127)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 64, 127}, s.IDs())
	assert.True(t, s.Intersects(MustLanguages(127)))
	assert.False(t, s.Intersects(MustLanguages(1)))
	assert.True(t, AllLanguages.Matches(NoLanguages))
	assert.True(t, s.Matches(AllLanguages))
	assert.False(t, NoLanguages.Matches(s))

	_, err = Languages(128)
	assert.ErrorIs(t, err, apperrors.ErrOutOfRange)

	got, err := languageSetFromTag(func() []byte { b := s.tag(); return b[:] }())
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
