package debrid

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidInfoHash(t *testing.T) {
	require.True(t, ValidInfoHash("dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"))
	require.False(t, ValidInfoHash("DD8255ECDC7CA55FB0BBF81323D87062DB1F6D1C"))
	require.False(t, ValidInfoHash("dd8255"))
	require.False(t, ValidInfoHash(""))
	require.False(t, ValidInfoHash("zz8255ecdc7ca55fb0bbf81323d87062db1f6d1c"))
}

func TestNormalizeInfoHash(t *testing.T) {
	hash, ok := NormalizeInfoHash(" DD8255ECDC7CA55FB0BBF81323D87062DB1F6D1C ")
	require.True(t, ok)
	require.Equal(t, "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c", hash)

	_, ok = NormalizeInfoHash("not a hash")
	require.False(t, ok)
}

func TestBuildMagnetRoundTrip(t *testing.T) {
	hash := "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"
	magnet := BuildMagnet(hash, "Big Buck Bunny", []string{"udp://example.com:80/announce"})
	require.True(t, strings.HasPrefix(magnet, "magnet:?xt=urn:btih:"+hash))
	require.Contains(t, magnet, "dn=Big+Buck+Bunny")
	require.Contains(t, magnet, "udp%3A%2F%2Fexample.com")

	got, err := InfoHashFromMagnet(magnet)
	require.NoError(t, err)
	require.Equal(t, hash, got)
}

func TestInfoHashFromMagnetErrors(t *testing.T) {
	_, err := InfoHashFromMagnet("https://example.com")
	require.Error(t, err)
	_, err = InfoHashFromMagnet("magnet:?dn=NoHash")
	require.Error(t, err)
	_, err = InfoHashFromMagnet("magnet:?xt=urn:btih:tooshort")
	require.Error(t, err)
}

func TestInfoHashFromTorrent(t *testing.T) {
	// A minimal well-formed metainfo file; the hash covers only the
	// bencoded info dictionary.
	info := "d6:lengthi1024e4:name8:test.mkv12:piece lengthi16384e6:pieces20:aaaaaaaaaaaaaaaaaaaae"
	torrent := []byte("d8:announce29:udp://example.com:80/announce4:info" + info + "e")

	want := sha1.Sum([]byte(info))
	got, err := InfoHashFromTorrent(torrent)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestInfoHashFromTorrentErrors(t *testing.T) {
	_, err := InfoHashFromTorrent([]byte("not bencode"))
	require.Error(t, err)
	_, err = InfoHashFromTorrent([]byte("de"))
	require.Error(t, err)
}

func TestCheckHashesChunked(t *testing.T) {
	var hashes []string
	for i := 0; i < 1200; i++ {
		sum := sha1.Sum([]byte(fmt.Sprintf("torrent-%d", i)))
		hashes = append(hashes, hex.EncodeToString(sum[:]))
	}
	hashes = append(hashes, "not-a-hash")

	var mu sync.Mutex
	var batchSizes []int
	result, err := CheckHashesChunked(context.Background(), hashes, func(ctx context.Context, batch []string) (map[string]bool, error) {
		mu.Lock()
		batchSizes = append(batchSizes, len(batch))
		mu.Unlock()
		available := make(map[string]bool, len(batch))
		for _, h := range batch {
			available[h] = true
		}
		return available, nil
	})
	require.NoError(t, err)
	require.Len(t, result, 1200)
	require.Len(t, batchSizes, 3)
	for _, size := range batchSizes {
		require.LessOrEqual(t, size, MaxHashesPerCheck)
	}
}

func TestCheckHashesChunkedPartialFailure(t *testing.T) {
	var hashes []string
	for i := 0; i < 600; i++ {
		sum := sha1.Sum([]byte(fmt.Sprintf("torrent-%d", i)))
		hashes = append(hashes, hex.EncodeToString(sum[:]))
	}

	var failed int32
	result, err := CheckHashesChunked(context.Background(), hashes, func(ctx context.Context, batch []string) (map[string]bool, error) {
		if atomic.CompareAndSwapInt32(&failed, 0, 1) {
			return nil, errors.New("boom")
		}
		available := make(map[string]bool, len(batch))
		for _, h := range batch {
			available[h] = true
		}
		return available, nil
	})
	// The surviving batch's results come through
	require.Error(t, err)
	require.NotEmpty(t, result)
}

func TestCheckHashesChunkedEmpty(t *testing.T) {
	result, err := CheckHashesChunked(context.Background(), nil, func(ctx context.Context, batch []string) (map[string]bool, error) {
		t.Fatal("check must not be called for empty input")
		return nil, nil
	})
	require.NoError(t, err)
	require.Empty(t, result)
}

func TestErrorKinds(t *testing.T) {
	err := NewHTTPError(401, "401 Unauthorized", "")
	require.Equal(t, ErrUnauthorized, err.Kind)
	require.True(t, IsKind(err, ErrUnauthorized))

	require.Equal(t, ErrTooManyRequests, NewHTTPError(429, "", "").Kind)
	require.Equal(t, ErrNotFound, NewHTTPError(404, "", "").Kind)
	require.Equal(t, ErrStoreLimitExceeded, NewHTTPError(402, "", "").Kind)
	require.Equal(t, ErrUnknown, NewHTTPError(500, "", "").Kind)

	wrapped := fmt.Errorf("outer: %w", NewError(ErrNoMatchingFile, errors.New("no video file")))
	require.Equal(t, ErrNoMatchingFile, KindOf(wrapped))
	require.Equal(t, ErrUnknown, KindOf(errors.New("plain")))
}
