package upload_service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundle-packager/conf"
	"bundle-packager/database"
	"bundle-packager/model"
	"bundle-packager/storage"
)

func newTestService(t *testing.T) (*UploadService, database.Database, storage.Storage) {
	t.Helper()

	db := database.NewMemoryDatabase()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	svc := NewUploadService(db, store, conf.UploaderConfig{
		MaxFileSize:     10,
		ChunkSize:       1024,
		MaxChunkSize:    4096,
		SessionTTLHours: 24,
	})
	return svc, db, store
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func payload(n int) []byte {
	b := make([]byte, n)
	r := rand.New(rand.NewSource(int64(n)))
	r.Read(b)
	return b
}

func split(data []byte, chunkSize int) [][]byte {
	var chunks [][]byte
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

func start(t *testing.T, svc *UploadService, data []byte, hash string, chunkSize int64) *StartSessionResult {
	t.Helper()
	res, err := svc.StartSession(context.Background(), &StartSessionRequest{
		FileName:  "build.zip",
		FileSize:  int64(len(data)),
		FileHash:  hash,
		ChunkSize: chunkSize,
	})
	require.NoError(t, err)
	return res
}

func send(t *testing.T, svc *UploadService, sessionID string, index int, chunk []byte) *ChunkAck {
	t.Helper()
	ack, err := svc.UploadChunk(context.Background(), &UploadChunkRequest{
		SessionId:  sessionID,
		ChunkIndex: index,
		Data:       chunk,
	})
	require.NoError(t, err)
	return ack
}

func TestStartSessionScenario(t *testing.T) {
	t.Parallel()
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.StartSession(ctx, &StartSessionRequest{
		FileName: "build.zip", FileSize: 1048576, FileHash: "abc123", TotalChunks: 1,
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyComplete)
	assert.Equal(t, 0, res.UploadedChunks)
	assert.NotEmpty(t, res.SessionId)

	require.NoError(t, db.CreateUploadArtifact(&model.UploadArtifact{
		FileHash: "abc123", FileName: "build.zip", FileSize: 1048576, StorageKey: "artifacts/abc123/build.zip",
	}))

	res, err = svc.StartSession(ctx, &StartSessionRequest{
		FileName: "build.zip", FileSize: 1048576, FileHash: "abc123", TotalChunks: 1,
	})
	require.NoError(t, err)
	assert.True(t, res.AlreadyComplete)
	assert.Equal(t, res.TotalChunks, res.UploadedChunks)
}

func TestStartSessionValidation(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]*StartSessionRequest{
		"empty name":        {FileSize: 10, FileHash: "ab"},
		"zero size":         {FileName: "a.zip", FileHash: "ab"},
		"too large":         {FileName: "a.zip", FileSize: 11 * 1024 * 1024, FileHash: "ab"},
		"non hex hash":      {FileName: "a.zip", FileSize: 10, FileHash: "xyz"},
		"wrong chunk count": {FileName: "a.zip", FileSize: 2048, FileHash: "ab", TotalChunks: 3},
		"chunk too large":   {FileName: "a.zip", FileSize: 10000, FileHash: "ab", ChunkSize: 8192},
	}
	for name, req := range cases {
		_, err := svc.StartSession(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest, name)
	}
}

func TestChunkPermutationsFinalize(t *testing.T) {
	t.Parallel()

	data := payload(5*1024 + 100)
	chunks := split(data, 1024)
	hash := digest(data)

	orders := [][]int{
		{0, 1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1, 0},
		{2, 5, 0, 3, 1, 4},
	}
	for _, order := range orders {
		svc, _, store := newTestService(t)
		ctx := context.Background()

		res := start(t, svc, data, hash, 1024)
		require.Equal(t, 6, res.TotalChunks)

		for i, idx := range order {
			if i == len(order)-1 {
				_, err := svc.Finalize(ctx, res.SessionId)
				var incomplete *IncompleteUploadError
				require.ErrorAs(t, err, &incomplete)
				assert.Equal(t, []int{idx}, incomplete.Missing)
			}
			send(t, svc, res.SessionId, idx, chunks[idx])
		}

		out, err := svc.Finalize(ctx, res.SessionId)
		require.NoError(t, err)
		assert.True(t, out.Success)
		assert.Equal(t, hash, out.FileHash)

		stored, err := store.Get(out.StorageKey)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, stored))

		// chunk slots are released after a successful finalize
		assert.False(t, store.Exists(chunkKey(hash, 0)))
	}
}

func TestUploadChunkIdempotent(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	data := payload(2048)
	chunks := split(data, 1024)
	res := start(t, svc, data, digest(data), 1024)

	first := send(t, svc, res.SessionId, 0, chunks[0])
	assert.False(t, first.Duplicate)
	assert.Equal(t, 1, first.Received)

	again := send(t, svc, res.SessionId, 0, chunks[0])
	assert.True(t, again.Duplicate)
	assert.Equal(t, 1, again.Received)

	send(t, svc, res.SessionId, 1, chunks[1])
	out, err := svc.Finalize(context.Background(), res.SessionId)
	require.NoError(t, err)
	assert.True(t, out.Success)

	// finalize is idempotent once completed
	out, err = svc.Finalize(context.Background(), res.SessionId)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestUploadChunkOverwriteSameIndex(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data := payload(2048)
	chunks := split(data, 1024)
	res := start(t, svc, data, digest(data), 1024)

	// a corrupted chunk is replaced by re-sending the index
	send(t, svc, res.SessionId, 0, make([]byte, 1024))
	send(t, svc, res.SessionId, 1, chunks[1])
	_, err := svc.Finalize(ctx, res.SessionId)
	require.ErrorIs(t, err, ErrHashMismatch)

	ack := send(t, svc, res.SessionId, 0, chunks[0])
	assert.False(t, ack.Duplicate)

	out, err := svc.Finalize(ctx, res.SessionId)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestUploadChunkRejections(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data := payload(2500)
	res := start(t, svc, data, digest(data), 1024)

	_, err := svc.UploadChunk(ctx, &UploadChunkRequest{SessionId: "missing", ChunkIndex: 0, Data: data[:1024]})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.UploadChunk(ctx, &UploadChunkRequest{SessionId: res.SessionId, ChunkIndex: 3, Data: data[:1024]})
	assert.ErrorIs(t, err, ErrInvalidChunk)

	_, err = svc.UploadChunk(ctx, &UploadChunkRequest{SessionId: res.SessionId, ChunkIndex: 0, Data: data[:10]})
	assert.ErrorIs(t, err, ErrInvalidChunk)

	// last chunk carries the remainder
	_, err = svc.UploadChunk(ctx, &UploadChunkRequest{SessionId: res.SessionId, ChunkIndex: 2, Data: data[:1024]})
	assert.ErrorIs(t, err, ErrInvalidChunk)
	send(t, svc, res.SessionId, 2, data[2048:])

	_, err = svc.UploadChunk(ctx, &UploadChunkRequest{SessionId: res.SessionId, ChunkIndex: 0, TotalChunks: 4, Data: data[:1024]})
	assert.ErrorIs(t, err, ErrInvalidChunk)

	_, err = svc.UploadChunk(ctx, &UploadChunkRequest{SessionId: res.SessionId, ChunkIndex: 0, FileHash: "ff", Data: data[:1024]})
	assert.ErrorIs(t, err, ErrInvalidChunk)
}

func TestFinalizeFailuresKeepSessionResumable(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data := payload(3000)
	chunks := split(data, 1024)
	wrongHash := digest([]byte("something else"))
	res := start(t, svc, data, wrongHash, 1024)

	send(t, svc, res.SessionId, 0, chunks[0])
	_, err := svc.Finalize(ctx, res.SessionId)
	require.ErrorIs(t, err, ErrIncompleteUpload)

	send(t, svc, res.SessionId, 1, chunks[1])
	send(t, svc, res.SessionId, 2, chunks[2])
	_, err = svc.Finalize(ctx, res.SessionId)
	require.ErrorIs(t, err, ErrHashMismatch)

	session, err := svc.GetSession(ctx, res.SessionId)
	require.NoError(t, err)
	assert.Equal(t, model.UploadSessionStatusFailed, session.Status)
	assert.Equal(t, []int{0, 1, 2}, session.ReceivedChunks)

	// still accepts chunks after a failed finalize
	ack := send(t, svc, res.SessionId, 1, chunks[1])
	assert.True(t, ack.Duplicate)
}

func TestResumeAcrossSessions(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data := payload(4096)
	chunks := split(data, 1024)
	hash := digest(data)

	first := start(t, svc, data, hash, 1024)
	send(t, svc, first.SessionId, 0, chunks[0])
	send(t, svc, first.SessionId, 2, chunks[2])
	require.NoError(t, svc.AbandonSession(ctx, first.SessionId))

	_, err := svc.GetSession(ctx, first.SessionId)
	require.ErrorIs(t, err, ErrSessionNotFound)

	second := start(t, svc, data, hash, 1024)
	assert.Equal(t, 2, second.UploadedChunks)
	assert.Equal(t, []int{0, 2}, second.ReceivedChunks)

	send(t, svc, second.SessionId, 1, chunks[1])
	send(t, svc, second.SessionId, 3, chunks[3])
	_, err = svc.Finalize(ctx, second.SessionId)
	require.NoError(t, err)

	rc, artifact, err := svc.OpenArtifact(ctx, second.SessionId)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "build.zip", artifact.FileName)
}

func TestResumeWithDifferentChunkSize(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data := payload(10)
	hash := digest(data)

	first := start(t, svc, data, hash, 4)
	send(t, svc, first.SessionId, 0, data[:4])

	// slot 0 holds 4 bytes, a 5-byte layout cannot reuse it
	second := start(t, svc, data, hash, 5)
	assert.Equal(t, 2, second.TotalChunks)
	assert.Zero(t, second.UploadedChunks)
	assert.Empty(t, second.ReceivedChunks)

	ack := send(t, svc, second.SessionId, 1, data[5:])
	assert.Equal(t, 1, ack.Received)

	_, err := svc.Finalize(ctx, second.SessionId)
	var incomplete *IncompleteUploadError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []int{0}, incomplete.Missing)

	ack = send(t, svc, second.SessionId, 0, data[:5])
	assert.False(t, ack.Duplicate)
	assert.Equal(t, 2, ack.Received)

	res, err := svc.Finalize(ctx, second.SessionId)
	require.NoError(t, err)
	assert.Equal(t, hash, res.FileHash)

	rc, _, err := svc.OpenArtifact(ctx, second.SessionId)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestConcurrentChunks(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data := payload(16 * 1024)
	chunks := split(data, 1024)
	res := start(t, svc, data, digest(data), 1024)

	var wg sync.WaitGroup
	for i := range chunks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UploadChunk(ctx, &UploadChunkRequest{SessionId: res.SessionId, ChunkIndex: i, Data: chunks[i]})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	out, err := svc.Finalize(ctx, res.SessionId)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestOpenArtifactRequiresCompletedSession(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	data := payload(100)
	res := start(t, svc, data, digest(data), 1024)

	_, _, err := svc.OpenArtifact(context.Background(), res.SessionId)
	assert.True(t, errors.Is(err, ErrIncompleteUpload))
}

func TestCleanupExpiredSessions(t *testing.T) {
	t.Parallel()
	svc, _, store := newTestService(t)
	ctx := context.Background()

	data := payload(2048)
	chunks := split(data, 1024)
	hash := digest(data)

	res := start(t, svc, data, hash, 1024)
	send(t, svc, res.SessionId, 0, chunks[0])

	// not expired yet
	n, err := svc.CleanupExpiredSessions(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = svc.GetSession(ctx, res.SessionId)
	require.ErrorIs(t, err, ErrSessionNotFound)

	n, err = svc.CleanupExpiredSessions(ctx, time.Now().Add(25*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, store.Exists(chunkKey(hash, 0)))
}
