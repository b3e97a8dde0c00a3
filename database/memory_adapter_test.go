package database

import (
	"testing"
	"time"

	"bundle-packager/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runDatabaseSuite exercises the Database contract shared by all adapters.
func runDatabaseSuite(t *testing.T, db Database) {
	t.Helper()

	t.Run("sessions", func(t *testing.T) {
		s := &model.UploadSession{
			SessionId: "s-1", FileName: "build.zip", FileHash: "h1", TotalChunks: 2,
			Status: model.UploadSessionStatusPending, ExpiresAt: time.Now().Add(-time.Minute),
		}
		require.NoError(t, db.CreateUploadSession(s))
		require.ErrorIs(t, db.CreateUploadSession(&model.UploadSession{SessionId: "s-1"}), ErrDuplicate)

		got, err := db.GetUploadSession("s-1")
		require.NoError(t, err)
		assert.Equal(t, "build.zip", got.FileName)

		got.Status = model.UploadSessionStatusUploading
		require.NoError(t, db.UpdateUploadSession(got))
		got, err = db.GetUploadSession("s-1")
		require.NoError(t, err)
		assert.Equal(t, model.UploadSessionStatusUploading, got.Status)

		n, err := db.CountUploadSessionsByHash("h1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		expired, err := db.ListExpiredUploadSessions(time.Now(), 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)

		require.NoError(t, db.DeleteUploadSession("s-1"))
		_, err = db.GetUploadSession("s-1")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("chunks", func(t *testing.T) {
		for _, idx := range []int{2, 0, 1} {
			require.NoError(t, db.SaveUploadChunk(&model.UploadChunk{FileHash: "h2", ChunkIndex: idx, ChunkHash: "a"}))
		}
		// upsert overwrites the slot
		require.NoError(t, db.SaveUploadChunk(&model.UploadChunk{FileHash: "h2", ChunkIndex: 1, ChunkHash: "b"}))

		chunks, err := db.ListUploadChunks("h2")
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
		}
		assert.Equal(t, "b", chunks[1].ChunkHash)

		c, err := db.GetUploadChunk("h2", 1)
		require.NoError(t, err)
		assert.Equal(t, "b", c.ChunkHash)

		require.NoError(t, db.DeleteUploadChunks("h2"))
		chunks, err = db.ListUploadChunks("h2")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("artifacts", func(t *testing.T) {
		require.NoError(t, db.CreateUploadArtifact(&model.UploadArtifact{FileHash: "h3", StorageKey: "k"}))
		require.ErrorIs(t, db.CreateUploadArtifact(&model.UploadArtifact{FileHash: "h3"}), ErrDuplicate)

		a, err := db.GetUploadArtifactByHash("h3")
		require.NoError(t, err)
		assert.Equal(t, "k", a.StorageKey)

		_, err = db.GetUploadArtifactByHash("missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("jobs and tasks", func(t *testing.T) {
		for _, id := range []string{"j-1", "j-2", "j-3"} {
			require.NoError(t, db.CreatePackagingJob(&model.PackagingJob{
				JobId: id, Platforms: []model.Platform{model.PlatformLinux}, Status: model.JobStatusQueued,
			}))
		}
		for _, id := range []string{"t-1", "t-2"} {
			require.NoError(t, db.CreatePlatformTask(&model.PlatformTask{
				TaskId: id, JobId: "j-1", Platform: model.PlatformLinux, Status: model.TaskStatusQueued,
			}))
		}

		tasks, err := db.ListPlatformTasks("j-1")
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "t-1", tasks[0].TaskId)

		tasks[0].Status = model.TaskStatusFailed
		tasks[0].Error = &model.ErrorRecord{Type: model.ErrorTypeBuildFailed, Suggestions: []string{"x"}}
		require.NoError(t, db.UpdatePlatformTask(tasks[0]))
		task, err := db.GetPlatformTask("t-1")
		require.NoError(t, err)
		require.NotNil(t, task.Error)
		assert.Equal(t, model.ErrorTypeBuildFailed, task.Error.Type)

		page, next, err := db.ListPackagingJobsWithCursor(0, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "j-3", page[0].JobId)
		assert.EqualValues(t, 2, next)

		page, _, err = db.ListPackagingJobsWithCursor(next, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)

		queued, err := db.ListPackagingJobsByStatus(model.JobStatusQueued, 0)
		require.NoError(t, err)
		assert.Len(t, queued, 3)

		require.NoError(t, db.DeletePackagingJob("j-1"))
		_, err = db.GetPackagingJob("j-1")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = db.GetPlatformTask("t-1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryDatabase(t *testing.T) {
	t.Parallel()

	db := NewMemoryDatabase()
	defer db.Close()

	runDatabaseSuite(t, db)
}

func TestMemoryDatabaseReturnsCopies(t *testing.T) {
	t.Parallel()

	db := NewMemoryDatabase()
	job := &model.PackagingJob{JobId: "j", Options: map[string]string{"a": "1"}}
	require.NoError(t, db.CreatePackagingJob(job))

	got, err := db.GetPackagingJob("j")
	require.NoError(t, err)
	got.Options["a"] = "2"
	got.Status = model.JobStatusFailed

	again, err := db.GetPackagingJob("j")
	require.NoError(t, err)
	assert.Equal(t, "1", again.Options["a"])
	assert.Empty(t, again.Status)
}

func TestNewDatabaseUnsupported(t *testing.T) {
	t.Parallel()

	_, err := NewDatabase("mongo", nil)
	require.ErrorIs(t, err, ErrUnsupportedDBType)
}
