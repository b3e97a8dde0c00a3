package dao

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundle-packager/database"
	"bundle-packager/model"
)

func TestAbsentRecordsAreNil(t *testing.T) {
	db := database.NewMemoryDatabase()

	session, err := NewUploadSessionDAO(db).GetBySessionID("missing")
	require.NoError(t, err)
	assert.Nil(t, session)

	chunk, err := NewUploadChunkDAO(db).Get("ab", 0)
	require.NoError(t, err)
	assert.Nil(t, chunk)

	artifact, err := NewUploadArtifactDAO(db).GetByHash("ab")
	require.NoError(t, err)
	assert.Nil(t, artifact)

	job, err := NewPackagingJobDAO(db).GetByJobID("missing")
	require.NoError(t, err)
	assert.Nil(t, job)

	task, err := NewPlatformTaskDAO(db).GetByTaskID("missing")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestUploadArtifactCreateIsIdempotent(t *testing.T) {
	dao := NewUploadArtifactDAO(database.NewMemoryDatabase())

	require.NoError(t, dao.Create(&model.UploadArtifact{FileHash: "ab", FileName: "a.zip", StorageKey: "artifacts/ab/a.zip"}))
	require.NoError(t, dao.Create(&model.UploadArtifact{FileHash: "ab", FileName: "b.zip", StorageKey: "artifacts/ab/b.zip"}))

	got, err := dao.GetByHash("ab")
	require.NoError(t, err)
	assert.Equal(t, "a.zip", got.FileName)
}

func TestUploadChunkSlots(t *testing.T) {
	dao := NewUploadChunkDAO(database.NewMemoryDatabase())

	for _, i := range []int{2, 0, 1} {
		require.NoError(t, dao.Save(&model.UploadChunk{FileHash: "ab", ChunkIndex: i, Offset: int64(i) * 4, Size: 4}))
	}
	// same slot again replaces, never duplicates
	require.NoError(t, dao.Save(&model.UploadChunk{FileHash: "ab", ChunkIndex: 1, Offset: 4, Size: 4, ChunkHash: "new"}))

	chunks, err := dao.ListByHash("ab")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}
	assert.Equal(t, "new", chunks[1].ChunkHash)

	require.NoError(t, dao.DeleteByHash("ab"))
	chunks, err = dao.ListByHash("ab")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestUploadSessionExpiry(t *testing.T) {
	dao := NewUploadSessionDAO(database.NewMemoryDatabase())
	now := time.Now()

	require.NoError(t, dao.Create(&model.UploadSession{SessionId: "old", FileHash: "ab", ExpiresAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, dao.Create(&model.UploadSession{SessionId: "older", FileHash: "ab", ExpiresAt: now.Add(-3 * time.Hour)}))
	require.NoError(t, dao.Create(&model.UploadSession{SessionId: "live", FileHash: "cd", ExpiresAt: now.Add(time.Hour)}))

	expired, err := dao.ListExpired(now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "older", expired[0].SessionId)

	n, err := dao.CountByHash("ab")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, dao.Delete("old"))
	n, err = dao.CountByHash("ab")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestJobAndTasks(t *testing.T) {
	db := database.NewMemoryDatabase()
	jobs := NewPackagingJobDAO(db)
	tasks := NewPlatformTaskDAO(db)

	job := &model.PackagingJob{JobId: "j1", AppName: "demo", Platforms: []model.Platform{model.PlatformPWA, model.PlatformLinux}}
	require.NoError(t, jobs.Create(job))
	for _, task := range []*model.PlatformTask{
		{TaskId: "t1", JobId: "j1", Platform: model.PlatformPWA, Attempt: 1, Status: model.TaskStatusFailed},
		{TaskId: "t2", JobId: "j1", Platform: model.PlatformLinux, Attempt: 1, Status: model.TaskStatusCompleted},
		{TaskId: "t3", JobId: "j1", Platform: model.PlatformPWA, Attempt: 2, Status: model.TaskStatusProcessing},
	} {
		require.NoError(t, tasks.Create(task))
	}

	latest, err := tasks.LatestByPlatform("j1")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "t3", latest[model.PlatformPWA].TaskId)
	assert.Equal(t, 2, latest[model.PlatformPWA].Attempt)
	assert.Equal(t, "t2", latest[model.PlatformLinux].TaskId)

	job.Status = model.JobStatusCompleted
	require.NoError(t, jobs.Update(job))
	got, err := jobs.GetByJobID("j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	done, err := jobs.ListByStatus(model.JobStatusCompleted, 10)
	require.NoError(t, err)
	require.Len(t, done, 1)

	require.NoError(t, jobs.Delete("j1"))
	got, err = jobs.GetByJobID("j1")
	require.NoError(t, err)
	assert.Nil(t, got)
	all, err := tasks.ListByJobID("j1")
	require.NoError(t, err)
	assert.Empty(t, all)
}
