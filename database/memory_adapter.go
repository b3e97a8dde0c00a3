package database

import (
	"sort"
	"sync"
	"time"

	"bundle-packager/model"
)

// MemoryDatabase in-process database, used for single-node deployments and tests
type MemoryDatabase struct {
	mu sync.RWMutex

	nextID    int64
	sessions  map[string]*model.UploadSession
	chunks    map[string]map[int]*model.UploadChunk // fileHash -> index -> chunk
	artifacts map[string]*model.UploadArtifact
	jobs      map[string]*model.PackagingJob
	tasks     map[string]*model.PlatformTask
	jobTasks  map[string][]string // jobId -> taskIds in creation order
}

// NewMemoryDatabase create in-memory database instance
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		sessions:  make(map[string]*model.UploadSession),
		chunks:    make(map[string]map[int]*model.UploadChunk),
		artifacts: make(map[string]*model.UploadArtifact),
		jobs:      make(map[string]*model.PackagingJob),
		tasks:     make(map[string]*model.PlatformTask),
		jobTasks:  make(map[string][]string),
	}
}

func (m *MemoryDatabase) newID() int64 {
	m.nextID++
	return m.nextID
}

// UploadSession operations

func (m *MemoryDatabase) CreateUploadSession(session *model.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionId]; ok {
		return ErrDuplicate
	}
	now := time.Now()
	session.ID = m.newID()
	session.CreatedAt, session.UpdatedAt = now, now
	m.sessions[session.SessionId] = cloneSession(session)
	return nil
}

func (m *MemoryDatabase) GetUploadSession(sessionID string) (*model.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MemoryDatabase) UpdateUploadSession(session *model.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionId]; !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	m.sessions[session.SessionId] = cloneSession(session)
	return nil
}

func (m *MemoryDatabase) DeleteUploadSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryDatabase) ListExpiredUploadSessions(before time.Time, limit int) ([]*model.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*model.UploadSession
	for _, s := range m.sessions {
		if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(before) {
			expired = append(expired, cloneSession(s))
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (m *MemoryDatabase) CountUploadSessionsByHash(fileHash string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, s := range m.sessions {
		if s.FileHash == fileHash {
			n++
		}
	}
	return n, nil
}

// UploadChunk operations

func (m *MemoryDatabase) SaveUploadChunk(chunk *model.UploadChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots, ok := m.chunks[chunk.FileHash]
	if !ok {
		slots = make(map[int]*model.UploadChunk)
		m.chunks[chunk.FileHash] = slots
	}
	now := time.Now()
	if existing, ok := slots[chunk.ChunkIndex]; ok {
		chunk.ID = existing.ID
		chunk.CreatedAt = existing.CreatedAt
	} else {
		chunk.ID = m.newID()
		chunk.CreatedAt = now
	}
	chunk.UpdatedAt = now
	c := *chunk
	slots[chunk.ChunkIndex] = &c
	return nil
}

func (m *MemoryDatabase) GetUploadChunk(fileHash string, chunkIndex int) (*model.UploadChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chunks[fileHash][chunkIndex]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryDatabase) ListUploadChunks(fileHash string) ([]*model.UploadChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slots := m.chunks[fileHash]
	chunks := make([]*model.UploadChunk, 0, len(slots))
	for _, c := range slots {
		cp := *c
		chunks = append(chunks, &cp)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	return chunks, nil
}

func (m *MemoryDatabase) DeleteUploadChunks(fileHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.chunks, fileHash)
	return nil
}

// UploadArtifact operations

func (m *MemoryDatabase) CreateUploadArtifact(artifact *model.UploadArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.artifacts[artifact.FileHash]; ok {
		return ErrDuplicate
	}
	artifact.ID = m.newID()
	artifact.CreatedAt = time.Now()
	a := *artifact
	m.artifacts[artifact.FileHash] = &a
	return nil
}

func (m *MemoryDatabase) GetUploadArtifactByHash(fileHash string) (*model.UploadArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.artifacts[fileHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// PackagingJob operations

func (m *MemoryDatabase) CreatePackagingJob(job *model.PackagingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.JobId]; ok {
		return ErrDuplicate
	}
	now := time.Now()
	job.ID = m.newID()
	job.CreatedAt, job.UpdatedAt = now, now
	m.jobs[job.JobId] = cloneJob(job)
	return nil
}

func (m *MemoryDatabase) GetPackagingJob(jobID string) (*model.PackagingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemoryDatabase) UpdatePackagingJob(job *model.PackagingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.JobId]; !ok {
		return ErrNotFound
	}
	job.UpdatedAt = time.Now()
	m.jobs[job.JobId] = cloneJob(job)
	return nil
}

func (m *MemoryDatabase) DeletePackagingJob(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, taskID := range m.jobTasks[jobID] {
		delete(m.tasks, taskID)
	}
	delete(m.jobTasks, jobID)
	delete(m.jobs, jobID)
	return nil
}

func (m *MemoryDatabase) ListPackagingJobsWithCursor(cursor int64, size int) ([]*model.PackagingJob, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*model.PackagingJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].ID > jobs[k].ID
	})

	page, next := paginate(jobs, cursor, size)
	out := make([]*model.PackagingJob, 0, len(page))
	for _, j := range page {
		out = append(out, cloneJob(j))
	}
	return out, next, nil
}

func (m *MemoryDatabase) ListPackagingJobsByStatus(status model.JobStatus, limit int) ([]*model.PackagingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*model.PackagingJob
	for _, j := range m.jobs {
		if j.Status == status {
			jobs = append(jobs, cloneJob(j))
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].ID < jobs[k].ID
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// PlatformTask operations

func (m *MemoryDatabase) CreatePlatformTask(task *model.PlatformTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[task.TaskId]; ok {
		return ErrDuplicate
	}
	now := time.Now()
	task.ID = m.newID()
	task.CreatedAt, task.UpdatedAt = now, now
	m.tasks[task.TaskId] = cloneTask(task)
	m.jobTasks[task.JobId] = append(m.jobTasks[task.JobId], task.TaskId)
	return nil
}

func (m *MemoryDatabase) GetPlatformTask(taskID string) (*model.PlatformTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *MemoryDatabase) UpdatePlatformTask(task *model.PlatformTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[task.TaskId]; !ok {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now()
	m.tasks[task.TaskId] = cloneTask(task)
	return nil
}

func (m *MemoryDatabase) ListPlatformTasks(jobID string) ([]*model.PlatformTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.jobTasks[jobID]
	tasks := make([]*model.PlatformTask, 0, len(ids))
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok {
			tasks = append(tasks, cloneTask(t))
		}
	}
	return tasks, nil
}

// Close nothing to release
func (m *MemoryDatabase) Close() error {
	return nil
}

// paginate slices items by cursor (records to skip) and size, returning the next cursor
func paginate[T any](items []T, cursor int64, size int) ([]T, int64) {
	if cursor < 0 {
		cursor = 0
	}
	if size <= 0 || cursor >= int64(len(items)) {
		return nil, cursor
	}
	end := cursor + int64(size)
	if end > int64(len(items)) {
		end = int64(len(items))
	}
	return items[cursor:end], end
}

func cloneSession(s *model.UploadSession) *model.UploadSession {
	cp := *s
	cp.ReceivedChunks = nil
	return &cp
}

func cloneJob(j *model.PackagingJob) *model.PackagingJob {
	cp := *j
	cp.Platforms = append([]model.Platform(nil), j.Platforms...)
	cp.Results = nil
	if j.Options != nil {
		cp.Options = make(map[string]string, len(j.Options))
		for k, v := range j.Options {
			cp.Options[k] = v
		}
	}
	return &cp
}

func cloneTask(t *model.PlatformTask) *model.PlatformTask {
	cp := *t
	cp.Packages = append([]string(nil), t.Packages...)
	if t.Error != nil {
		e := *t.Error
		e.Suggestions = append([]string(nil), t.Error.Suggestions...)
		cp.Error = &e
	}
	return &cp
}
