package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"bundle-packager/logger"
	"bundle-packager/model"

	"github.com/cockroachdb/pebble"
)

// PebbleDatabase PebbleDB database implementation with multiple collections
type PebbleDatabase struct {
	collections map[string]*pebble.DB // Map of collection name to PebbleDB instance

	idCounter atomic.Int64
	mu        sync.Mutex // serializes read-modify-write sequences
}

// PebbleConfig PebbleDB configuration
type PebbleConfig struct {
	DataDir string
}

// Collection names and their key-value formats
const (
	collectionUploadSession  = "upload_session"  // key: {session_id}, value: JSON(UploadSession)
	collectionUploadChunk    = "upload_chunk"    // key: {file_hash}:{chunk_index:010d}, value: JSON(UploadChunk)
	collectionUploadArtifact = "upload_artifact" // key: {file_hash}, value: JSON(UploadArtifact)
	collectionPackagingJob   = "packaging_job"   // key: {job_id}, value: JSON(PackagingJob)
	collectionPlatformTask   = "platform_task"   // key: {task_id}, value: JSON(PlatformTask)
	collectionJobTask        = "job_task"        // key: {job_id}:{id:020d}, value: {task_id}
	collectionCounters       = "counters"        // key: id, value: {max_id}
)

const keyIDCounter = "id"

// NewPebbleDatabase create PebbleDB database instance with multiple collections
func NewPebbleDatabase(config interface{}) (Database, error) {
	cfg, ok := config.(*PebbleConfig)
	if !ok {
		return nil, fmt.Errorf("invalid PebbleDB config type")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	collectionNames := []string{
		collectionUploadSession,
		collectionUploadChunk,
		collectionUploadArtifact,
		collectionPackagingJob,
		collectionPlatformTask,
		collectionJobTask,
		collectionCounters,
	}

	collections := make(map[string]*pebble.DB)
	for _, name := range collectionNames {
		collectionPath := filepath.Join(cfg.DataDir, "packager_db", name)

		db, err := pebble.Open(collectionPath, &pebble.Options{})
		if err != nil {
			for _, openedDB := range collections {
				openedDB.Close()
			}
			return nil, fmt.Errorf("failed to open collection %s at %s: %w", name, collectionPath, err)
		}
		collections[name] = db
	}

	pdb := &PebbleDatabase{
		collections: collections,
	}

	if val, closer, err := collections[collectionCounters].Get([]byte(keyIDCounter)); err == nil {
		count, _ := strconv.ParseInt(string(val), 10, 64)
		pdb.idCounter.Store(count)
		closer.Close()
	}

	logger.Logger().Infof("PebbleDB database opened at %s with %d collections", cfg.DataDir, len(collections))
	return pdb, nil
}

func (p *PebbleDatabase) nextID() int64 {
	id := p.idCounter.Add(1)
	p.collections[collectionCounters].Set([]byte(keyIDCounter), []byte(strconv.FormatInt(id, 10)), pebble.Sync)
	return id
}

func (p *PebbleDatabase) put(collection, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", collection, err)
	}
	return p.collections[collection].Set([]byte(key), data, pebble.Sync)
}

func (p *PebbleDatabase) get(collection, key string, dest interface{}) error {
	data, closer, err := p.collections[collection].Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()

	return json.Unmarshal(data, dest)
}

func (p *PebbleDatabase) exists(collection, key string) bool {
	_, closer, err := p.collections[collection].Get([]byte(key))
	if err != nil {
		return false
	}
	closer.Close()
	return true
}

// scan iterates keys with the given prefix, or the whole collection for an empty prefix
func (p *PebbleDatabase) scan(collection, prefix string, fn func(key, value []byte) error) error {
	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = append([]byte(prefix), 0xFF)
	}
	iter, err := p.collections[collection].NewIter(opts)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func chunkKey(fileHash string, index int) string {
	return fmt.Sprintf("%s:%010d", fileHash, index)
}

func jobTaskKey(jobID string, id int64) string {
	return fmt.Sprintf("%s:%020d", jobID, id)
}

// UploadSession operations

func (p *PebbleDatabase) CreateUploadSession(session *model.UploadSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exists(collectionUploadSession, session.SessionId) {
		return ErrDuplicate
	}
	now := time.Now()
	session.ID = p.nextID()
	session.CreatedAt, session.UpdatedAt = now, now
	return p.put(collectionUploadSession, session.SessionId, session)
}

func (p *PebbleDatabase) GetUploadSession(sessionID string) (*model.UploadSession, error) {
	var session model.UploadSession
	if err := p.get(collectionUploadSession, sessionID, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (p *PebbleDatabase) UpdateUploadSession(session *model.UploadSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.exists(collectionUploadSession, session.SessionId) {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	return p.put(collectionUploadSession, session.SessionId, session)
}

func (p *PebbleDatabase) DeleteUploadSession(sessionID string) error {
	return p.collections[collectionUploadSession].Delete([]byte(sessionID), pebble.Sync)
}

func (p *PebbleDatabase) ListExpiredUploadSessions(before time.Time, limit int) ([]*model.UploadSession, error) {
	var sessions []*model.UploadSession
	err := p.scan(collectionUploadSession, "", func(_, value []byte) error {
		var s model.UploadSession
		if err := json.Unmarshal(value, &s); err != nil {
			return nil
		}
		if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(before) {
			sessions = append(sessions, &s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ExpiresAt.Before(sessions[j].ExpiresAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (p *PebbleDatabase) CountUploadSessionsByHash(fileHash string) (int64, error) {
	var n int64
	err := p.scan(collectionUploadSession, "", func(_, value []byte) error {
		var s model.UploadSession
		if err := json.Unmarshal(value, &s); err == nil && s.FileHash == fileHash {
			n++
		}
		return nil
	})
	return n, err
}

// UploadChunk operations

func (p *PebbleDatabase) SaveUploadChunk(chunk *model.UploadChunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := chunkKey(chunk.FileHash, chunk.ChunkIndex)
	now := time.Now()

	var existing model.UploadChunk
	if err := p.get(collectionUploadChunk, key, &existing); err == nil {
		chunk.ID = existing.ID
		chunk.CreatedAt = existing.CreatedAt
	} else {
		chunk.ID = p.nextID()
		chunk.CreatedAt = now
	}
	chunk.UpdatedAt = now
	return p.put(collectionUploadChunk, key, chunk)
}

func (p *PebbleDatabase) GetUploadChunk(fileHash string, chunkIndex int) (*model.UploadChunk, error) {
	var chunk model.UploadChunk
	if err := p.get(collectionUploadChunk, chunkKey(fileHash, chunkIndex), &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (p *PebbleDatabase) ListUploadChunks(fileHash string) ([]*model.UploadChunk, error) {
	var chunks []*model.UploadChunk
	// zero padded index keeps iteration in chunk order
	err := p.scan(collectionUploadChunk, fileHash+":", func(_, value []byte) error {
		var c model.UploadChunk
		if err := json.Unmarshal(value, &c); err != nil {
			return nil
		}
		chunks = append(chunks, &c)
		return nil
	})
	return chunks, err
}

func (p *PebbleDatabase) DeleteUploadChunks(fileHash string) error {
	prefix := []byte(fileHash + ":")
	return p.collections[collectionUploadChunk].DeleteRange(prefix, append(prefix, 0xFF), pebble.Sync)
}

// UploadArtifact operations

func (p *PebbleDatabase) CreateUploadArtifact(artifact *model.UploadArtifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exists(collectionUploadArtifact, artifact.FileHash) {
		return ErrDuplicate
	}
	artifact.ID = p.nextID()
	artifact.CreatedAt = time.Now()
	return p.put(collectionUploadArtifact, artifact.FileHash, artifact)
}

func (p *PebbleDatabase) GetUploadArtifactByHash(fileHash string) (*model.UploadArtifact, error) {
	var artifact model.UploadArtifact
	if err := p.get(collectionUploadArtifact, fileHash, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// PackagingJob operations

func (p *PebbleDatabase) CreatePackagingJob(job *model.PackagingJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exists(collectionPackagingJob, job.JobId) {
		return ErrDuplicate
	}
	now := time.Now()
	job.ID = p.nextID()
	job.CreatedAt, job.UpdatedAt = now, now
	return p.put(collectionPackagingJob, job.JobId, job)
}

func (p *PebbleDatabase) GetPackagingJob(jobID string) (*model.PackagingJob, error) {
	var job model.PackagingJob
	if err := p.get(collectionPackagingJob, jobID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (p *PebbleDatabase) UpdatePackagingJob(job *model.PackagingJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.exists(collectionPackagingJob, job.JobId) {
		return ErrNotFound
	}
	job.UpdatedAt = time.Now()
	return p.put(collectionPackagingJob, job.JobId, job)
}

func (p *PebbleDatabase) DeletePackagingJob(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := p.collections[collectionPlatformTask].NewBatch()
	defer batch.Close()

	err := p.scan(collectionJobTask, jobID+":", func(_, value []byte) error {
		return batch.Delete(value, nil)
	})
	if err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}

	prefix := []byte(jobID + ":")
	if err := p.collections[collectionJobTask].DeleteRange(prefix, append(prefix, 0xFF), pebble.Sync); err != nil {
		return err
	}
	return p.collections[collectionPackagingJob].Delete([]byte(jobID), pebble.Sync)
}

func (p *PebbleDatabase) listJobs(filter func(*model.PackagingJob) bool) ([]*model.PackagingJob, error) {
	var jobs []*model.PackagingJob
	err := p.scan(collectionPackagingJob, "", func(_, value []byte) error {
		var j model.PackagingJob
		if err := json.Unmarshal(value, &j); err != nil {
			return nil
		}
		if filter == nil || filter(&j) {
			jobs = append(jobs, &j)
		}
		return nil
	})
	return jobs, err
}

func (p *PebbleDatabase) ListPackagingJobsWithCursor(cursor int64, size int) ([]*model.PackagingJob, int64, error) {
	jobs, err := p.listJobs(nil)
	if err != nil {
		return nil, cursor, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID > jobs[j].ID
	})
	page, next := paginate(jobs, cursor, size)
	return page, next, nil
}

func (p *PebbleDatabase) ListPackagingJobsByStatus(status model.JobStatus, limit int) ([]*model.PackagingJob, error) {
	jobs, err := p.listJobs(func(j *model.PackagingJob) bool { return j.Status == status })
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ID < jobs[j].ID
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// PlatformTask operations

func (p *PebbleDatabase) CreatePlatformTask(task *model.PlatformTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exists(collectionPlatformTask, task.TaskId) {
		return ErrDuplicate
	}
	now := time.Now()
	task.ID = p.nextID()
	task.CreatedAt, task.UpdatedAt = now, now
	if err := p.put(collectionPlatformTask, task.TaskId, task); err != nil {
		return err
	}
	return p.collections[collectionJobTask].Set([]byte(jobTaskKey(task.JobId, task.ID)), []byte(task.TaskId), pebble.Sync)
}

func (p *PebbleDatabase) GetPlatformTask(taskID string) (*model.PlatformTask, error) {
	var task model.PlatformTask
	if err := p.get(collectionPlatformTask, taskID, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (p *PebbleDatabase) UpdatePlatformTask(task *model.PlatformTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.exists(collectionPlatformTask, task.TaskId) {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now()
	return p.put(collectionPlatformTask, task.TaskId, task)
}

func (p *PebbleDatabase) ListPlatformTasks(jobID string) ([]*model.PlatformTask, error) {
	var taskIDs []string
	err := p.scan(collectionJobTask, jobID+":", func(_, value []byte) error {
		taskIDs = append(taskIDs, string(value))
		return nil
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]*model.PlatformTask, 0, len(taskIDs))
	for _, id := range taskIDs {
		task, err := p.GetPlatformTask(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Close close all database connections
func (p *PebbleDatabase) Close() error {
	var lastErr error
	for name, db := range p.collections {
		if err := db.Close(); err != nil {
			logger.Logger().Warnf("Failed to close collection %s: %v", name, err)
			lastErr = err
		}
	}
	return lastErr
}
