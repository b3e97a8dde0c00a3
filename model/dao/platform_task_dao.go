package dao

import (
	"errors"

	"bundle-packager/database"
	"bundle-packager/model"
)

// PlatformTaskDAO platform task data access object
type PlatformTaskDAO struct {
	db database.Database
}

// NewPlatformTaskDAO create task DAO instance, nil db falls back to database.DB
func NewPlatformTaskDAO(db database.Database) *PlatformTaskDAO {
	if db == nil {
		db = database.DB
	}
	return &PlatformTaskDAO{db: db}
}

// Create create task record
func (dao *PlatformTaskDAO) Create(task *model.PlatformTask) error {
	return dao.db.CreatePlatformTask(task)
}

// GetByTaskID get task by task ID, nil when absent
func (dao *PlatformTaskDAO) GetByTaskID(taskID string) (*model.PlatformTask, error) {
	task, err := dao.db.GetPlatformTask(taskID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return task, err
}

// Update persists task changes
func (dao *PlatformTaskDAO) Update(task *model.PlatformTask) error {
	return dao.db.UpdatePlatformTask(task)
}

// ListByJobID list every task of a job in creation order
func (dao *PlatformTaskDAO) ListByJobID(jobID string) ([]*model.PlatformTask, error) {
	return dao.db.ListPlatformTasks(jobID)
}

// LatestByPlatform returns the newest task per platform of a job
func (dao *PlatformTaskDAO) LatestByPlatform(jobID string) (map[model.Platform]*model.PlatformTask, error) {
	tasks, err := dao.db.ListPlatformTasks(jobID)
	if err != nil {
		return nil, err
	}
	latest := make(map[model.Platform]*model.PlatformTask, len(tasks))
	for _, t := range tasks {
		// creation order, later attempts win
		latest[t.Platform] = t
	}
	return latest, nil
}
