package jobs

import (
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/KolosalAI/kolosal-agent/types"
)

// Archiver receives terminal jobs as retention evicts them from the in-memory
// job table.
type Archiver interface {
	Archive(agentID string, jobs []*types.Job) error
	Close() error
}

// ArchivedJob is the persisted form of an evicted job.
type ArchivedJob struct {
	ID           string `gorm:"primaryKey;size:64"`
	AgentID      string `gorm:"index;size:64"`
	Function     string `gorm:"size:128"`
	Requester    string `gorm:"size:128"`
	Priority     int
	Status       string `gorm:"size:16"`
	Success      bool
	ErrorMessage string
	ResultJSON   string
	EnqueuedAt   time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ArchivedAt   time.Time `gorm:"autoCreateTime"`
}

// SQLiteArchive stores evicted jobs in a local SQLite database.
type SQLiteArchive struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Archiver = (*SQLiteArchive)(nil)

// NewSQLiteArchive opens (or creates) the archive database at path and
// migrates its schema. Use ":memory:" for tests.
func NewSQLiteArchive(path string, logger *zap.Logger) (*SQLiteArchive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, types.NewErrorf(types.ErrDependency, "open job archive: %v", err).WithCause(err)
	}
	if err := db.AutoMigrate(&ArchivedJob{}); err != nil {
		return nil, types.NewErrorf(types.ErrDependency, "migrate job archive: %v", err).WithCause(err)
	}
	return &SQLiteArchive{db: db, logger: logger.With(zap.String("component", "job_archive"))}, nil
}

// Archive persists the given terminal jobs.
func (a *SQLiteArchive) Archive(agentID string, jobs []*types.Job) error {
	rows := make([]ArchivedJob, 0, len(jobs))
	for _, job := range jobs {
		row := ArchivedJob{
			ID:         job.ID,
			AgentID:    agentID,
			Function:   job.Function,
			Requester:  job.Requester,
			Priority:   job.Priority,
			Status:     string(job.Status),
			EnqueuedAt: job.EnqueuedAt,
			StartedAt:  job.StartedAt,
			FinishedAt: job.FinishedAt,
		}
		if job.Result != nil {
			row.Success = job.Result.Success
			row.ErrorMessage = job.Result.ErrorMessage
			if data, err := json.Marshal(job.Result.Data); err == nil {
				row.ResultJSON = string(data)
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := a.db.Create(&rows).Error; err != nil {
		return types.NewErrorf(types.ErrDependency, "archive jobs: %v", err).WithCause(err)
	}
	a.logger.Debug("jobs archived", zap.String("agent_id", agentID), zap.Int("count", len(rows)))
	return nil
}

// Recent returns the newest archived jobs for an agent, most recently
// finished first.
func (a *SQLiteArchive) Recent(agentID string, limit int) ([]ArchivedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ArchivedJob
	err := a.db.Where("agent_id = ?", agentID).
		Order("finished_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, types.NewErrorf(types.ErrDependency, "query job archive: %v", err).WithCause(err)
	}
	return rows, nil
}

// Count returns how many jobs are archived for an agent.
func (a *SQLiteArchive) Count(agentID string) (int64, error) {
	var n int64
	err := a.db.Model(&ArchivedJob{}).Where("agent_id = ?", agentID).Count(&n).Error
	if err != nil {
		return 0, types.NewErrorf(types.ErrDependency, "count job archive: %v", err).WithCause(err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (a *SQLiteArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
