package sync

import (
	"log"
	"time"

	"github.com/xelth-com/pcsyncgo/internal/models"
	"gorm.io/gorm"
)

// RegisterJobHooks registers GORM callbacks that publish job status changes
func RegisterJobHooks(db *gorm.DB, publisher Publisher) error {
	if publisher == nil {
		return nil
	}

	statusCallback := func(db *gorm.DB) {
		if db.Error != nil || db.Statement.Schema == nil || db.Statement.Schema.Table != (models.SyncJob{}).TableName() {
			return
		}

		var jobID uint
		status := ""
		switch m := db.Statement.Model.(type) {
		case *models.SyncJob:
			jobID = m.ID
			status = m.Status
		}
		if dest, ok := db.Statement.Dest.(map[string]interface{}); ok {
			if s, ok := dest["status"].(string); ok {
				status = s
			}
		}

		// batch updates without a job id are not published
		if jobID == 0 || status == "" {
			return
		}
		publisher.Publish(Event{
			Type:   EventJobStatus,
			JobID:  jobID,
			Status: status,
			At:     time.Now().UTC(),
		})
	}

	if err := db.Callback().Create().After("gorm:create").Register("pcsync:job_created", statusCallback); err != nil {
		log.Printf("❌ Failed to register create hook: %v", err)
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("pcsync:job_updated", statusCallback); err != nil {
		log.Printf("❌ Failed to register update hook: %v", err)
		return err
	}
	log.Println("✅ Sync job hooks registered")
	return nil
}
