package workflow

import (
	"fmt"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
	"gorm.io/gorm"
)

// AcquireSessionPostingLock serializes attendance posting per session across
// instances using MySQL advisory locks. This closes the update-path race
// where two concurrent submissions for the same pair both read the same
// "latest statement" and both decide to append.
// NOTE: GET_LOCK is connection-scoped, so acquire and release must run on
// the same pinned connection that carries the posting transaction, and the
// release must happen after the transaction commits.
func AcquireSessionPostingLock(tx *gorm.DB, sessionId string) error {
	if !config.AttendanceAdvisoryLock() {
		return nil
	}
	lockName := fmt.Sprintf("attendance:%s", sessionId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for session_id=%s", sessionId)
	}
	return nil
}

func ReleaseSessionPostingLock(tx *gorm.DB, sessionId string) {
	if !config.AttendanceAdvisoryLock() {
		return
	}
	lockName := fmt.Sprintf("attendance:%s", sessionId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
