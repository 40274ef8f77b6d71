package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/Shamiri-Institute/digitalhub-backend/config"
	"github.com/Shamiri-Institute/digitalhub-backend/models"
	"github.com/Shamiri-Institute/digitalhub-backend/utils"
	"github.com/Shamiri-Institute/digitalhub-backend/workflow"
)

const payoutAmount = int64(50000) // KES 500.00

func TestAttendanceRecorder_Integration(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "digitalhub_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := config.GetLogger()

	ctx := utils.SetUserIdInContext(context.Background(), 1)
	ctx = utils.SetUserNameInContext(ctx, "Test Supervisor")

	seedReferenceData(t, db)

	t.Run("occurrence precondition", func(t *testing.T) {
		_, err := workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
			FellowId:  "fellow-1",
			SessionId: "session-unoccurred",
			Status:    models.AttendanceStatusAttended,
		})
		requireDomainError(t, err, workflow.ErrorKindInvalidState)
	})

	t.Run("unknown fellow and session", func(t *testing.T) {
		_, err := workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
			FellowId:  "no-such-fellow",
			SessionId: "session-1",
			Status:    models.AttendanceStatusAttended,
		})
		requireDomainError(t, err, workflow.ErrorKindNotFound)

		_, err = workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
			FellowId:  "fellow-1",
			SessionId: "no-such-session",
			Status:    models.AttendanceStatusAttended,
		})
		requireDomainError(t, err, workflow.ErrorKindNotFound)
	})

	t.Run("control group is rejected for intervention sessions", func(t *testing.T) {
		_, err := workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
			FellowId:  "fellow-control",
			SessionId: "session-1",
			Status:    models.AttendanceStatusAttended,
		})
		requireDomainError(t, err, workflow.ErrorKindInvalidState)
	})

	t.Run("missing payout amount is a config error", func(t *testing.T) {
		_, err := workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
			FellowId:  "fellow-1",
			SessionId: "session-unpriced",
			Status:    models.AttendanceStatusAttended,
		})
		requireDomainError(t, err, workflow.ErrorKindConfig)
	})

	t.Run("idempotent marking and net-zero toggling", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if _, err := workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
				FellowId:  "fellow-1",
				SessionId: "session-1",
				Status:    models.AttendanceStatusAttended,
			}); err != nil {
				t.Fatalf("MarkAttendance attended #%d: %v", i+1, err)
			}
		}
		if got := statementCount(t, db, "fellow-1"); got != 1 {
			t.Fatalf("statement count = %d, expected 1 after repeated marking", got)
		}
		if got := netAmount(t, db, "fellow-1"); got != payoutAmount {
			t.Fatalf("net = %d, expected %d", got, payoutAmount)
		}

		reason := "sick"
		if _, err := workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
			FellowId:      "fellow-1",
			SessionId:     "session-1",
			Status:        models.AttendanceStatusMissed,
			AbsenceReason: &reason,
		}); err != nil {
			t.Fatalf("MarkAttendance missed: %v", err)
		}
		if got := netAmount(t, db, "fellow-1"); got != 0 {
			t.Fatalf("net after reversal = %d, expected 0", got)
		}
		if got := statementCount(t, db, "fellow-1"); got != 2 {
			t.Fatalf("statement count = %d, expected 2", got)
		}

		var row models.FellowAttendance
		if err := db.Where("fellow_id = ? AND session_id = ?", "fellow-1", "session-1").
			First(&row).Error; err != nil {
			t.Fatalf("fetch attendance row: %v", err)
		}
		if row.Attended == nil || *row.Attended {
			t.Fatalf("attended = %v, expected false", row.Attended)
		}
		if row.AbsenceReason == nil || *row.AbsenceReason != "sick" {
			t.Fatalf("absence reason = %v, expected sick", row.AbsenceReason)
		}
	})

	t.Run("processed rows are immutable", func(t *testing.T) {
		now := time.Now()
		if err := db.Model(&models.FellowAttendance{}).
			Where("fellow_id = ? AND session_id = ?", "fellow-1", "session-1").
			Update("processed_at", &now).Error; err != nil {
			t.Fatalf("set processed_at: %v", err)
		}
		before := statementCount(t, db, "fellow-1")

		_, err := workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
			FellowId:  "fellow-1",
			SessionId: "session-1",
			Status:    models.AttendanceStatusAttended,
		})
		requireDomainError(t, err, workflow.ErrorKindLocked)

		if got := statementCount(t, db, "fellow-1"); got != before {
			t.Fatalf("statement count changed on a locked row: %d -> %d", before, got)
		}
	})

	t.Run("batch is all-or-nothing", func(t *testing.T) {
		_, err := workflow.MarkManyAttendance(ctx, db, logger, workflow.BatchAttendanceInput{
			SessionId: "session-2",
			Entries: []workflow.BatchAttendanceEntry{
				{FellowId: "fellow-2", Status: models.AttendanceStatusAttended},
				{FellowId: "fellow-control", Status: models.AttendanceStatusAttended},
			},
		})
		requireDomainError(t, err, workflow.ErrorKindInvalidState)

		var count int64
		if err := db.Model(&models.FellowAttendance{}).
			Where("session_id = ?", "session-2").Count(&count).Error; err != nil {
			t.Fatalf("count session-2 rows: %v", err)
		}
		if count != 0 {
			t.Fatalf("batch left %d rows behind after failing", count)
		}
		if got := statementCount(t, db, "fellow-2"); got != 0 {
			t.Fatalf("fellow-2 has %d statements after failed batch, expected 0", got)
		}
	})

	t.Run("batch matches equivalent single submissions", func(t *testing.T) {
		if _, err := workflow.MarkManyAttendance(ctx, db, logger, workflow.BatchAttendanceInput{
			SessionId: "session-2",
			Entries: []workflow.BatchAttendanceEntry{
				{FellowId: "fellow-2", Status: models.AttendanceStatusAttended},
				{FellowId: "fellow-3", Status: models.AttendanceStatusMissed},
			},
		}); err != nil {
			t.Fatalf("MarkManyAttendance: %v", err)
		}

		if _, err := workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
			FellowId:  "fellow-4",
			SessionId: "session-2",
			Status:    models.AttendanceStatusAttended,
		}); err != nil {
			t.Fatalf("MarkAttendance fellow-4: %v", err)
		}

		// fellow-2 (batch) and fellow-4 (single) made the same decision and
		// must end up with identical ledgers.
		if statementCount(t, db, "fellow-2") != statementCount(t, db, "fellow-4") {
			t.Fatalf("batch vs single statement counts differ: %d vs %d",
				statementCount(t, db, "fellow-2"), statementCount(t, db, "fellow-4"))
		}
		if netAmount(t, db, "fellow-2") != netAmount(t, db, "fellow-4") {
			t.Fatalf("batch vs single nets differ: %d vs %d",
				netAmount(t, db, "fellow-2"), netAmount(t, db, "fellow-4"))
		}
		if got := statementCount(t, db, "fellow-3"); got != 0 {
			t.Fatalf("fellow-3 missed first time but has %d statements", got)
		}
	})

	t.Run("concurrent submissions for one pair yield one statement", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = workflow.MarkAttendance(ctx, db, logger, workflow.AttendanceInput{
					FellowId:  "fellow-5",
					SessionId: "session-3",
					Status:    models.AttendanceStatusAttended,
				})
			}(i)
		}
		wg.Wait()

		// Losers of the create race may see Conflict; nothing else is
		// acceptable, and the ledger must hold exactly one earn.
		for i, err := range errs {
			if err == nil {
				continue
			}
			t.Logf("submission %d: %v", i, err)
			requireDomainError(t, err, workflow.ErrorKindConflict)
		}
		if got := statementCount(t, db, "fellow-5"); got != 1 {
			t.Fatalf("statement count = %d, expected 1 after concurrent submissions", got)
		}
		if got := netAmount(t, db, "fellow-5"); got != payoutAmount {
			t.Fatalf("net = %d, expected %d", got, payoutAmount)
		}
	})

	t.Run("login refuses malformed stored hash", func(t *testing.T) {
		hashed, err := utils.HashPassword("correct-horse")
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		users := []*models.User{
			{Username: "good@test.local", Name: "Good User", Password: string(hashed), IsActive: utils.NewTrue(), Role: models.UserRoleSupervisor, HubId: "hub-1"},
			{Username: "broken@test.local", Name: "Broken User", Password: "not-a-bcrypt-hash", IsActive: utils.NewTrue(), Role: models.UserRoleSupervisor, HubId: "hub-1"},
		}
		for _, u := range users {
			if err := db.Create(u).Error; err != nil {
				t.Fatalf("seed user %s: %v", u.Username, err)
			}
		}

		if _, err := models.Login(ctx, "good@test.local", "correct-horse"); err != nil {
			t.Fatalf("Login with valid credentials: %v", err)
		}
		if _, err := models.Login(ctx, "broken@test.local", "anything"); err == nil {
			t.Fatal("Login succeeded against a malformed stored hash")
		}
		if _, err := models.Login(ctx, "good@test.local", "wrong-password"); err == nil {
			t.Fatal("Login succeeded with a wrong password")
		}
	})

	t.Run("payout summary reconstructs from ledger", func(t *testing.T) {
		summary, err := models.GetFellowPayoutSummary(ctx, db, "fellow-2")
		if err != nil {
			t.Fatalf("GetFellowPayoutSummary: %v", err)
		}
		if summary.NetMinorUnits != payoutAmount {
			t.Fatalf("summary net = %d, expected %d", summary.NetMinorUnits, payoutAmount)
		}
		if summary.NetKES.String() != "500" {
			t.Fatalf("summary KES = %s, expected 500", summary.NetKES.String())
		}
	})

	t.Run("ledger audit finds no inconsistencies", func(t *testing.T) {
		report, err := workflow.RunLedgerAudit(ctx, db, logger)
		if err != nil {
			t.Fatalf("RunLedgerAudit: %v", err)
		}
		if len(report.Findings) != 0 {
			t.Fatalf("audit found %d inconsistencies: %+v", len(report.Findings), report.Findings)
		}
	})
}

func seedReferenceData(t *testing.T, db *gorm.DB) {
	t.Helper()

	seeds := []interface{}{
		&models.Hub{ID: "hub-1", Name: "Nairobi West"},
		&models.School{ID: "school-1", HubId: "hub-1", Name: "Test High School"},
		&models.Fellow{ID: "fellow-1", HubId: "hub-1", Name: "Amina Odhiambo", MpesaNumber: "+254712345678", IsActive: utils.NewTrue()},
		&models.Fellow{ID: "fellow-2", HubId: "hub-1", Name: "Brian Mwangi", MpesaNumber: "+254712345679", IsActive: utils.NewTrue()},
		&models.Fellow{ID: "fellow-3", HubId: "hub-1", Name: "Cynthia Wanjiru", MpesaNumber: "+254712345680", IsActive: utils.NewTrue()},
		&models.Fellow{ID: "fellow-4", HubId: "hub-1", Name: "David Otieno", MpesaNumber: "+254712345681", IsActive: utils.NewTrue()},
		&models.Fellow{ID: "fellow-5", HubId: "hub-1", Name: "Faith Chebet", MpesaNumber: "+254712345683", IsActive: utils.NewTrue()},
		&models.Fellow{ID: "fellow-control", HubId: "hub-1", Name: "Esther Njeri", MpesaNumber: "+254712345682", IsActive: utils.NewTrue()},
		&models.SessionType{ID: "type-intervention", Name: "Intervention Session", Category: models.SessionCategoryIntervention, PayoutAmount: ptrInt64(payoutAmount)},
		&models.SessionType{ID: "type-unpriced", Name: "Unpriced Session", Category: models.SessionCategoryIntervention},
		&models.InterventionSession{ID: "session-1", SessionTypeId: "type-intervention", SchoolId: ptrString("school-1"), ScheduledAt: time.Now(), Occurred: true},
		&models.InterventionSession{ID: "session-2", SessionTypeId: "type-intervention", SchoolId: ptrString("school-1"), ScheduledAt: time.Now(), Occurred: true},
		&models.InterventionSession{ID: "session-3", SessionTypeId: "type-intervention", SchoolId: ptrString("school-1"), ScheduledAt: time.Now(), Occurred: true},
		&models.InterventionSession{ID: "session-unoccurred", SessionTypeId: "type-intervention", SchoolId: ptrString("school-1"), ScheduledAt: time.Now(), Occurred: false},
		&models.InterventionSession{ID: "session-unpriced", SessionTypeId: "type-unpriced", SchoolId: ptrString("school-1"), ScheduledAt: time.Now(), Occurred: true},
		&models.InterventionGroup{ID: "group-1", SchoolId: "school-1", LeaderFellowId: "fellow-1", Name: "Group A", GroupType: models.GroupTypeTreatment},
		&models.InterventionGroup{ID: "group-2", SchoolId: "school-1", LeaderFellowId: "fellow-2", Name: "Group B", GroupType: models.GroupTypeTreatment},
		&models.InterventionGroup{ID: "group-3", SchoolId: "school-1", LeaderFellowId: "fellow-3", Name: "Group C", GroupType: models.GroupTypeTreatment},
		&models.InterventionGroup{ID: "group-4", SchoolId: "school-1", LeaderFellowId: "fellow-4", Name: "Group D", GroupType: models.GroupTypeTreatment},
		&models.InterventionGroup{ID: "group-5", SchoolId: "school-1", LeaderFellowId: "fellow-5", Name: "Group E", GroupType: models.GroupTypeTreatment},
		&models.InterventionGroup{ID: "group-control", SchoolId: "school-1", LeaderFellowId: "fellow-control", Name: "Control Group", GroupType: models.GroupTypeControl},
	}
	for _, seed := range seeds {
		if err := db.Create(seed).Error; err != nil {
			t.Fatalf("seed %T: %v", seed, err)
		}
	}
}

func requireDomainError(t *testing.T, err error, kind workflow.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	domainErr, ok := workflow.AsDomainError(err)
	if !ok {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
	if domainErr.Kind != kind {
		t.Fatalf("error kind = %s, expected %s (%s)", domainErr.Kind, kind, domainErr.Message)
	}
}

func statementCount(t *testing.T, db *gorm.DB, fellowId string) int {
	t.Helper()
	var count int64
	if err := db.Model(&models.PayoutStatement{}).
		Where("fellow_id = ?", fellowId).Count(&count).Error; err != nil {
		t.Fatalf("count statements for %s: %v", fellowId, err)
	}
	return int(count)
}

func netAmount(t *testing.T, db *gorm.DB, fellowId string) int64 {
	t.Helper()
	var net *int64
	if err := db.Model(&models.PayoutStatement{}).
		Where("fellow_id = ?", fellowId).
		Select("SUM(amount)").Scan(&net).Error; err != nil {
		t.Fatalf("sum statements for %s: %v", fellowId, err)
	}
	if net == nil {
		return 0
	}
	return *net
}

func ptrInt64(v int64) *int64    { return &v }
func ptrString(v string) *string { return &v }

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("digitalhub-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=digitalhub_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
