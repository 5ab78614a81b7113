package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"virtual-attendance/internal/model"
	"virtual-attendance/internal/repository"
)

func newRecord(session *model.ClassSession, student *model.User, round int, status model.AttendanceStatus, at time.Time) *model.AttendanceRecord {
	return &model.AttendanceRecord{
		SessionID:  session.SessionID,
		StudentID:  student.UserID,
		RoundNo:    round,
		Status:     status,
		ScanCount:  1,
		RecordedAt: at,
		Source:     model.SourceScan,
	}
}

func ptr[T any](v T) *T { return &v }

func TestAttendanceRepo_UpsertUpdatesSameRow(t *testing.T) {
	db := openSQLite(t)
	repo := repository.NewRepository(db)
	ctx := context.Background()
	session, student := seedSession(t, db, 2)

	t0 := time.Date(2024, 10, 7, 9, 31, 0, 0, time.UTC)
	first := newRecord(session, student, 1, model.StatusAttended, t0)
	first.Latitude, first.Longitude = ptr(39.92), ptr(32.85)
	require.NoError(t, repo.Attendance.Upsert(ctx, first))

	// 第二次不带位置：状态覆盖、位置保留、计数加一
	second := newRecord(session, student, 1, model.StatusLate, t0.Add(time.Minute))
	require.NoError(t, repo.Attendance.Upsert(ctx, second))

	records, err := repo.Attendance.List(ctx, repository.AttendanceFilter{SessionID: session.SessionID})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, first.RecordID, got.RecordID, "冲突更新应保留原行主键")
	assert.Equal(t, model.StatusLate, got.Status)
	assert.Equal(t, 2, got.ScanCount)
	assert.True(t, got.RecordedAt.Equal(t0.Add(time.Minute)), "recorded_at 应为最后一次写入时间")
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 39.92, *got.Latitude, 1e-9)
}

func TestAttendanceRepo_DistinctRoundsAreDistinctRows(t *testing.T) {
	db := openSQLite(t)
	repo := repository.NewRepository(db)
	ctx := context.Background()
	session, student := seedSession(t, db, 2)

	now := time.Now()
	require.NoError(t, repo.Attendance.Upsert(ctx, newRecord(session, student, 1, model.StatusAttended, now)))
	require.NoError(t, repo.Attendance.Upsert(ctx, newRecord(session, student, 2, model.StatusAttended, now)))

	records, err := repo.Attendance.List(ctx, repository.AttendanceFilter{SessionID: session.SessionID, StudentID: student.UserID})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	round2, err := repo.Attendance.List(ctx, repository.AttendanceFilter{SessionID: session.SessionID, Round: 2})
	require.NoError(t, err)
	require.Len(t, round2, 1)
	assert.Equal(t, 2, round2[0].RoundNo)

	got, err := repo.Attendance.GetByKey(ctx, model.AttendanceKey{SessionID: session.SessionID, StudentID: student.UserID, Round: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, got.ScanCount)

	_, err = repo.Attendance.GetByKey(ctx, model.AttendanceKey{SessionID: session.SessionID, StudentID: student.UserID, Round: 3})
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestAttendanceRepo_FindDuplicateKeys(t *testing.T) {
	db := openSQLite(t)
	dropUniqueKey(t, db)
	repo := repository.NewRepository(db)
	ctx := context.Background()
	session, student := seedSession(t, db, 3)

	now := time.Now()
	// 轮次 1 三行、轮次 2 一行、轮次 3 两行
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(newRecord(session, student, 1, model.StatusAttended, now)).Error)
	}
	require.NoError(t, db.Create(newRecord(session, student, 2, model.StatusAttended, now)).Error)
	for i := 0; i < 2; i++ {
		require.NoError(t, db.Create(newRecord(session, student, 3, model.StatusAttended, now)).Error)
	}

	all, err := repo.Attendance.FindDuplicateKeys(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].Round)
	assert.Equal(t, 3, all[0].Rows)
	assert.Equal(t, 3, all[1].Round)
	assert.Equal(t, 2, all[1].Rows)

	// 分页：limit=1 后从上一个键继续
	page1, err := repo.Attendance.FindDuplicateKeys(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, page1, 1)
	page2, err := repo.Attendance.FindDuplicateKeys(ctx, &page1[0].AttendanceKey, 1)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, 3, page2[0].Round)
	page3, err := repo.Attendance.FindDuplicateKeys(ctx, &page2[0].AttendanceKey, 1)
	require.NoError(t, err)
	assert.Empty(t, page3)
}

func TestAttendanceRepo_ListByKeyOrderAndDelete(t *testing.T) {
	db := openSQLite(t)
	dropUniqueKey(t, db)
	repo := repository.NewRepository(db)
	ctx := context.Background()
	session, student := seedSession(t, db, 1)

	t0 := time.Date(2024, 10, 7, 9, 31, 0, 0, time.UTC)
	low := newRecord(session, student, 1, model.StatusAttended, t0.Add(time.Hour))
	low.ScanCount = 1
	highOld := newRecord(session, student, 1, model.StatusAbsent, t0)
	highOld.ScanCount = 4
	highNew := newRecord(session, student, 1, model.StatusLate, t0.Add(time.Minute))
	highNew.ScanCount = 4
	for _, r := range []*model.AttendanceRecord{low, highOld, highNew} {
		require.NoError(t, db.Create(r).Error)
	}

	key := model.AttendanceKey{SessionID: session.SessionID, StudentID: student.UserID, Round: 1}
	rows, err := repo.Attendance.ListByKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, highNew.RecordID, rows[0].RecordID, "scan_count 相同时 recorded_at 较新者优先")
	assert.Equal(t, highOld.RecordID, rows[1].RecordID)
	assert.Equal(t, low.RecordID, rows[2].RecordID)

	n, err := repo.Attendance.DeleteByIDs(ctx, []string{rows[1].RecordID, rows[2].RecordID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.Attendance.DeleteByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err = repo.Attendance.ListByKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, highNew.RecordID, rows[0].RecordID)
}
