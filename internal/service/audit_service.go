package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/model"
	"virtual-attendance/internal/repository"
	pkgerrors "virtual-attendance/pkg/errors"
	"virtual-attendance/pkg/metrics"
	"virtual-attendance/pkg/redis"
)

// ── 一致性审计模块业务错误 ──

var (
	ErrRecordsNotFound    = pkgerrors.Wrap(pkgerrors.ErrNotFound, "签到记录不存在")
	ErrInvariantViolated  = errors.New("签到记录唯一性约束被破坏")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

const defaultAuditPageSize = 200

// RepairResult 单个重复键的修复结果
type RepairResult struct {
	Survivor    *model.AttendanceRecord
	DeletedRows int64
	RoundRaised bool
}

// AuditService 签到记录一致性审计
//
// 正常情况下唯一索引使重复行不可能出现；审计用于历史数据修复与回归断言。
// 保留规则：scan_count 最大 → recorded_at 最新 → record_id 最小。
type AuditService interface {
	// FindViolations 惰性、可续扫：after 为上次报告的最后一个键，nil 表示从头开始
	FindViolations(ctx context.Context, after *model.AttendanceKey) iter.Seq2[model.Violation, error]
	Repair(ctx context.Context, key model.AttendanceKey) (*RepairResult, error)
	RepairAll(ctx context.Context) (*dto.RepairSummary, error)
	// CheckInvariant 不存在重复键时返回 nil
	CheckInvariant(ctx context.Context) error
	ExportViolations(ctx context.Context) (*bytes.Buffer, string, error)
}

type auditService struct {
	repo           *repository.Repository
	cache          *snapshotCache
	metrics        *metrics.Metrics
	pageSize       int
	storageTimeout time.Duration
	logger         *zap.Logger
}

// NewAuditService 创建 AuditService 实例
func NewAuditService(
	cfg *config.Config,
	repo *repository.Repository,
	rdb *redis.Client,
	m *metrics.Metrics,
	logger *zap.Logger,
) AuditService {
	pageSize := cfg.Auditor.PageSize
	if pageSize <= 0 {
		pageSize = defaultAuditPageSize
	}
	return &auditService{
		repo:           repo,
		cache:          newSnapshotCache(rdb, cfg.Attendance.SnapshotTTL, logger),
		metrics:        m,
		pageSize:       pageSize,
		storageTimeout: cfg.Attendance.StorageTimeout,
		logger:         logger,
	}
}

// ────────────────────── FindViolations ──────────────────────

func (s *auditService) FindViolations(ctx context.Context, after *model.AttendanceKey) iter.Seq2[model.Violation, error] {
	return func(yield func(model.Violation, error) bool) {
		cursor := after
		for {
			sctx, cancel := withStorageTimeout(ctx, s.storageTimeout)
			page, err := s.repo.Attendance.FindDuplicateKeys(sctx, cursor, s.pageSize)
			cancel()
			if err != nil {
				s.logger.Error("扫描重复签到记录失败", zap.Error(err))
				yield(model.Violation{}, storageError(err))
				return
			}

			for _, v := range page {
				if !yield(v, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			last := page[len(page)-1].AttendanceKey
			cursor = &last
		}
	}
}

// ────────────────────── Repair ──────────────────────

func (s *auditService) Repair(ctx context.Context, key model.AttendanceKey) (*RepairResult, error) {
	sctx, cancel := withStorageTimeout(ctx, s.storageTimeout)
	defer cancel()

	result := &RepairResult{}
	err := s.repo.Transaction(sctx, func(tx *repository.Repository) error {
		rows, err := tx.Attendance.ListByKey(sctx, key)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrRecordsNotFound
		}
		survivor := rows[0]

		session, err := tx.Session.GetByID(sctx, key.SessionID)
		if err != nil {
			if isNotFound(err) {
				return ErrSessionNotFound
			}
			return err
		}
		if survivor.RoundNo < 1 || survivor.RoundNo > session.MaxCount {
			return pkgerrors.ErrInvalidRound
		}

		ids := make([]string, 0, len(rows)-1)
		for _, r := range rows[1:] {
			ids = append(ids, r.RecordID)
		}
		deleted, err := tx.Attendance.DeleteByIDs(sctx, ids)
		if err != nil {
			return err
		}

		raised := false
		if session.CurrentRound < survivor.RoundNo {
			if raised, err = tx.Session.RaiseRound(sctx, session.SessionID, survivor.RoundNo); err != nil {
				return err
			}
		}

		result.Survivor = &survivor
		result.DeletedRows = deleted
		result.RoundRaised = raised
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRecordsNotFound) || errors.Is(err, ErrSessionNotFound) || errors.Is(err, pkgerrors.ErrInvalidRound) {
			return nil, err
		}
		s.logger.Error("修复重复签到记录失败",
			zap.String("session_id", key.SessionID),
			zap.String("student_id", key.StudentID),
			zap.Int("round", key.Round),
			zap.Error(err),
		)
		return nil, storageError(err)
	}

	if result.RoundRaised {
		s.cache.invalidate(ctx, key.SessionID)
	}
	s.metrics.AddRepaired(int(result.DeletedRows))
	if result.DeletedRows > 0 {
		s.logger.Info("已修复重复签到记录",
			zap.String("session_id", key.SessionID),
			zap.String("student_id", key.StudentID),
			zap.Int("round", key.Round),
			zap.String("survivor", result.Survivor.RecordID),
			zap.Int64("deleted", result.DeletedRows),
			zap.Bool("round_raised", result.RoundRaised),
		)
	}
	return result, nil
}

// ────────────────────── RepairAll ──────────────────────

func (s *auditService) RepairAll(ctx context.Context) (*dto.RepairSummary, error) {
	summary := &dto.RepairSummary{}
	for v, err := range s.FindViolations(ctx, nil) {
		if err != nil {
			return summary, err
		}
		summary.Violations++

		result, err := s.Repair(ctx, v.AttendanceKey)
		if err != nil {
			summary.Failed++
			s.logger.Warn("跳过无法修复的重复键",
				zap.String("session_id", v.SessionID),
				zap.String("student_id", v.StudentID),
				zap.Int("round", v.Round),
				zap.Error(err),
			)
			continue
		}
		summary.Repaired++
		summary.DeletedRows += result.DeletedRows
	}

	s.metrics.AddViolations(summary.Violations)
	s.logger.Info("一致性审计完成",
		zap.Int("violations", summary.Violations),
		zap.Int("repaired", summary.Repaired),
		zap.Int64("deleted_rows", summary.DeletedRows),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// ────────────────────── CheckInvariant ──────────────────────

func (s *auditService) CheckInvariant(ctx context.Context) error {
	for v, err := range s.FindViolations(ctx, nil) {
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: session=%s student=%s round=%d rows=%d",
			ErrInvariantViolated, v.SessionID, v.StudentID, v.Round, v.Rows)
	}
	return nil
}

// ────────────────────── ExportViolations ──────────────────────
//
// 输出格式：
//   - Sheet "汇总"：每个重复键一行（会话、学生、轮次、行数）
//   - Sheet "明细"：每条重复行一行，"保留" 列标出修复时将保留的记录

func (s *auditService) ExportViolations(ctx context.Context) (*bytes.Buffer, string, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet, detailSheet = "汇总", "明细"
	idx, _ := f.NewSheet(summarySheet)
	f.NewSheet(detailSheet)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	writeHeader := func(sheet string, titles []string) {
		for i, title := range titles {
			f.SetCellValue(sheet, cell(colName(i), 1), title)
		}
		f.SetCellStyle(sheet, "A1", cell(colName(len(titles)-1), 1), headerStyle)
		f.SetColWidth(sheet, "A", colName(len(titles)-1), 20)
	}
	writeHeader(summarySheet, []string{"会话ID", "学生ID", "轮次", "行数"})
	writeHeader(detailSheet, []string{"会话ID", "学生ID", "轮次", "记录ID", "状态", "扫码次数", "记录时间", "来源", "保留"})

	summaryRow, detailRow := 2, 2
	for v, err := range s.FindViolations(ctx, nil) {
		if err != nil {
			return nil, "", err
		}
		f.SetCellValue(summarySheet, cell("A", summaryRow), v.SessionID)
		f.SetCellValue(summarySheet, cell("B", summaryRow), v.StudentID)
		f.SetCellValue(summarySheet, cell("C", summaryRow), v.Round)
		f.SetCellValue(summarySheet, cell("D", summaryRow), v.Rows)
		summaryRow++

		sctx, cancel := withStorageTimeout(ctx, s.storageTimeout)
		rows, err := s.repo.Attendance.ListByKey(sctx, v.AttendanceKey)
		cancel()
		if err != nil {
			s.logger.Error("查询重复签到明细失败", zap.Error(err))
			return nil, "", storageError(err)
		}
		for i, r := range rows {
			keep := ""
			if i == 0 {
				keep = "是"
			}
			f.SetCellValue(detailSheet, cell("A", detailRow), r.SessionID)
			f.SetCellValue(detailSheet, cell("B", detailRow), r.StudentID)
			f.SetCellValue(detailSheet, cell("C", detailRow), r.RoundNo)
			f.SetCellValue(detailSheet, cell("D", detailRow), r.RecordID)
			f.SetCellValue(detailSheet, cell("E", detailRow), string(r.Status))
			f.SetCellValue(detailSheet, cell("F", detailRow), r.ScanCount)
			f.SetCellValue(detailSheet, cell("G", detailRow), r.RecordedAt.Format(time.RFC3339))
			f.SetCellValue(detailSheet, cell("H", detailRow), string(r.Source))
			f.SetCellValue(detailSheet, cell("I", detailRow), keep)
			detailRow++
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("重复签到_%s.xlsx", time.Now().Format("20060102"))
	return buf, filename, nil
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
