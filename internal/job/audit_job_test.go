package job

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"testing"

	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/dto"
	"virtual-attendance/internal/model"
	"virtual-attendance/internal/service"
)

// ── Mock AuditService ──

type mockAuditService struct {
	violations []model.Violation
	scanErr    error
	repairAlls int
}

func (m *mockAuditService) FindViolations(_ context.Context, _ *model.AttendanceKey) iter.Seq2[model.Violation, error] {
	return func(yield func(model.Violation, error) bool) {
		for _, v := range m.violations {
			if !yield(v, nil) {
				return
			}
		}
		if m.scanErr != nil {
			yield(model.Violation{}, m.scanErr)
		}
	}
}

func (m *mockAuditService) Repair(_ context.Context, _ model.AttendanceKey) (*service.RepairResult, error) {
	return &service.RepairResult{DeletedRows: 1}, nil
}

func (m *mockAuditService) RepairAll(_ context.Context) (*dto.RepairSummary, error) {
	m.repairAlls++
	n := len(m.violations)
	return &dto.RepairSummary{Violations: n, Repaired: n, DeletedRows: int64(n)}, nil
}

func (m *mockAuditService) CheckInvariant(_ context.Context) error { return nil }

func (m *mockAuditService) ExportViolations(_ context.Context) (*bytes.Buffer, string, error) {
	return new(bytes.Buffer), "x.xlsx", nil
}

func twoViolations() []model.Violation {
	return []model.Violation{
		{AttendanceKey: model.AttendanceKey{SessionID: "s1", StudentID: "u1", Round: 1}, Rows: 2},
		{AttendanceKey: model.AttendanceKey{SessionID: "s1", StudentID: "u2", Round: 1}, Rows: 3},
	}
}

// ── 测试 ──

func TestAuditJob_RunOnce_CountOnly(t *testing.T) {
	audit := &mockAuditService{violations: twoViolations()}
	j := NewAuditJob(&config.AuditorConfig{Cron: "0 3 * * *"}, audit, zap.NewNop())

	if j.LastRun() != nil {
		t.Fatal("未执行前 LastRun 应为 nil")
	}
	summary, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce 应成功: %v", err)
	}
	if summary.Violations != 2 || summary.Repaired != 0 {
		t.Errorf("仅统计模式结果错误: %+v", summary)
	}
	if audit.repairAlls != 0 {
		t.Error("未开启 auto_repair 时不应修复")
	}
	if j.LastRun() != summary {
		t.Error("LastRun 应记录最近一次结果")
	}
}

func TestAuditJob_RunOnce_AutoRepair(t *testing.T) {
	audit := &mockAuditService{violations: twoViolations()}
	j := NewAuditJob(&config.AuditorConfig{Cron: "0 3 * * *", AutoRepair: true}, audit, zap.NewNop())

	summary, err := j.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce 应成功: %v", err)
	}
	if audit.repairAlls != 1 {
		t.Errorf("RepairAll 调用次数 = %d, want 1", audit.repairAlls)
	}
	if summary.Repaired != 2 {
		t.Errorf("Repaired = %d, want 2", summary.Repaired)
	}
}

func TestAuditJob_RunOnce_ScanError(t *testing.T) {
	scanErr := errors.New("boom")
	audit := &mockAuditService{violations: twoViolations()[:1], scanErr: scanErr}
	j := NewAuditJob(&config.AuditorConfig{Cron: "0 3 * * *"}, audit, zap.NewNop())

	if _, err := j.RunOnce(context.Background()); !errors.Is(err, scanErr) {
		t.Errorf("期望扫描错误, got %v", err)
	}
	if j.LastRun() != nil {
		t.Error("失败的审计不应记录为 LastRun")
	}
}

func TestAuditJob_StartStop(t *testing.T) {
	j := NewAuditJob(&config.AuditorConfig{Cron: "0 3 * * *"}, &mockAuditService{}, zap.NewNop())
	if err := j.Start(); err != nil {
		t.Fatalf("Start 应成功: %v", err)
	}
	<-j.Stop().Done()

	bad := NewAuditJob(&config.AuditorConfig{Cron: "not a cron"}, &mockAuditService{}, zap.NewNop())
	if err := bad.Start(); err == nil {
		t.Error("非法 cron 表达式应返回错误")
	}
}
