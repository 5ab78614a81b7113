package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"virtual-attendance/internal/service"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	auditSvc service.AuditService
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  audit [-check] [-repair] [-xlsx FILE] - 检查重复签到记录")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	auditCmd := flag.NewFlagSet("audit", flag.ContinueOnError)
	auditCmd.SetOutput(cli.out)
	check := auditCmd.Bool("check", false, "存在重复键时以非零状态退出")
	repair := auditCmd.Bool("repair", false, "按保留规则修复全部重复键")
	xlsx := auditCmd.String("xlsx", "", "导出重复键报表到指定文件（修复前导出）")

	switch args[1] {
	case "audit":
		if err := auditCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.audit(ctx, *check, *repair, *xlsx)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) audit(ctx context.Context, check, repair bool, xlsx string) error {
	if xlsx != "" {
		buf, _, err := cli.auditSvc.ExportViolations(ctx)
		if err != nil {
			return fmt.Errorf("导出报表失败: %w", err)
		}
		if err := os.WriteFile(xlsx, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("写入报表失败: %w", err)
		}
		fmt.Fprintf(cli.out, "报表已写入 %s\n", xlsx)
	}

	if repair {
		summary, err := cli.auditSvc.RepairAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "重复键 %d 个，已修复 %d 个，删除 %d 行，失败 %d 个\n",
			summary.Violations, summary.Repaired, summary.DeletedRows, summary.Failed)
	} else {
		n := 0
		for v, err := range cli.auditSvc.FindViolations(ctx, nil) {
			if err != nil {
				return err
			}
			n++
			fmt.Fprintf(cli.out, "%s\t%s\t%d\t%d\n", v.SessionID, v.StudentID, v.Round, v.Rows)
		}
		fmt.Fprintf(cli.out, "重复键 %d 个\n", n)
	}

	if check {
		return cli.auditSvc.CheckInvariant(ctx)
	}
	return nil
}
