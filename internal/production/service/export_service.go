package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/minio/minio-go/v7"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Archiver 导出文件归档
type Archiver interface {
	Archive(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// MinioArchiver 导出文件存到 MinIO
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

func NewMinioArchiver(client *minio.Client, bucket string) *MinioArchiver {
	return &MinioArchiver{client: client, bucket: bucket}
}

func (a *MinioArchiver) Archive(ctx context.Context, name, contentType string, data []byte) (string, error) {
	objectName := fmt.Sprintf("tracking/%s/%s", time.Now().Format("2006/01"), name)
	_, err := a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload to minio: %w", err)
	}
	return objectName, nil
}

const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeCSV  = "text/csv; charset=GBK"
)

var trackingExportHeaders = []string{
	"菲号", "颜色", "尺码", "工序编码", "工序", "数量", "单价", "金额",
	"状态", "操作人", "扫码时间", "已结算", "结算批次",
}

// ExportService 计件台账导出
type ExportService struct {
	tracking *TrackingService
	archiver Archiver
	logger   *zap.Logger
}

func NewExportService(tracking *TrackingService, archiver Archiver, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{tracking: tracking, archiver: archiver, logger: logger}
}

// Export 导出结果，ArchivedAs 为归档对象名
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
	ArchivedAs  string
}

func trackingRecord(row entity.ProcessTracking) []string {
	scanTime := ""
	if row.ScanTime != nil {
		scanTime = row.ScanTime.Format("2006-01-02 15:04:05")
	}
	settled := "否"
	if row.IsSettled {
		settled = "是"
	}
	return []string{
		strconv.Itoa(row.BundleNo),
		row.Color,
		row.Size,
		row.ProcessCode,
		row.ProcessName,
		strconv.Itoa(row.Quantity),
		row.UnitPrice.StringFixed(2),
		row.SettlementAmount.StringFixed(2),
		row.ScanStatus,
		row.OperatorName,
		scanTime,
		settled,
		row.SettlementBatchID,
	}
}

// ExportXLSX 导出订单台账为 xlsx
func (s *ExportService) ExportXLSX(ctx context.Context, orderID string, archive bool) (*Export, error) {
	order, rows, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "计件台账"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range trackingExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	total := decimal.Zero
	for i, row := range rows {
		values := trackingRecord(row)
		for j, v := range values {
			col, _ := excelize.ColumnNumberToName(j + 1)
			cell := fmt.Sprintf("%s%d", col, i+2)
			switch j {
			case 0, 5:
				n, _ := strconv.Atoi(v)
				f.SetCellValue(sheet, cell, n)
			case 6, 7:
				d, _ := decimal.NewFromString(v)
				f.SetCellValue(sheet, cell, d.InexactFloat64())
			default:
				f.SetCellValue(sheet, cell, v)
			}
		}
		total = total.Add(row.SettlementAmount)
	}

	summaryRow := len(rows) + 2
	summaryStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "合计")
	f.SetCellValue(sheet, fmt.Sprintf("H%d", summaryRow), total.InexactFloat64())
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("M%d", summaryRow), summaryStyle)

	colWidths := []float64{8, 10, 8, 14, 12, 8, 10, 12, 10, 12, 20, 8, 34}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	out := &Export{
		Filename:    fmt.Sprintf("计件台账_%s.xlsx", order.OrderNo),
		ContentType: ContentTypeXLSX,
		Data:        buf.Bytes(),
	}
	s.archive(ctx, out, archive)
	return out, nil
}

// ExportCSV 导出 GBK 编码的 CSV，方便 Excel 直接打开
func (s *ExportService) ExportCSV(ctx context.Context, orderID string, archive bool) (*Export, error) {
	order, rows, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gbk := transform.NewWriter(&buf, simplifiedchinese.GBK.NewEncoder())
	w := csv.NewWriter(gbk)
	if err := w.Write(trackingExportHeaders); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(trackingRecord(row)); err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	if err := gbk.Close(); err != nil {
		return nil, fmt.Errorf("encode gbk: %w", err)
	}

	out := &Export{
		Filename:    fmt.Sprintf("计件台账_%s.csv", order.OrderNo),
		ContentType: ContentTypeCSV,
		Data:        buf.Bytes(),
	}
	s.archive(ctx, out, archive)
	return out, nil
}

func (s *ExportService) load(ctx context.Context, orderID string) (*entity.ProductionOrder, []entity.ProcessTracking, error) {
	order, err := s.tracking.progress.loadOrder(ctx, s.tracking.repos, orderID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.tracking.GetRows(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, rows, nil
}

// archive 归档失败只记日志
func (s *ExportService) archive(ctx context.Context, out *Export, enabled bool) {
	if !enabled || s.archiver == nil {
		return
	}
	name, err := s.archiver.Archive(ctx, out.Filename, out.ContentType, out.Data)
	if err != nil {
		s.logger.Warn("archive export failed", zap.String("file", out.Filename), zap.Error(err))
		return
	}
	out.ArchivedAs = name
}
