package model

import (
	"strings"
	"time"
)

// ExportFormat はエクスポートの出力形式を表す。
type ExportFormat string

const (
	FormatPNG  ExportFormat = "PNG"
	FormatJPEG ExportFormat = "JPEG"
	FormatPDF  ExportFormat = "PDF"
	FormatSVG  ExportFormat = "SVG"
	FormatWEBP ExportFormat = "WEBP"
)

// ParseExportFormat は大文字小文字を区別せずに出力形式を解析する。
// JPGはJPEGの別名として扱う。
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PNG":
		return FormatPNG, true
	case "JPEG", "JPG":
		return FormatJPEG, true
	case "PDF":
		return FormatPDF, true
	case "SVG":
		return FormatSVG, true
	case "WEBP":
		return FormatWEBP, true
	default:
		return "", false
	}
}

// Extension はファイル拡張子（ドットなし）を返す。
func (f ExportFormat) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return strings.ToLower(string(f))
}

// ContentType はMIMEタイプを返す。
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatPDF:
		return "application/pdf"
	case FormatSVG:
		return "image/svg+xml"
	case FormatWEBP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// JobState はエクスポートジョブの保存状態を表す。
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// DefaultDPI はDPI未指定時に適用される解像度。
const DefaultDPI = 300

// ValidDPIs は指定可能な解像度の一覧。
var ValidDPIs = []int{72, 150, 300, 600}

// IsValidDPI は指定可能な解像度かを判定する。
func IsValidDPI(dpi int) bool {
	for _, v := range ValidDPIs {
		if v == dpi {
			return true
		}
	}
	return false
}

// Output はデザインの1回分のエクスポート（レンダリングジョブ）を表す。
// FileURLはワーカーが書き込むまで空文字列、FileSizeは0。
type Output struct {
	ID            string
	DesignID      string
	Format        ExportFormat
	Width         int
	Height        int
	DPI           int
	FileURL       string
	FileSize      int64
	State         JobState
	Attempts      int
	ErrorMessage  string
	NextAttemptAt time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// ExportJob はステータス判定に必要な親デザイン情報を付与したジョブ。
type ExportJob struct {
	Output
	UserID       string
	DesignName   string
	DesignStatus DesignStatus
	Template     TemplateSummary
}
