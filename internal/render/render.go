// Package render はテンプレートとデザイン変数からエクスポート成果物を生成する。
//
// キャンバス座標はテンプレートの幅・高さを単位とし、1単位を1/72インチとして扱う。
// ラスタ出力の画素数はキャンバス寸法にdpi/72を掛けた値になる。
package render

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/hitoshi/designstudio/internal/model"
)

// MaxPixelSide はラスタ出力の長辺の上限画素数。
const MaxPixelSide = 8000

// defaultFontSize はフォントサイズ未指定のテキスト要素に適用するサイズ。
const defaultFontSize = 24

// watermarkText は透かしとして描画する文字列。
const watermarkText = "DESIGN STUDIO"

// AssetLoader はテンプレートが参照する画像アセットを取得する。
type AssetLoader interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Request はレンダリング要求。
type Request struct {
	Template  *model.Template
	Variables map[string]string
	Format    model.ExportFormat
	Width     int // キャンバス単位。0の場合はテンプレートの寸法
	Height    int
	DPI       int
	Watermark bool
	Title     string
}

// Result はレンダリング結果。
type Result struct {
	Data        []byte
	ContentType string
	Extension   string
	PixelWidth  int
	PixelHeight int
}

// Renderer はエクスポート成果物を生成する。
type Renderer struct {
	assets AssetLoader
}

// NewRenderer はRendererを生成する。
func NewRenderer(assets AssetLoader) *Renderer {
	return &Renderer{assets: assets}
}

// Render は要求された形式で成果物を生成する。
func (r *Renderer) Render(ctx context.Context, req Request) (*Result, error) {
	if req.Template == nil {
		return nil, fmt.Errorf("テンプレートが指定されていません")
	}

	canvasW, canvasH := canvasSize(req)
	if canvasW <= 0 || canvasH <= 0 {
		return nil, fmt.Errorf("キャンバス寸法が不正です: %dx%d", canvasW, canvasH)
	}
	dpi := req.DPI
	if dpi <= 0 {
		dpi = model.DefaultDPI
	}
	pixelW, pixelH := PixelSize(canvasW, canvasH, dpi)
	vars := resolveVariables(req.Template.Data.Variables, req.Variables)

	var buf bytes.Buffer
	switch req.Format {
	case model.FormatSVG:
		if err := writeSVG(&buf, req.Template, vars, canvasW, canvasH, req.Watermark); err != nil {
			return nil, err
		}
	case model.FormatPNG, model.FormatJPEG, model.FormatWEBP, model.FormatPDF:
		img, err := r.rasterize(ctx, req.Template, vars, pixelW, pixelH, req.Watermark)
		if err != nil {
			return nil, err
		}
		if err := encodeRaster(&buf, img, req.Format, float64(canvasW), float64(canvasH), req.Title); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("未対応の出力形式です: %s", req.Format)
	}

	return &Result{
		Data:        buf.Bytes(),
		ContentType: req.Format.ContentType(),
		Extension:   req.Format.Extension(),
		PixelWidth:  pixelW,
		PixelHeight: pixelH,
	}, nil
}

// canvasSize は出力するキャンバス寸法を決定する。
func canvasSize(req Request) (int, int) {
	w, h := req.Width, req.Height
	if w <= 0 {
		w = templateWidth(req.Template)
	}
	if h <= 0 {
		h = templateHeight(req.Template)
	}
	return w, h
}

func templateWidth(t *model.Template) int {
	if t.Data.Width > 0 {
		return t.Data.Width
	}
	return t.Width
}

func templateHeight(t *model.Template) int {
	if t.Data.Height > 0 {
		return t.Data.Height
	}
	return t.Height
}

// PixelSize はキャンバス寸法とDPIからラスタの画素数を求める。
// 長辺がMaxPixelSideを超える場合は縦横比を保って縮小する。
func PixelSize(canvasW, canvasH, dpi int) (int, int) {
	scale := float64(dpi) / 72
	w := float64(canvasW) * scale
	h := float64(canvasH) * scale

	if longest := math.Max(w, h); longest > MaxPixelSide {
		ratio := MaxPixelSide / longest
		w *= ratio
		h *= ratio
	}
	return max(1, int(math.Round(w))), max(1, int(math.Round(h)))
}

// resolveVariables はユーザー入力に未指定の変数をテンプレートの既定値で補う。
func resolveVariables(defs []model.TemplateVariable, values map[string]string) map[string]string {
	out := make(map[string]string, len(defs)+len(values))
	for _, d := range defs {
		if d.Default != "" {
			out[d.Name] = d.Default
		}
	}
	for k, v := range values {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}|\[([A-Za-z0-9_.-]+)\]`)

// ReplaceVariables はテキスト中の {{name}} と [name] を変数値で置き換える。
// 変数名の大文字小文字は区別しない。値のない変数はそのまま残す。
func ReplaceVariables(text string, vars map[string]string) string {
	if !strings.ContainsAny(text, "{[") {
		return text
	}
	lower := make(map[string]string, len(vars))
	for k, v := range vars {
		lower[strings.ToLower(k)] = v
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		if v, ok := lower[strings.ToLower(name)]; ok {
			return v
		}
		return m
	})
}
