package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // アセット画像のデコード用
	_ "image/png"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/hitoshi/designstudio/internal/model"
)

var (
	defaultBackground = color.NRGBA{0xff, 0xff, 0xff, 0xff}
	defaultTextColor  = color.NRGBA{0x00, 0x00, 0x00, 0xff}
	defaultShapeFill  = color.NRGBA{0xcc, 0xcc, 0xcc, 0xff}
	watermarkColor    = color.NRGBA{0x80, 0x80, 0x80, 0x50}
)

// canvas はキャンバス座標から画素座標への変換を保持する描画先。
type canvas struct {
	img    *image.RGBA
	scaleX float64
	scaleY float64
}

func (c *canvas) rect(x, y, w, h float64) image.Rectangle {
	x0 := int(math.Round(x * c.scaleX))
	y0 := int(math.Round(y * c.scaleY))
	x1 := int(math.Round((x + w) * c.scaleX))
	y1 := int(math.Round((y + h) * c.scaleY))
	return image.Rect(x0, y0, x1, y1)
}

// rasterize はテンプレートを指定画素数のRGBA画像に描画する。
func (r *Renderer) rasterize(ctx context.Context, tmpl *model.Template, vars map[string]string, pixelW, pixelH int, watermark bool) (*image.RGBA, error) {
	c := &canvas{
		img:    image.NewRGBA(image.Rect(0, 0, pixelW, pixelH)),
		scaleX: float64(pixelW) / float64(templateWidth(tmpl)),
		scaleY: float64(pixelH) / float64(templateHeight(tmpl)),
	}

	bg := tmpl.Data.Background
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(parseColor(bg.Color, defaultBackground)), image.Point{}, draw.Src)
	if bg.ImageURL != "" {
		asset, err := r.loadImage(ctx, bg.ImageURL)
		if err != nil {
			return nil, err
		}
		xdraw.BiLinear.Scale(c.img, c.img.Bounds(), asset, asset.Bounds(), xdraw.Over, nil)
	}

	for _, el := range tmpl.Data.Elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch el.Type {
		case "text":
			drawTextElement(c, el, ReplaceVariables(el.Content, vars))
		case "shape", "rect":
			drawShape(c, el)
		case "image":
			if el.Src == "" {
				continue
			}
			asset, err := r.loadImage(ctx, ReplaceVariables(el.Src, vars))
			if err != nil {
				return nil, err
			}
			xdraw.BiLinear.Scale(c.img, c.rect(el.X, el.Y, el.Width, el.Height), asset, asset.Bounds(), xdraw.Over, nil)
		}
	}

	if watermark {
		drawWatermark(c.img)
	}
	return c.img, nil
}

func (r *Renderer) loadImage(ctx context.Context, rawURL string) (image.Image, error) {
	if r.assets == nil {
		return nil, fmt.Errorf("アセットの取得手段が設定されていません: %s", rawURL)
	}
	data, err := r.assets.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("アセット画像のデコードに失敗: %w", err)
	}
	return img, nil
}

func drawShape(c *canvas, el model.TemplateElement) {
	fill := withOpacity(parseColor(el.Fill, defaultShapeFill), el.Opacity)
	bounds := c.rect(el.X, el.Y, el.Width, el.Height).Intersect(c.img.Bounds())
	if bounds.Empty() {
		return
	}
	src := image.NewUniform(fill)

	if el.Shape != "circle" && el.Shape != "ellipse" {
		draw.Draw(c.img, bounds, src, image.Point{}, draw.Over)
		return
	}

	full := c.rect(el.X, el.Y, el.Width, el.Height)
	cx := float64(full.Min.X+full.Max.X) / 2
	cy := float64(full.Min.Y+full.Max.Y) / 2
	rx := float64(full.Dx()) / 2
	ry := float64(full.Dy()) / 2
	if el.Shape == "circle" {
		rx = math.Min(rx, ry)
		ry = rx
	}
	mask := image.NewAlpha(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			dy := (float64(y) + 0.5 - cy) / ry
			if dx*dx+dy*dy <= 1 {
				mask.SetAlpha(x, y, color.Alpha{A: 0xff})
			}
		}
	}
	draw.DrawMask(c.img, bounds, src, image.Point{}, mask, bounds.Min, draw.Over)
}

func drawTextElement(c *canvas, el model.TemplateElement, text string) {
	size := el.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	col := el.Color
	if col == "" {
		col = el.Fill
	}
	fg := withOpacity(parseColor(col, defaultTextColor), el.Opacity)

	pixelSize := size * c.scaleY
	lineHeight := pixelSize * 1.2
	y := el.Y * c.scaleY
	for _, line := range strings.Split(text, "\n") {
		drawLine(c.img, line, el.X*c.scaleX, y, el.Width*c.scaleX, pixelSize, fg, el.TextAlign)
		y += lineHeight
	}
}

// drawLine は1行のテキストをビットマップフォントで描画し、指定サイズへ拡大して合成する。
// (x, y)は行の左上。boxWidthが0の場合、centerとrightはxを基準点とする。
func drawLine(dst *image.RGBA, text string, x, y, boxWidth, pixelSize float64, fg color.NRGBA, align string) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	advance := d.MeasureString(text).Ceil()
	height := face.Height

	glyphs := image.NewRGBA(image.Rect(0, 0, advance, height))
	d.Dst = glyphs
	d.Src = image.NewUniform(fg)
	d.Dot = fixed.P(0, face.Ascent)
	d.DrawString(text)

	scale := pixelSize / float64(height)
	w := float64(advance) * scale
	h := float64(height) * scale

	switch align {
	case "center":
		if boxWidth > 0 {
			x += (boxWidth - w) / 2
		} else {
			x -= w / 2
		}
	case "right":
		if boxWidth > 0 {
			x += boxWidth - w
		} else {
			x -= w
		}
	}

	target := image.Rect(int(math.Round(x)), int(math.Round(y)), int(math.Round(x+w)), int(math.Round(y+h)))
	xdraw.BiLinear.Scale(dst, target, glyphs, glyphs.Bounds(), xdraw.Over, nil)
}

// drawWatermark は半透明の透かし文字列を画像全体に敷き詰める。
func drawWatermark(img *image.RGBA) {
	b := img.Bounds()
	pixelSize := math.Max(12, float64(b.Dy())/12)
	stepY := pixelSize * 3
	stepX := pixelSize * float64(len(watermarkText)) * 0.8

	row := 0
	for y := pixelSize; y < float64(b.Dy()); y += stepY {
		offset := 0.0
		if row%2 == 1 {
			offset = stepX / 2
		}
		for x := -offset; x < float64(b.Dx()); x += stepX {
			drawLine(img, watermarkText, x, y, 0, pixelSize, watermarkColor, "left")
		}
		row++
	}
}
