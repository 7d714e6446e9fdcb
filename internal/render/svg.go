package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/designstudio/internal/model"
)

// writeSVG はテンプレートをベクター形式で書き出す。
// 画像要素は元のURLを参照し、埋め込みは行わない。
func writeSVG(w io.Writer, tmpl *model.Template, vars map[string]string, canvasW, canvasH int, watermark bool) error {
	tw, th := templateWidth(tmpl), templateHeight(tmpl)

	var b bytes.Buffer
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="%d" height="%d" viewBox="0 0 %d %d" preserveAspectRatio="none">`+"\n",
		canvasW, canvasH, tw, th)

	bg := tmpl.Data.Background
	fmt.Fprintf(&b, `<rect x="0" y="0" width="%d" height="%d" fill="%s"/>`+"\n", tw, th, hexColor(parseColor(bg.Color, defaultBackground)))
	if bg.ImageURL != "" {
		fmt.Fprintf(&b, `<image x="0" y="0" width="%d" height="%d" preserveAspectRatio="none" xlink:href="%s"/>`+"\n", tw, th, escapeXML(bg.ImageURL))
	}

	for _, el := range tmpl.Data.Elements {
		switch el.Type {
		case "text":
			writeSVGText(&b, el, ReplaceVariables(el.Content, vars))
		case "shape", "rect":
			writeSVGShape(&b, el)
		case "image":
			if el.Src == "" {
				continue
			}
			fmt.Fprintf(&b, `<image x="%g" y="%g" width="%g" height="%g" preserveAspectRatio="none" xlink:href="%s"%s/>`+"\n",
				el.X, el.Y, el.Width, el.Height, escapeXML(ReplaceVariables(el.Src, vars)), opacityAttr(el.Opacity))
		}
	}

	if watermark {
		fmt.Fprintf(&b, `<text x="%g" y="%g" font-family="sans-serif" font-size="%g" fill="#808080" fill-opacity="0.3" text-anchor="middle" transform="rotate(-30 %g %g)">%s</text>`+"\n",
			float64(tw)/2, float64(th)/2, float64(th)/8, float64(tw)/2, float64(th)/2, watermarkText)
	}

	b.WriteString("</svg>\n")
	if _, err := w.Write(b.Bytes()); err != nil {
		return fmt.Errorf("SVGの書き出しに失敗: %w", err)
	}
	return nil
}

func writeSVGText(b *bytes.Buffer, el model.TemplateElement, text string) {
	size := el.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	col := el.Color
	if col == "" {
		col = el.Fill
	}
	family := el.FontFamily
	if family == "" {
		family = "sans-serif"
	}

	anchor, x := "start", el.X
	switch el.TextAlign {
	case "center":
		anchor = "middle"
		x += el.Width / 2
	case "right":
		anchor = "end"
		x += el.Width
	}

	weight := ""
	if el.FontWeight != "" {
		weight = fmt.Sprintf(` font-weight="%s"`, escapeXML(el.FontWeight))
	}

	fmt.Fprintf(b, `<text x="%g" y="%g" font-family="%s" font-size="%g"%s fill="%s" text-anchor="%s" dominant-baseline="hanging"%s>`,
		x, el.Y, escapeXML(family), size, weight, hexColor(parseColor(col, defaultTextColor)), anchor, opacityAttr(el.Opacity))
	for i, line := range strings.Split(text, "\n") {
		dy := "0"
		if i > 0 {
			dy = fmt.Sprintf("%g", size*1.2)
		}
		fmt.Fprintf(b, `<tspan x="%g" dy="%s">%s</tspan>`, x, dy, escapeXML(line))
	}
	b.WriteString("</text>\n")
}

func writeSVGShape(b *bytes.Buffer, el model.TemplateElement) {
	fill := hexColor(parseColor(el.Fill, defaultShapeFill))
	switch el.Shape {
	case "circle":
		r := min(el.Width, el.Height) / 2
		fmt.Fprintf(b, `<circle cx="%g" cy="%g" r="%g" fill="%s"%s/>`+"\n",
			el.X+el.Width/2, el.Y+el.Height/2, r, fill, opacityAttr(el.Opacity))
	case "ellipse":
		fmt.Fprintf(b, `<ellipse cx="%g" cy="%g" rx="%g" ry="%g" fill="%s"%s/>`+"\n",
			el.X+el.Width/2, el.Y+el.Height/2, el.Width/2, el.Height/2, fill, opacityAttr(el.Opacity))
	default:
		fmt.Fprintf(b, `<rect x="%g" y="%g" width="%g" height="%g" fill="%s"%s/>`+"\n",
			el.X, el.Y, el.Width, el.Height, fill, opacityAttr(el.Opacity))
	}
}

func opacityAttr(opacity float64) string {
	if opacity <= 0 || opacity >= 1 {
		return ""
	}
	return fmt.Sprintf(` opacity="%g"`, opacity)
}

func escapeXML(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
