package render

import (
	"image/color"
	"strconv"
	"strings"
)

var namedColors = map[string]color.NRGBA{
	"white":       {0xff, 0xff, 0xff, 0xff},
	"black":       {0x00, 0x00, 0x00, 0xff},
	"red":         {0xff, 0x00, 0x00, 0xff},
	"green":       {0x00, 0x80, 0x00, 0xff},
	"blue":        {0x00, 0x00, 0xff, 0xff},
	"gray":        {0x80, 0x80, 0x80, 0xff},
	"transparent": {0x00, 0x00, 0x00, 0x00},
}

// parseColor は #RGB, #RRGGBB, #RRGGBBAA 形式または基本色名を解析する。
// 解析できない場合はfallbackを返す。
func parseColor(s string, fallback color.NRGBA) color.NRGBA {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return fallback
	}
	if c, ok := namedColors[s]; ok {
		return c
	}
	if !strings.HasPrefix(s, "#") {
		return fallback
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return fallback
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return fallback
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// withOpacity は要素の不透明度（0の場合は不透明扱い）をアルファ値に反映する。
func withOpacity(c color.NRGBA, opacity float64) color.NRGBA {
	if opacity <= 0 || opacity >= 1 {
		return c
	}
	c.A = uint8(float64(c.A) * opacity)
	return c
}

// hexColor はSVG出力用に #RRGGBB 形式へ変換する。
func hexColor(c color.NRGBA) string {
	const digits = "0123456789abcdef"
	b := []byte{'#', 0, 0, 0, 0, 0, 0}
	for i, v := range []uint8{c.R, c.G, c.B} {
		b[1+i*2] = digits[v>>4]
		b[2+i*2] = digits[v&0x0f]
	}
	return string(b)
}
