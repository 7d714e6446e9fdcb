package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/HugoSmits86/nativewebp"
	"github.com/phpdave11/gofpdf"

	"github.com/hitoshi/designstudio/internal/model"
)

// jpegQuality はJPEG出力の品質。
const jpegQuality = 92

// encodeRaster はラスタ画像を指定形式で書き出す。
// PDFはキャンバス寸法（ポイント）のページに画像を全面配置する。
func encodeRaster(w io.Writer, img image.Image, format model.ExportFormat, pageW, pageH float64, title string) error {
	switch format {
	case model.FormatPNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("PNGのエンコードに失敗: %w", err)
		}
	case model.FormatJPEG:
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return fmt.Errorf("JPEGのエンコードに失敗: %w", err)
		}
	case model.FormatWEBP:
		if err := nativewebp.Encode(w, img, nil); err != nil {
			return fmt.Errorf("WEBPのエンコードに失敗: %w", err)
		}
	case model.FormatPDF:
		return encodePDF(w, img, pageW, pageH, title)
	default:
		return fmt.Errorf("未対応のラスタ形式です: %s", format)
	}
	return nil
}

func encodePDF(w io.Writer, img image.Image, pageW, pageH float64, title string) error {
	var raster bytes.Buffer
	if err := png.Encode(&raster, img); err != nil {
		return fmt.Errorf("PDF埋め込み画像のエンコードに失敗: %w", err)
	}

	// Lを指定すると幅と高さが入れ替わるため、横長のキャンバスでもPのまま寸法を渡す
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: pageW, Ht: pageH},
	})
	pdf.SetCreator("DesignStudio", true)
	if title != "" {
		pdf.SetTitle(title, true)
	}
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("canvas", opts, &raster)
	pdf.ImageOptions("canvas", 0, 0, pageW, pageH, false, opts, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("PDFの生成に失敗: %w", err)
	}
	return nil
}
