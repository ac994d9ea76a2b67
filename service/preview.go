package service

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"

	"github.com/dsquare0601/furniture-design-backend/model"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

// PreviewService 家具换色预览：在掩码范围内替换色相/饱和度，保留明度
type PreviewService struct {
	tempDir string
}

func NewPreviewService(tempDir string) *PreviewService {
	return &PreviewService{tempDir: tempDir}
}

// Recolor 对掩码覆盖的像素应用目标颜色，返回预览文件名
func (s *PreviewService) Recolor(sourceFile, maskFile, hexColor string) (string, *model.SegmentError) {
	startTime := time.Now()

	target, err := colorful.Hex(hexColor)
	if err != nil {
		return "", model.Validation("invalid hex color: " + hexColor)
	}
	targetH, targetS, _ := target.Hsl()

	src, err := imaging.Open(filepath.Join(s.tempDir, filepath.Base(sourceFile)))
	if err != nil {
		return "", model.Decode("failed to open source image", err)
	}
	mask, err := imaging.Open(filepath.Join(s.tempDir, filepath.Base(maskFile)))
	if err != nil {
		return "", model.Decode("failed to open mask image", err)
	}

	if src.Bounds().Size() != mask.Bounds().Size() {
		return "", model.Validation("mask dimensions do not match source image")
	}

	out := imaging.Clone(src)
	grayMask := imaging.Grayscale(mask)
	bounds := out.Bounds()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if grayMask.NRGBAAt(x, y).R <= 127 {
				continue
			}
			orig, ok := colorful.MakeColor(out.NRGBAAt(x, y))
			if !ok {
				continue
			}
			_, _, l := orig.Hsl()
			r, g, b := colorful.Hsl(targetH, targetS, l).Clamped().RGB255()

			pixel := out.NRGBAAt(x, y)
			pixel.R, pixel.G, pixel.B = r, g, b
			out.SetNRGBA(x, y, pixel)
		}
	}

	filename := previewFilename(sourceFile, hexColor)
	if err := imaging.Save(out, filepath.Join(s.tempDir, filename)); err != nil {
		return "", model.Inference("failed to save preview", err)
	}

	utils.Logger.Info("preview generated",
		zap.String("source", sourceFile),
		zap.String("mask", maskFile),
		zap.String("color", hexColor),
		zap.Duration("cost", time.Since(startTime)))

	return filename, nil
}

func previewFilename(sourceFile, hexColor string) string {
	base := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	tag := strings.ToLower(strings.TrimPrefix(hexColor, "#"))
	return fmt.Sprintf("%s_preview_%s.png", base, tag)
}
