package service

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/dsquare0601/furniture-design-backend/model"
)

// MaskProcessor 负责掩码的形态学清理与落盘
type MaskProcessor struct {
	tempDir string
}

func NewMaskProcessor(tempDir string) *MaskProcessor {
	return &MaskProcessor{tempDir: tempDir}
}

// MaskFilename 掩码文件命名：<源文件名>_<策略标签>_<序号>.png
func MaskFilename(imagePath, tag string, index int) string {
	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	return fmt.Sprintf("%s_%s_%d.png", base, tag, index)
}

// DownloadURL 掩码下载地址
func DownloadURL(filename string) string {
	return "/download/" + filename
}

// MorphologyOptimize 先开运算去噪点，再闭运算补小孔
func (mp *MaskProcessor) MorphologyOptimize(mask *gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	opened.Close()

	return closed
}

// RemoveSmallRegions 移除面积低于minArea的连通区域
func (mp *MaskProcessor) RemoveSmallRegions(mask *gocv.Mat, minArea int) gocv.Mat {
	result := mask.Clone()
	if minArea <= 0 {
		return result
	}

	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	black := color.RGBA{}
	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) < float64(minArea) {
			gocv.DrawContours(&result, contours, i, black, -1)
		}
	}

	return result
}

// BoundingRect 掩码所有连通区域的外接矩形并集
func (mp *MaskProcessor) BoundingRect(mask *gocv.Mat) image.Rectangle {
	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var union image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		if i == 0 {
			union = r
		} else {
			union = union.Union(r)
		}
	}
	return union
}

// Save 掩码写入临时目录并返回文件信息
func (mp *MaskProcessor) Save(mask *gocv.Mat, imagePath, tag string, index, id int) (model.MaskInfo, error) {
	filename := MaskFilename(imagePath, tag, index)
	path := filepath.Join(mp.tempDir, filename)

	if ok := gocv.IMWrite(path, *mask); !ok {
		return model.MaskInfo{}, fmt.Errorf("failed to write mask %s", path)
	}

	return model.MaskInfo{
		ID:          id,
		Filename:    filename,
		Path:        path,
		DownloadURL: DownloadURL(filename),
		Area:        gocv.CountNonZero(*mask),
	}, nil
}
