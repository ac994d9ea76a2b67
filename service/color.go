package service

import (
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dsquare0601/furniture-design-backend/model"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

const (
	colorClusters      = 4
	colorKMeansSeed    = 42
	whiteThreshold     = 240
	colorMorphKernel   = 2
	colorKMeansRetries = 1
)

// ColorSegmenter 基于Lab空间K-Means聚类的无监督分割
type ColorSegmenter struct {
	maskProcessor *MaskProcessor
}

func NewColorSegmenter(tempDir string) *ColorSegmenter {
	return &ColorSegmenter{
		maskProcessor: NewMaskProcessor(tempDir),
	}
}

// Segment 对图片做颜色聚类，近白色簇视为背景不输出掩码
func (s *ColorSegmenter) Segment(imagePath string) ([]model.MaskInfo, *model.SegmentError) {
	startTime := time.Now()

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return nil, model.Decode("failed to read image", nil)
	}
	defer img.Close()

	width := img.Cols()
	height := img.Rows()

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(img, &lab, gocv.ColorBGRToLab)

	// 展平为 (width*height) x 3 的样本矩阵
	flat := lab.Reshape(1, width*height)
	defer flat.Close()

	samples := gocv.NewMat()
	defer samples.Close()
	flat.ConvertTo(&samples, gocv.MatTypeCV32F)

	// 固定随机种子，保证同一图片的聚类结果可复现
	gocv.SetRNGSeed(colorKMeansSeed)

	labels := gocv.NewMat()
	defer labels.Close()
	centers := gocv.NewMat()
	defer centers.Close()

	criteria := gocv.NewTermCriteria(gocv.MaxIter+gocv.EPS, 10, 1.0)
	gocv.KMeans(samples, colorClusters, &labels, criteria, colorKMeansRetries, gocv.KMeansRandomCenters, &centers)

	if centers.Rows() != colorClusters {
		return nil, model.Inference("kmeans clustering failed", nil)
	}

	masks := make([]model.MaskInfo, 0, colorClusters)
	for cluster := 0; cluster < colorClusters; cluster++ {
		r, g, b := centroidRGB(
			centers.GetFloatAt(cluster, 0),
			centers.GetFloatAt(cluster, 1),
			centers.GetFloatAt(cluster, 2),
		)

		// 三通道都接近白色的簇认为是背景
		if r > whiteThreshold && g > whiteThreshold && b > whiteThreshold {
			utils.Logger.Debug("skipping near-white cluster",
				zap.Int("cluster", cluster),
				zap.Uint8("r", r), zap.Uint8("g", g), zap.Uint8("b", b))
			continue
		}

		mask := clusterMask(&labels, cluster, width, height)
		cleaned := s.maskProcessor.MorphologyOptimize(&mask, colorMorphKernel)
		mask.Close()

		// 单色图片上K-Means会产生重复质心的空簇，不输出空掩码
		if gocv.CountNonZero(cleaned) == 0 {
			cleaned.Close()
			continue
		}

		info, err := s.maskProcessor.Save(&cleaned, imagePath, "color", cluster, len(masks)+1)
		cleaned.Close()
		if err != nil {
			return nil, model.Inference("failed to save cluster mask", err)
		}

		masks = append(masks, info)
	}

	utils.Logger.Info("color segmentation finished",
		zap.String("image", imagePath),
		zap.Int("clusters", colorClusters),
		zap.Int("masks", len(masks)),
		zap.Duration("cost", time.Since(startTime)))

	if len(masks) == 0 {
		return nil, model.Empty("no non-background clusters found")
	}

	return masks, nil
}

// centroidRGB 将OpenCV 8位Lab空间的聚类中心还原为RGB
func centroidRGB(l, a, b float32) (uint8, uint8, uint8) {
	// 8位编码：L*255/100, a+128, b+128；go-colorful使用L,a,b/100的尺度
	c := colorful.Lab(
		float64(l)/255.0,
		(float64(a)-128.0)/100.0,
		(float64(b)-128.0)/100.0,
	)
	return c.Clamped().RGB255()
}

// clusterMask 根据聚类标签生成二值掩码
func clusterMask(labels *gocv.Mat, cluster, width, height int) gocv.Mat {
	mask := gocv.Zeros(height, width, gocv.MatTypeCV8U)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if int(labels.GetIntAt(y*width+x, 0)) == cluster {
				mask.SetUCharAt(y, x, 255)
			}
		}
	}
	return mask
}
