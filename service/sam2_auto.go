package service

import (
	"image"
	"sort"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/model"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

const (
	// stabilityOffset 稳定性评分的logit偏移量δ
	stabilityOffset = 1.0
	// autoNMSThreshold 候选区域去重的IoU阈值
	autoNMSThreshold = 0.7
)

// AutoSegmenter SAM2自动掩码生成：按网格点采样提示，
// 经IoU/稳定性双阈值与NMS去重后输出全部区域掩码
type AutoSegmenter struct {
	sam           *SAM2Service
	cfg           *config.SAM2Config
	maskProcessor *MaskProcessor
}

func NewAutoSegmenter(sam *SAM2Service, cfg *config.SAM2Config, tempDir string) *AutoSegmenter {
	return &AutoSegmenter{
		sam:           sam,
		cfg:           cfg,
		maskProcessor: NewMaskProcessor(tempDir),
	}
}

type maskCandidate struct {
	mask      gocv.Mat
	box       image.Rectangle
	area      int
	iou       float32
	stability float32
}

// Segment 全图自动分割，结果按面积降序
func (s *AutoSegmenter) Segment(imagePath string) ([]model.MaskInfo, *model.SegmentError) {
	release, err := s.sam.acquire(s.cfg.QueueTimeout)
	if err != nil {
		return nil, model.Inference("automatic segmentation rejected", err)
	}
	defer release()

	startTime := time.Now()

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return nil, model.Decode("failed to read image", nil)
	}
	defer img.Close()

	emb, err := s.sam.embed(img)
	if err != nil {
		return nil, model.Inference("image encoding failed", err)
	}
	defer emb.Close()

	grid := gridPoints(s.cfg.PointsPerSide, img.Cols(), img.Rows())

	var candidates []maskCandidate
	defer func() {
		for i := range candidates {
			candidates[i].mask.Close()
		}
	}()

	for _, pt := range grid {
		cand, ok := s.evaluatePoint(emb, pt)
		if ok {
			candidates = append(candidates, cand)
		}
	}

	// 同一物体会被多个网格点命中，按IoU置信度做贪心去重
	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.box
		scores[i] = c.iou
	}
	keep := nmsKeep(boxes, scores, autoNMSThreshold)

	kept := make([]maskCandidate, 0, len(keep))
	for _, idx := range keep {
		kept = append(kept, candidates[idx])
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].area > kept[j].area })

	if len(kept) == 0 {
		return nil, model.Empty("no masks generated")
	}

	masks := make([]model.MaskInfo, 0, len(kept))
	for i := range kept {
		info, saveErr := s.maskProcessor.Save(&kept[i].mask, imagePath, "mask", i+1, i+1)
		if saveErr != nil {
			return nil, model.Inference("failed to save mask", saveErr)
		}
		info.Score = float64(kept[i].iou)
		masks = append(masks, info)

		utils.Logger.Debug("segment kept",
			zap.Int("id", i+1),
			zap.Int("area", kept[i].area),
			zap.Float32("iou", kept[i].iou),
			zap.Float32("stability", kept[i].stability))
	}

	utils.Logger.Info("automatic segmentation finished",
		zap.String("image", imagePath),
		zap.Int("grid_points", len(grid)),
		zap.Int("candidates", len(candidates)),
		zap.Int("masks", len(masks)),
		zap.Duration("cost", time.Since(startTime)))

	return masks, nil
}

// evaluatePoint 单个网格点的预测与过滤
func (s *AutoSegmenter) evaluatePoint(emb *imageEmbedding, pt promptPoint) (maskCandidate, bool) {
	lowresMasks, scores, err := s.sam.predict(emb, []promptPoint{pt})
	if err != nil {
		utils.Logger.Warn("point prediction failed",
			zap.Float32("x", pt.X), zap.Float32("y", pt.Y), zap.Error(err))
		return maskCandidate{}, false
	}

	best := 0
	for i, score := range scores {
		if score > scores[best] {
			best = i
		}
	}
	for i := range lowresMasks {
		if i != best {
			lowresMasks[i].Close()
		}
	}
	lowres := lowresMasks[best]
	defer lowres.Close()

	iou := scores[best]
	if iou < s.cfg.PredIoUThresh {
		return maskCandidate{}, false
	}

	logits, err := lowres.DataPtrFloat32()
	if err != nil {
		return maskCandidate{}, false
	}
	stability := stabilityScore(logits, sam2MaskThreshold, stabilityOffset)
	if stability < s.cfg.StabilityScoreThresh {
		return maskCandidate{}, false
	}

	full := s.sam.fullSizeMask(lowres, emb)
	cleaned := s.maskProcessor.RemoveSmallRegions(&full, s.cfg.MinMaskRegionArea)
	full.Close()

	area := gocv.CountNonZero(cleaned)
	if area == 0 {
		cleaned.Close()
		return maskCandidate{}, false
	}

	return maskCandidate{
		mask:      cleaned,
		box:       s.maskProcessor.BoundingRect(&cleaned),
		area:      area,
		iou:       iou,
		stability: stability,
	}, true
}

// gridPoints points_per_side × points_per_side 的均匀前景点网格
func gridPoints(pointsPerSide, width, height int) []promptPoint {
	if pointsPerSide < 1 {
		pointsPerSide = 1
	}
	points := make([]promptPoint, 0, pointsPerSide*pointsPerSide)
	for row := 0; row < pointsPerSide; row++ {
		for col := 0; col < pointsPerSide; col++ {
			points = append(points, promptPoint{
				X:     (float32(col) + 0.5) / float32(pointsPerSide) * float32(width),
				Y:     (float32(row) + 0.5) / float32(pointsPerSide) * float32(height),
				Label: labelForeground,
			})
		}
	}
	return points
}

// stabilityScore 在阈值上下偏移δ分别二值化，取面积比值。
// 值越接近1，掩码对阈值扰动越不敏感。
func stabilityScore(logits []float32, threshold, offset float32) float32 {
	var high, low int
	for _, v := range logits {
		if v > threshold+offset {
			high++
		}
		if v > threshold-offset {
			low++
		}
	}
	if low == 0 {
		return 0
	}
	return float32(high) / float32(low)
}

// boxIoU 两个矩形的交并比
func boxIoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	interArea := inter.Dx() * inter.Dy()
	if interArea <= 0 {
		return 0
	}
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}

// nmsKeep 按得分降序做贪心非极大值抑制，返回保留的下标
func nmsKeep(boxes []image.Rectangle, scores []float32, iouThreshold float64) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	keep := make([]int, 0, len(boxes))
	suppressed := make([]bool, len(boxes))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order {
			if j == i || suppressed[j] {
				continue
			}
			if boxIoU(boxes[i], boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}
