package service

import (
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/model"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

// InteractiveSegmenter 点/框提示驱动的SAM2分割。
// 与自动策略共享同一个SAM2Service，经同一信号量门排队，
// 不再每次请求重建预测器。
type InteractiveSegmenter struct {
	sam           *SAM2Service
	cfg           *config.SAM2Config
	maskProcessor *MaskProcessor
}

func NewInteractiveSegmenter(sam *SAM2Service, cfg *config.SAM2Config, tempDir string) *InteractiveSegmenter {
	return &InteractiveSegmenter{
		sam:           sam,
		cfg:           cfg,
		maskProcessor: NewMaskProcessor(tempDir),
	}
}

// Segment 按提示集合生成候选掩码，提示合法性由调用方校验
func (s *InteractiveSegmenter) Segment(imagePath string, prompts *model.PromptSet) ([]model.MaskInfo, *model.SegmentError) {
	release, err := s.sam.acquire(s.cfg.QueueTimeout)
	if err != nil {
		return nil, model.Inference("interactive segmentation rejected", err)
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

	points := encodePrompts(prompts)
	lowresMasks, scores, err := s.sam.predict(emb, points)
	if err != nil {
		return nil, model.Inference("prompt prediction failed", err)
	}
	defer func() {
		for i := range lowresMasks {
			lowresMasks[i].Close()
		}
	}()

	if len(lowresMasks) == 0 {
		return nil, model.Empty("no masks generated for prompts")
	}

	masks := make([]model.MaskInfo, 0, len(lowresMasks))
	for i := range lowresMasks {
		full := s.sam.fullSizeMask(lowresMasks[i], emb)
		info, saveErr := s.maskProcessor.Save(&full, imagePath, "interactive", i+1, i+1)
		full.Close()
		if saveErr != nil {
			return nil, model.Inference("failed to save mask", saveErr)
		}
		info.Score = float64(scores[i])
		masks = append(masks, info)
	}

	utils.Logger.Info("interactive segmentation finished",
		zap.String("image", imagePath),
		zap.Int("points", len(prompts.Points)),
		zap.Int("boxes", len(prompts.Boxes)),
		zap.Int("masks", len(masks)),
		zap.Float32s("scores", scores),
		zap.Duration("cost", time.Since(startTime)))

	return masks, nil
}

// encodePrompts 用户提示转为解码器的点序列，
// 框编码为带角点标签的两个伪点
func encodePrompts(prompts *model.PromptSet) []promptPoint {
	points := make([]promptPoint, 0, len(prompts.Points)+2*len(prompts.Boxes))
	for i, p := range prompts.Points {
		label := labelForeground
		if prompts.Labels[i] == 0 {
			label = labelBackground
		}
		points = append(points, promptPoint{X: p[0], Y: p[1], Label: label})
	}
	for _, box := range prompts.Boxes {
		points = append(points,
			promptPoint{X: box[0], Y: box[1], Label: labelBoxTopLeft},
			promptPoint{X: box[2], Y: box[3], Label: labelBoxBotRight},
		)
	}
	return points
}
