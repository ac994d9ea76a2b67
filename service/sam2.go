package service

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

// SAM2推理常量，与官方ONNX导出保持一致
const (
	sam2InputSize     = 1024
	sam2LowResSize    = 256
	sam2MaskThreshold = 0.0
)

// ImageNet归一化均值/方差（RGB顺序）
var (
	sam2Mean = [3]float32{0.485, 0.456, 0.406}
	sam2Std  = [3]float32{0.229, 0.224, 0.225}
)

// 提示点标签：0/1为负/正点，2/3为框的左上/右下角
const (
	labelBackground  = 0
	labelForeground  = 1
	labelBoxTopLeft  = 2
	labelBoxBotRight = 3
)

type promptPoint struct {
	X, Y  float32
	Label int
}

// SAM2Service 进程级单例：编码器/解码器只加载一次，
// 所有推理经过信号量门串行化，避免共享Net上的竞争
type SAM2Service struct {
	cfg       *config.SAM2Config
	encoder   gocv.Net
	decoder   gocv.Net
	device    string
	mu        sync.Mutex
	semaphore chan struct{}
}

// NewSAM2Service 加载ONNX权重并选择计算设备，优先CUDA，失败回退CPU
func NewSAM2Service(cfg *config.SAM2Config) (*SAM2Service, error) {
	encoder := gocv.ReadNetFromONNX(cfg.EncoderPath())
	if encoder.Empty() {
		return nil, fmt.Errorf("failed to load encoder from %s", cfg.EncoderPath())
	}

	decoder := gocv.ReadNetFromONNX(cfg.DecoderPath())
	if decoder.Empty() {
		encoder.Close()
		return nil, fmt.Errorf("failed to load decoder from %s", cfg.DecoderPath())
	}

	device := "cuda"
	if err := useCUDA(&encoder); err != nil {
		device = "cpu"
	} else if err := useCUDA(&decoder); err != nil {
		// 编码器已切CUDA但解码器失败，两者都回退CPU
		_ = encoder.SetPreferableBackend(gocv.NetBackendDefault)
		_ = encoder.SetPreferableTarget(gocv.NetTargetCPU)
		device = "cpu"
	}

	if cfg.CropNLayers > 0 {
		utils.Logger.Warn("crop_n_layers > 0 is not implemented, running single full-image pass",
			zap.Int("crop_n_layers", cfg.CropNLayers))
	}

	utils.Logger.Info("SAM2 model loaded",
		zap.String("model_size", cfg.ModelSize),
		zap.String("encoder", cfg.EncoderPath()),
		zap.String("device", device))

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &SAM2Service{
		cfg:       cfg,
		encoder:   encoder,
		decoder:   decoder,
		device:    device,
		semaphore: make(chan struct{}, maxConcurrent),
	}, nil
}

func useCUDA(net *gocv.Net) error {
	if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
		return err
	}
	return net.SetPreferableTarget(gocv.NetTargetCUDA)
}

func (s *SAM2Service) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

// Device 实际使用的计算设备
func (s *SAM2Service) Device() string {
	return s.device
}

// acquire 排队进入推理临界区，队列超时返回错误
func (s *SAM2Service) acquire(timeout time.Duration) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("inference queue is full")
	}
}

// imageEmbedding 一次编码的结果，供任意数量的提示解码复用
type imageEmbedding struct {
	embed  gocv.Mat
	feats0 gocv.Mat
	feats1 gocv.Mat
	scale  float32
	origW  int
	origH  int
}

func (e *imageEmbedding) Close() {
	e.embed.Close()
	e.feats0.Close()
	e.feats1.Close()
}

// embed 预处理图片并执行编码器前向
func (s *SAM2Service) embed(img gocv.Mat) (*imageEmbedding, error) {
	origW := img.Cols()
	origH := img.Rows()

	scale := float32(sam2InputSize) / float32(max(origW, origH))
	newW := int(math.Round(float64(float32(origW) * scale)))
	newH := int(math.Round(float64(float32(origH) * scale)))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Point{X: newW, Y: newH}, 0, 0, gocv.InterpolationLinear)

	blob, err := encoderBlob(resized)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.encoder.SetInput(blob, "image")
	outputs := s.encoder.ForwardLayers([]string{"image_embed", "high_res_feats_0", "high_res_feats_1"})
	if len(outputs) != 3 {
		for i := range outputs {
			outputs[i].Close()
		}
		return nil, fmt.Errorf("encoder returned %d outputs, want 3", len(outputs))
	}

	emb := &imageEmbedding{
		embed:  outputs[0].Clone(),
		feats0: outputs[1].Clone(),
		feats1: outputs[2].Clone(),
		scale:  scale,
		origW:  origW,
		origH:  origH,
	}
	for i := range outputs {
		outputs[i].Close()
	}
	return emb, nil
}

// encoderBlob 将BGR图构造成归一化的NCHW float32输入，
// 短边之外的区域补零到1024x1024
func encoderBlob(resized gocv.Mat) (gocv.Mat, error) {
	w := resized.Cols()
	h := resized.Rows()

	data := make([]float32, 3*sam2InputSize*sam2InputSize)
	plane := sam2InputSize * sam2InputSize

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pixel := resized.GetVecbAt(y, x)
			// BGR -> RGB
			rgb := [3]float32{float32(pixel[2]), float32(pixel[1]), float32(pixel[0])}
			for c := 0; c < 3; c++ {
				data[c*plane+y*sam2InputSize+x] = (rgb[c]/255.0 - sam2Mean[c]) / sam2Std[c]
			}
		}
	}

	return matFromFloats(data, 1, 3, sam2InputSize, sam2InputSize)
}

// predict 给定提示点运行解码器，返回低分辨率logits与IoU置信度。
// 返回的Mat由调用方负责Close。
func (s *SAM2Service) predict(emb *imageEmbedding, points []promptPoint) ([]gocv.Mat, []float32, error) {
	if len(points) == 0 {
		return nil, nil, fmt.Errorf("no prompt points")
	}

	coords := make([]float32, 0, len(points)*2)
	labels := make([]float32, 0, len(points))
	for _, p := range points {
		// 提示坐标映射到1024输入空间
		coords = append(coords, p.X*emb.scale, p.Y*emb.scale)
		labels = append(labels, float32(p.Label))
	}

	coordsMat, err := matFromFloats(coords, 1, len(points), 2)
	if err != nil {
		return nil, nil, err
	}
	defer coordsMat.Close()

	labelsMat, err := matFromFloats(labels, 1, len(points))
	if err != nil {
		return nil, nil, err
	}
	defer labelsMat.Close()

	maskInput, err := matFromFloats(make([]float32, sam2LowResSize*sam2LowResSize), 1, 1, sam2LowResSize, sam2LowResSize)
	if err != nil {
		return nil, nil, err
	}
	defer maskInput.Close()

	hasMask, err := matFromFloats([]float32{0}, 1)
	if err != nil {
		return nil, nil, err
	}
	defer hasMask.Close()

	s.mu.Lock()
	s.decoder.SetInput(emb.embed, "image_embed")
	s.decoder.SetInput(emb.feats0, "high_res_feats_0")
	s.decoder.SetInput(emb.feats1, "high_res_feats_1")
	s.decoder.SetInput(coordsMat, "point_coords")
	s.decoder.SetInput(labelsMat, "point_labels")
	s.decoder.SetInput(maskInput, "mask_input")
	s.decoder.SetInput(hasMask, "has_mask_input")
	outputs := s.decoder.ForwardLayers([]string{"masks", "iou_predictions"})
	s.mu.Unlock()

	if len(outputs) != 2 {
		for i := range outputs {
			outputs[i].Close()
		}
		return nil, nil, fmt.Errorf("decoder returned %d outputs, want 2", len(outputs))
	}
	defer outputs[0].Close()
	defer outputs[1].Close()

	maskData, err := outputs[0].DataPtrFloat32()
	if err != nil {
		return nil, nil, fmt.Errorf("read mask output: %w", err)
	}
	scoreData, err := outputs[1].DataPtrFloat32()
	if err != nil {
		return nil, nil, fmt.Errorf("read score output: %w", err)
	}

	numMasks := len(scoreData)
	planeSize := sam2LowResSize * sam2LowResSize
	if numMasks == 0 || len(maskData) < numMasks*planeSize {
		return nil, nil, fmt.Errorf("unexpected decoder output shape")
	}

	masks := make([]gocv.Mat, 0, numMasks)
	scores := make([]float32, numMasks)
	copy(scores, scoreData)

	for m := 0; m < numMasks; m++ {
		lowres, err := matFromFloats(maskData[m*planeSize:(m+1)*planeSize], sam2LowResSize, sam2LowResSize)
		if err != nil {
			for i := range masks {
				masks[i].Close()
			}
			return nil, nil, err
		}
		masks = append(masks, lowres)
	}

	return masks, scores, nil
}

// fullSizeMask 低分辨率logits还原为原图尺寸的0/255二值掩码
func (s *SAM2Service) fullSizeMask(lowres gocv.Mat, emb *imageEmbedding) gocv.Mat {
	upscaled := gocv.NewMat()
	defer upscaled.Close()
	gocv.Resize(lowres, &upscaled, image.Point{X: sam2InputSize, Y: sam2InputSize}, 0, 0, gocv.InterpolationLinear)

	// 去掉右/下的补零区域
	validW := int(math.Round(float64(float32(emb.origW) * emb.scale)))
	validH := int(math.Round(float64(float32(emb.origH) * emb.scale)))
	cropped := upscaled.Region(image.Rect(0, 0, validW, validH))
	defer cropped.Close()

	restored := gocv.NewMat()
	defer restored.Close()
	gocv.Resize(cropped, &restored, image.Point{X: emb.origW, Y: emb.origH}, 0, 0, gocv.InterpolationLinear)

	thresholded := gocv.NewMat()
	defer thresholded.Close()
	gocv.Threshold(restored, &thresholded, sam2MaskThreshold, 255, gocv.ThresholdBinary)

	out := gocv.NewMat()
	thresholded.ConvertTo(&out, gocv.MatTypeCV8U)
	return out
}

// matFromFloats 从float32切片构造任意维度的CV32F Mat
func matFromFloats(data []float32, sizes ...int) (gocv.Mat, error) {
	raw := make([]byte, len(data)*4)
	for i, f := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}
	return gocv.NewMatWithSizesFromBytes(sizes, gocv.MatTypeCV32F, raw)
}
