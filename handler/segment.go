package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/model"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

// ColorStrategy 无监督颜色聚类分割
type ColorStrategy interface {
	Segment(imagePath string) ([]model.MaskInfo, *model.SegmentError)
}

// AutoStrategy SAM2自动分割
type AutoStrategy interface {
	Segment(imagePath string) ([]model.MaskInfo, *model.SegmentError)
}

// InteractiveStrategy SAM2交互式分割
type InteractiveStrategy interface {
	Segment(imagePath string, prompts *model.PromptSet) ([]model.MaskInfo, *model.SegmentError)
}

// MaskCache 分割结果缓存
type MaskCache interface {
	GetMasks(ctx context.Context, key string) ([]model.MaskInfo, error)
	SetMasks(ctx context.Context, key string, masks []model.MaskInfo) error
}

type SegmentHandler struct {
	cfg         *config.Config
	cache       MaskCache
	color       ColorStrategy
	auto        AutoStrategy
	interactive InteractiveStrategy
}

func NewSegmentHandler(cfg *config.Config, cache MaskCache, color ColorStrategy, auto AutoStrategy, interactive InteractiveStrategy) *SegmentHandler {
	return &SegmentHandler{
		cfg:         cfg,
		cache:       cache,
		color:       color,
		auto:        auto,
		interactive: interactive,
	}
}

// SegmentColor POST /segment/color
func (h *SegmentHandler) SegmentColor(c *gin.Context) {
	savePath, md5, segErr := h.saveUpload(c)
	if segErr != nil {
		abortWithSegmentError(c, segErr)
		return
	}

	key := cacheKeyOrEmpty(md5, model.StrategyColor, "")
	if h.replayFromCache(c, key, model.StrategyColor, nil) {
		return
	}

	masks, segErr := h.color.Segment(savePath)
	if segErr != nil {
		abortWithSegmentError(c, segErr)
		return
	}

	h.storeCache(c, key, masks)
	respondMasks(c, model.StrategyColor, masks, false, nil)
}

// SegmentAuto POST /segment/sam2-auto
func (h *SegmentHandler) SegmentAuto(c *gin.Context) {
	savePath, md5, segErr := h.saveUpload(c)
	if segErr != nil {
		abortWithSegmentError(c, segErr)
		return
	}

	key := cacheKeyOrEmpty(md5, model.StrategyAutomatic, "")
	if h.replayFromCache(c, key, model.StrategyAutomatic, nil) {
		return
	}

	masks, segErr := h.auto.Segment(savePath)
	if segErr != nil {
		abortWithSegmentError(c, segErr)
		return
	}

	h.storeCache(c, key, masks)
	respondMasks(c, model.StrategyAutomatic, masks, false, nil)
}

// SegmentInteractive POST /segment/sam2-interactive
// 文件和 prompts JSON 一起放在multipart表单里
func (h *SegmentHandler) SegmentInteractive(c *gin.Context) {
	promptsJSON := c.PostForm("prompts")
	var prompts model.PromptSet
	if promptsJSON != "" {
		if err := json.Unmarshal([]byte(promptsJSON), &prompts); err != nil {
			abortWithSegmentError(c, model.Validation("invalid prompts JSON"))
			return
		}
	}
	if segErr := prompts.Validate(); segErr != nil {
		abortWithSegmentError(c, segErr)
		return
	}

	savePath, md5, segErr := h.saveUpload(c)
	if segErr != nil {
		abortWithSegmentError(c, segErr)
		return
	}

	used := &model.PromptsUsed{
		Points: len(prompts.Points),
		Boxes:  len(prompts.Boxes),
	}

	key := cacheKeyOrEmpty(md5, model.StrategyInteractive, utils.BytesMD5([]byte(promptsJSON)))
	if h.replayFromCache(c, key, model.StrategyInteractive, used) {
		return
	}

	masks, segErr := h.interactive.Segment(savePath, &prompts)
	if segErr != nil {
		abortWithSegmentError(c, segErr)
		return
	}

	h.storeCache(c, key, masks)
	respondMasks(c, model.StrategyInteractive, masks, false, used)
}

// saveUpload 校验并保存上传文件，返回保存路径与内容MD5
func (h *SegmentHandler) saveUpload(c *gin.Context) (string, string, *model.SegmentError) {
	file, err := c.FormFile("file")
	if err != nil {
		return "", "", model.Validation("请上传图片文件")
	}

	if segErr := h.validateUpload(file); segErr != nil {
		return "", "", segErr
	}

	// 与下载端一致，只取文件名部分，防止路径穿越
	filename := filepath.Base(file.Filename)
	savePath := filepath.Join(h.cfg.Upload.TempDir, filename)

	if err := c.SaveUploadedFile(file, savePath); err != nil {
		utils.Logger.Error("failed to save upload", zap.Error(err))
		return "", "", model.Inference("保存文件失败", err)
	}

	md5, err := utils.FileMD5(savePath)
	if err != nil {
		utils.Logger.Error("failed to calculate md5", zap.Error(err))
		return "", "", model.Inference("计算文件哈希失败", err)
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", filename),
		zap.String("md5", md5),
		zap.Int64("size", file.Size))

	return savePath, md5, nil
}

func (h *SegmentHandler) validateUpload(file *multipart.FileHeader) *model.SegmentError {
	if !h.cfg.Upload.IsAllowedExt(file.Filename) {
		return model.Validation("不支持的文件类型，仅支持 PNG/JPG/JPEG")
	}
	if file.Size > h.cfg.Upload.MaxSize {
		return model.Validation(fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)))
	}
	return nil
}

// replayFromCache 缓存命中时直接返回缓存的掩码列表
func (h *SegmentHandler) replayFromCache(c *gin.Context, key, strategy string, used *model.PromptsUsed) bool {
	if h.cache == nil || key == "" {
		return false
	}

	masks, err := h.cache.GetMasks(c.Request.Context(), key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
		return false
	}
	if masks == nil {
		return false
	}

	utils.Logger.Info("cache hit", zap.String("key", key))
	respondMasks(c, strategy, masks, true, used)
	return true
}

func (h *SegmentHandler) storeCache(c *gin.Context, key string, masks []model.MaskInfo) {
	if h.cache == nil || key == "" {
		return
	}
	if err := h.cache.SetMasks(c.Request.Context(), key, masks); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}
}

// cacheKeyOrEmpty 缓存键：文件MD5 + 策略 + 可选的提示哈希
func cacheKeyOrEmpty(md5, strategy, extra string) string {
	if md5 == "" {
		return ""
	}
	key := "seg:" + md5 + ":" + strategy
	if extra != "" {
		key += ":" + extra
	}
	return key
}

func respondMasks(c *gin.Context, strategy string, masks []model.MaskInfo, cached bool, used *model.PromptsUsed) {
	c.JSON(http.StatusOK, model.SegmentResponse{
		Success:     true,
		Strategy:    strategy,
		Masks:       masks,
		Message:     fmt.Sprintf("生成 %d 个部件掩码", len(masks)),
		Cached:      cached,
		PromptsUsed: used,
	})
}

func abortWithSegmentError(c *gin.Context, segErr *model.SegmentError) {
	utils.Logger.Error("segmentation request failed",
		zap.Int("kind", int(segErr.Kind)),
		zap.Error(segErr))

	c.JSON(segErr.HTTPStatus(), model.ErrorResponse{
		Success: false,
		Message: segErr.Msg,
		Error:   segErr.Error(),
	})
}
