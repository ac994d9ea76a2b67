package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dsquare0601/furniture-design-backend/model"
)

// Recolorer 换色预览服务
type Recolorer interface {
	Recolor(sourceFile, maskFile, hexColor string) (string, *model.SegmentError)
}

type PreviewHandler struct {
	preview Recolorer
}

func NewPreviewHandler(preview Recolorer) *PreviewHandler {
	return &PreviewHandler{preview: preview}
}

// Preview POST /preview 表单字段：source、mask、color
func (h *PreviewHandler) Preview(c *gin.Context) {
	source := c.PostForm("source")
	mask := c.PostForm("mask")
	color := c.PostForm("color")

	if source == "" || mask == "" || color == "" {
		abortWithSegmentError(c, model.Validation("source、mask、color 均为必填"))
		return
	}

	filename, segErr := h.preview.Recolor(source, mask, color)
	if segErr != nil {
		abortWithSegmentError(c, segErr)
		return
	}

	c.JSON(http.StatusOK, model.PreviewResponse{
		Success:     true,
		Filename:    filename,
		DownloadURL: "/download/" + filename,
		Message:     "预览生成成功",
	})
}
