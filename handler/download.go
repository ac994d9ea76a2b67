package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/model"
)

type DownloadHandler struct {
	cfg *config.Config
}

func NewDownloadHandler(cfg *config.Config) *DownloadHandler {
	return &DownloadHandler{cfg: cfg}
}

// Download GET /download/:filename 返回临时目录中的掩码或预览图
func (h *DownloadHandler) Download(c *gin.Context) {
	// 只允许访问临时目录内的文件
	filename := filepath.Base(c.Param("filename"))
	path := filepath.Join(h.cfg.Upload.TempDir, filename)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "文件不存在",
		})
		return
	}

	c.Header("Content-Type", "image/png")
	c.FileAttachment(path, filename)
}
