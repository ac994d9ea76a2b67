package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

func newDownloadRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	require.NoError(t, utils.InitLogger("release"))
	gin.SetMode(gin.TestMode)

	cfg := config.New()
	cfg.Upload.TempDir = t.TempDir()

	r := gin.New()
	r.GET("/download/:filename", NewDownloadHandler(cfg).Download)
	return r, cfg.Upload.TempDir
}

func TestDownloadNotFound(t *testing.T) {
	r, _ := newDownloadRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/download/nonexistent.png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadExisting(t *testing.T) {
	r, tempDir := newDownloadRouter(t)

	content := []byte("png bytes")
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "chair_mask_1.png"), content, 0644))

	req := httptest.NewRequest(http.MethodGet, "/download/chair_mask_1.png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.Bytes())
}

func TestDownloadStripsPath(t *testing.T) {
	r, tempDir := newDownloadRouter(t)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "safe.png"), []byte("x"), 0644))

	// 路径片段只保留文件名部分
	req := httptest.NewRequest(http.MethodGet, "/download/..%2Fsafe.png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
