package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/model"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

type stubStrategy struct {
	masks  []model.MaskInfo
	err    *model.SegmentError
	called bool
}

func (s *stubStrategy) Segment(imagePath string) ([]model.MaskInfo, *model.SegmentError) {
	s.called = true
	return s.masks, s.err
}

type stubInteractive struct {
	masks   []model.MaskInfo
	err     *model.SegmentError
	called  bool
	prompts *model.PromptSet
}

func (s *stubInteractive) Segment(imagePath string, prompts *model.PromptSet) ([]model.MaskInfo, *model.SegmentError) {
	s.called = true
	s.prompts = prompts
	return s.masks, s.err
}

type stubCache struct {
	store map[string][]model.MaskInfo
}

func (s *stubCache) GetMasks(_ context.Context, key string) ([]model.MaskInfo, error) {
	return s.store[key], nil
}

func (s *stubCache) SetMasks(_ context.Context, key string, masks []model.MaskInfo) error {
	s.store[key] = masks
	return nil
}

func testMasks() []model.MaskInfo {
	return []model.MaskInfo{
		{ID: 1, Filename: "chair_mask_1.png", Path: "/tmp/chair_mask_1.png", DownloadURL: "/download/chair_mask_1.png", Area: 500},
		{ID: 2, Filename: "chair_mask_2.png", Path: "/tmp/chair_mask_2.png", DownloadURL: "/download/chair_mask_2.png", Area: 300},
	}
}

func newTestRouter(t *testing.T, color ColorStrategy, auto AutoStrategy, interactive InteractiveStrategy, cache MaskCache) *gin.Engine {
	t.Helper()
	require.NoError(t, utils.InitLogger("release"))
	gin.SetMode(gin.TestMode)

	cfg := config.New()
	cfg.Upload.TempDir = t.TempDir()

	h := NewSegmentHandler(cfg, cache, color, auto, interactive)

	r := gin.New()
	r.POST("/segment/color", h.SegmentColor)
	r.POST("/segment/sam2-auto", h.SegmentAuto)
	r.POST("/segment/sam2-interactive", h.SegmentInteractive)
	return r
}

// multipartUpload 构造带图片文件和额外表单字段的请求体
func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func doUpload(t *testing.T, r *gin.Engine, path, filename string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartUpload(t, filename, []byte("fake image bytes"), fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSegmentColorSuccess(t *testing.T) {
	color := &stubStrategy{masks: testMasks()}
	r := newTestRouter(t, color, &stubStrategy{}, &stubInteractive{}, nil)

	w := doUpload(t, r, "/segment/color", "chair.png", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, color.called)

	var resp model.SegmentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, model.StrategyColor, resp.Strategy)
	require.Len(t, resp.Masks, 2)
	assert.Equal(t, "/download/chair_mask_1.png", resp.Masks[0].DownloadURL)
}

func TestSegmentRejectsBadExtension(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		fields map[string]string
	}{
		{name: "颜色策略拒绝gif", path: "/segment/color"},
		{name: "自动策略拒绝gif", path: "/segment/sam2-auto"},
		{
			name:   "交互策略拒绝gif",
			path:   "/segment/sam2-interactive",
			fields: map[string]string{"prompts": `{"points":[[1,2]],"labels":[1]}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			color := &stubStrategy{masks: testMasks()}
			auto := &stubStrategy{masks: testMasks()}
			interactive := &stubInteractive{masks: testMasks()}
			r := newTestRouter(t, color, auto, interactive, nil)

			w := doUpload(t, r, tt.path, "animation.gif", tt.fields)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, color.called)
			assert.False(t, auto.called)
			assert.False(t, interactive.called)
		})
	}
}

func TestSegmentInteractiveNoPrompts(t *testing.T) {
	interactive := &stubInteractive{masks: testMasks()}
	r := newTestRouter(t, &stubStrategy{}, &stubStrategy{}, interactive, nil)

	w := doUpload(t, r, "/segment/sam2-interactive", "chair.png", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, interactive.called)
}

func TestSegmentInteractiveLabelMismatch(t *testing.T) {
	interactive := &stubInteractive{masks: testMasks()}
	r := newTestRouter(t, &stubStrategy{}, &stubStrategy{}, interactive, nil)

	w := doUpload(t, r, "/segment/sam2-interactive", "chair.png", map[string]string{
		"prompts": `{"points":[[1,2],[3,4]],"labels":[1]}`,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, interactive.called)
}

func TestSegmentInteractiveSuccess(t *testing.T) {
	interactive := &stubInteractive{masks: testMasks()}
	r := newTestRouter(t, &stubStrategy{}, &stubStrategy{}, interactive, nil)

	w := doUpload(t, r, "/segment/sam2-interactive", "chair.png", map[string]string{
		"prompts": `{"points":[[10,20]],"labels":[1],"boxes":[[0,0,50,50]]}`,
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, interactive.called)
	require.NotNil(t, interactive.prompts)
	assert.Len(t, interactive.prompts.Points, 1)
	assert.Len(t, interactive.prompts.Boxes, 1)

	var resp model.SegmentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.StrategyInteractive, resp.Strategy)
	require.NotNil(t, resp.PromptsUsed)
	assert.Equal(t, 1, resp.PromptsUsed.Points)
	assert.Equal(t, 1, resp.PromptsUsed.Boxes)
}

func TestSegmentAutoEmptyResult(t *testing.T) {
	auto := &stubStrategy{err: model.Empty("no masks generated")}
	r := newTestRouter(t, &stubStrategy{}, auto, &stubInteractive{}, nil)

	w := doUpload(t, r, "/segment/sam2-auto", "chair.jpg", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestSegmentColorCacheHit(t *testing.T) {
	color := &stubStrategy{masks: testMasks()}
	md5 := utils.BytesMD5([]byte("fake image bytes"))
	cache := &stubCache{store: map[string][]model.MaskInfo{
		"seg:" + md5 + ":" + model.StrategyColor: testMasks(),
	}}
	r := newTestRouter(t, color, &stubStrategy{}, &stubInteractive{}, cache)

	w := doUpload(t, r, "/segment/color", "chair.png", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, color.called)

	var resp model.SegmentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	require.Len(t, resp.Masks, 2)
}

func TestSegmentCacheStore(t *testing.T) {
	color := &stubStrategy{masks: testMasks()}
	cache := &stubCache{store: map[string][]model.MaskInfo{}}
	r := newTestRouter(t, color, &stubStrategy{}, &stubInteractive{}, cache)

	w := doUpload(t, r, "/segment/color", "chair.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, color.called)
	require.Len(t, cache.store, 1)

	// 第二次相同内容直接命中缓存
	color.called = false
	w = doUpload(t, r, "/segment/color", "chair.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, color.called)
}
