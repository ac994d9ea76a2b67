package model

// 策略标识，写入响应payload与掩码文件名
const (
	StrategyColor       = "color-based"
	StrategyAutomatic   = "sam2-automatic"
	StrategyInteractive = "sam2-interactive"
)

// MaskInfo 单个掩码文件信息
type MaskInfo struct {
	ID          int     `json:"id"`
	Filename    string  `json:"filename"`
	Path        string  `json:"path"`
	DownloadURL string  `json:"download_url"`
	Area        int     `json:"area,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// SegmentResponse 分割成功响应
type SegmentResponse struct {
	Success     bool         `json:"success"`
	Strategy    string       `json:"strategy"`
	Masks       []MaskInfo   `json:"masks"`
	Message     string       `json:"message"`
	Cached      bool         `json:"cached,omitempty"`
	PromptsUsed *PromptsUsed `json:"prompts_used,omitempty"`
}

// PromptsUsed 交互式分割实际使用的提示数量
type PromptsUsed struct {
	Points int `json:"points"`
	Boxes  int `json:"boxes"`
}

// PromptSet 交互式分割的提示集合，labels与points按位置对齐
type PromptSet struct {
	Points [][2]float32 `json:"points,omitempty"`
	Boxes  [][4]float32 `json:"boxes,omitempty"`
	Labels []int        `json:"labels,omitempty"`
}

// Validate 校验提示集合：至少给出points或boxes之一，points与labels数量一致
func (p *PromptSet) Validate() *SegmentError {
	if len(p.Points) == 0 && len(p.Boxes) == 0 {
		return Validation("at least one of points or boxes is required")
	}
	if len(p.Points) != len(p.Labels) {
		return Validation("points and labels length mismatch")
	}
	for _, label := range p.Labels {
		if label != 0 && label != 1 {
			return Validation("labels must be 0 (background) or 1 (foreground)")
		}
	}
	return nil
}

// PreviewResponse 换色预览响应
type PreviewResponse struct {
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	Message     string `json:"message"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
