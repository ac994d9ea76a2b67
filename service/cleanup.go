package service

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

// CleanupService 按保留时长定期清理临时目录中的上传图与掩码
type CleanupService struct {
	tempDir   string
	retention time.Duration
	schedule  string
	cron      *cron.Cron
}

func NewCleanupService(cfg *config.CleanupConfig, tempDir string) *CleanupService {
	return &CleanupService{
		tempDir:   tempDir,
		retention: time.Duration(cfg.RetentionHours) * time.Hour,
		schedule:  cfg.Schedule,
		cron:      cron.New(),
	}
}

// Start 启动时先清一次，然后按计划周期清理
func (s *CleanupService) Start() error {
	s.sweepAndLog()

	if _, err := s.cron.AddFunc(s.schedule, s.sweepAndLog); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *CleanupService) Stop() {
	s.cron.Stop()
}

func (s *CleanupService) sweepAndLog() {
	removed, err := s.Sweep(time.Now())
	if err != nil {
		utils.Logger.Warn("temp cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		utils.Logger.Info("temp cleanup finished",
			zap.Int("removed", removed),
			zap.Duration("retention", s.retention))
	}
}

// Sweep 删除修改时间早于保留窗口的文件，返回删除数量
func (s *CleanupService) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-s.retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.tempDir, entry.Name())
			if err := os.Remove(path); err != nil {
				utils.Logger.Warn("failed to remove expired file",
					zap.String("file", path), zap.Error(err))
				continue
			}
			removed++
		}
	}
	return removed, nil
}
