package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsquare0601/furniture-design-backend/config"
	"github.com/dsquare0601/furniture-design-backend/utils"
)

func TestSweep(t *testing.T) {
	require.NoError(t, utils.InitLogger("debug"))

	tempDir := t.TempDir()
	now := time.Now()

	oldFile := filepath.Join(tempDir, "old_mask_1.png")
	freshFile := filepath.Join(tempDir, "fresh_mask_1.png")
	require.NoError(t, os.WriteFile(oldFile, []byte("png"), 0644))
	require.NoError(t, os.WriteFile(freshFile, []byte("png"), 0644))

	// 旧文件的修改时间拨回48小时
	stale := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, stale, stale))

	svc := NewCleanupService(&config.CleanupConfig{RetentionHours: 24, Schedule: "@hourly"}, tempDir)

	removed, err := svc.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshFile)
	assert.NoError(t, err)
}

func TestSweepKeepsDirectories(t *testing.T) {
	require.NoError(t, utils.InitLogger("debug"))

	tempDir := t.TempDir()
	subDir := filepath.Join(tempDir, "keep")
	require.NoError(t, os.Mkdir(subDir, 0755))

	stale := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(subDir, stale, stale))

	svc := NewCleanupService(&config.CleanupConfig{RetentionHours: 24, Schedule: "@hourly"}, tempDir)

	removed, err := svc.Sweep(time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = os.Stat(subDir)
	assert.NoError(t, err)
}

func TestSweepMissingDir(t *testing.T) {
	require.NoError(t, utils.InitLogger("debug"))

	svc := NewCleanupService(&config.CleanupConfig{RetentionHours: 24, Schedule: "@hourly"}, "/nonexistent/temp")

	_, err := svc.Sweep(time.Now())
	assert.Error(t, err)
}
