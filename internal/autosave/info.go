package autosave

import (
	"math"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
)

// StorageInfo summarizes the storage tree.
type StorageInfo struct {
	BaseDir        string  `json:"base_directory"`
	FileCount      int     `json:"total_files"`
	TotalBytes     int64   `json:"total_size_bytes"`
	TotalMB        float64 `json:"total_size_mb"`
	Exists         bool    `json:"directory_exists"`
	DiskFreeBytes  uint64  `json:"disk_free_bytes,omitempty"`
	DiskTotalBytes uint64  `json:"disk_total_bytes,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// StorageInfo totals the files under the base directory. Disk statistics are best
// effort and left zero when unavailable.
func (m *Manager) StorageInfo() StorageInfo {
	info := StorageInfo{BaseDir: m.files.BaseDir()}

	scan, err := m.files.Scan()
	if err != nil {
		m.logger.Warn("storage scan failed", zap.Error(err))
		info.Error = err.Error()
		return info
	}
	info.FileCount = scan.FileCount
	info.TotalBytes = scan.TotalBytes
	info.TotalMB = math.Round(float64(scan.TotalBytes)/(1024*1024)*100) / 100
	info.Exists = scan.Exists

	if usage, err := disk.Usage(info.BaseDir); err == nil {
		info.DiskFreeBytes = usage.Free
		info.DiskTotalBytes = usage.Total
	} else {
		m.logger.Debug("disk usage unavailable", zap.Error(err))
	}

	return info
}
