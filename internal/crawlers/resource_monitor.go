package crawlers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor 系统资源监控器
// 根据可用内存和CPU负载给出浏览器会话数上限
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// availableMemory 系统可用内存(字节), 由采样循环更新
	availableMemory uint64
	cpuUsage        float64
	mu              sync.RWMutex

	cancel context.CancelFunc
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64   // 保留给系统的内存(字节)
	SessionMemory       int64   // 单个浏览器会话平均内存消耗(字节)
	MaxSessions         int     // 绝对上限
	CPULoadThreshold    float64 // CPU使用率超过该值(%)时暂停创建新会话, 0表示不检查
}

// NewResourceMonitor 创建资源监控器并读取一次系统内存
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.SessionMemory <= 0 {
		config.SessionMemory = 150 * 1024 * 1024
	}
	if config.MaxSessions < 1 {
		config.MaxSessions = 1
	}

	rm := &ResourceMonitor{config: config}
	rm.sampleMemory()
	return rm
}

func (rm *ResourceMonitor) sampleMemory() {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败, 按4GB估算")
		rm.setAvailable(4 * 1024 * 1024 * 1024)
		return
	}
	rm.setAvailable(vmStat.Available)
}

// sampleCPU 阈值为0时不采样
func (rm *ResourceMonitor) sampleCPU() {
	if rm.config.CPULoadThreshold <= 0 {
		return
	}
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		log.Debug().Err(err).Msg("获取CPU使用率失败")
		return
	}
	rm.setCPUUsage(percentages[0])
}

func (rm *ResourceMonitor) setCPUUsage(usage float64) {
	rm.mu.Lock()
	rm.cpuUsage = usage
	rm.mu.Unlock()
}

func (rm *ResourceMonitor) setAvailable(available uint64) {
	rm.mu.Lock()
	rm.availableMemory = available
	rm.mu.Unlock()
}

// StartMonitoring 后台周期性采样内存和CPU, 重复调用无效果
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.sampleMemory()
				rm.sampleCPU()
			}
		}
	}()
}

// StopMonitoring 停止采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
}

// MaxSessions 当前允许的最大会话数
// min(可用内存/单会话内存, CPU核数, 配置上限), 至少为1
func (rm *ResourceMonitor) MaxSessions() int {
	rm.mu.RLock()
	available := int64(rm.availableMemory) - rm.config.SafetyReserveMemory
	rm.mu.RUnlock()

	result := 1
	if available > 0 {
		result = int(available / rm.config.SessionMemory)
	}
	if n := runtime.NumCPU(); n < result {
		result = n
	}
	if rm.config.MaxSessions < result {
		result = rm.config.MaxSessions
	}
	if result < 1 {
		result = 1
	}
	return result
}

// CheckResourceAvailability 当前是否适合再创建一个会话
func (rm *ResourceMonitor) CheckResourceAvailability() (bool, string) {
	rm.mu.RLock()
	available := int64(rm.availableMemory) - rm.config.SafetyReserveMemory
	cpuUsage := rm.cpuUsage
	rm.mu.RUnlock()

	if available < rm.config.SessionMemory {
		return false, fmt.Sprintf("内存不足(当前可用%dMB)", available/(1024*1024))
	}
	if rm.config.CPULoadThreshold > 0 && cpuUsage > rm.config.CPULoadThreshold {
		return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", cpuUsage)
	}
	return true, ""
}
