package crawlers

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

const mb = 1024 * 1024

// TestResourceMonitor_MaxSessions 测试会话上限计算
func TestResourceMonitor_MaxSessions(t *testing.T) {
	cpus := runtime.NumCPU()

	tests := []struct {
		name        string
		available   uint64
		reserve     int64
		session     int64
		maxSessions int
		want        int
	}{
		{"内存充足时受配置和CPU限制", 64 * 1024 * mb, 512 * mb, 150 * mb, 2, min(2, cpus)},
		{"内存限制", 812 * mb, 512 * mb, 150 * mb, 64, min(2, cpus)},
		{"可用内存低于预留时至少为1", 256 * mb, 512 * mb, 150 * mb, 8, 1},
		{"配置上限为0时按1处理", 64 * 1024 * mb, 0, 150 * mb, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := NewResourceMonitor(ResourceMonitorConfig{
				SafetyReserveMemory: tt.reserve,
				SessionMemory:       tt.session,
				MaxSessions:         tt.maxSessions,
			})
			rm.setAvailable(tt.available)

			if got := rm.MaxSessions(); got != tt.want {
				t.Errorf("MaxSessions() = %d, 期望 %d", got, tt.want)
			}
		})
	}
}

func TestResourceMonitor_CheckResourceAvailability(t *testing.T) {
	rm := NewResourceMonitor(ResourceMonitorConfig{
		SafetyReserveMemory: 512 * mb,
		SessionMemory:       150 * mb,
		MaxSessions:         4,
	})

	rm.setAvailable(2048 * mb)
	if ok, reason := rm.CheckResourceAvailability(); !ok {
		t.Errorf("内存充足时应允许, reason = %s", reason)
	}

	rm.setAvailable(600 * mb)
	if ok, reason := rm.CheckResourceAvailability(); ok || reason == "" {
		t.Errorf("内存不足时应拒绝并给出原因, ok=%v reason=%q", ok, reason)
	}
}

func TestResourceMonitor_CPUThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		usage     float64
		want      bool
	}{
		{"负载低于阈值", 90, 40, true},
		{"负载超过阈值", 90, 97.5, false},
		{"阈值为0时不检查", 0, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := NewResourceMonitor(ResourceMonitorConfig{
				SafetyReserveMemory: 512 * mb,
				SessionMemory:       150 * mb,
				MaxSessions:         4,
				CPULoadThreshold:    tt.threshold,
			})
			rm.setAvailable(8192 * mb)
			rm.setCPUUsage(tt.usage)

			ok, reason := rm.CheckResourceAvailability()
			if ok != tt.want {
				t.Errorf("CheckResourceAvailability() = %v (%s), 期望 %v", ok, reason, tt.want)
			}
			if !ok && !strings.Contains(reason, "CPU") {
				t.Errorf("reason = %q, 期望说明CPU负载", reason)
			}
		})
	}
}

func TestResourceMonitor_StartStop(t *testing.T) {
	rm := NewResourceMonitor(ResourceMonitorConfig{MaxSessions: 2})
	rm.StartMonitoring(10 * time.Millisecond)
	rm.StartMonitoring(10 * time.Millisecond)
	rm.StopMonitoring()
	rm.StopMonitoring()
}
