package ws

import (
	"context"
	"time"

	"krypton/internal/docker"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
)

const statsInterval = 2 * time.Second

type statsPayload struct {
	State      string       `json:"state"`
	CPUPercent float64      `json:"cpu_percent"`
	Memory     memoryStats  `json:"memory"`
	Network    networkStats `json:"network"`
}

type memoryStats struct {
	Used    uint64  `json:"used"`
	Limit   uint64  `json:"limit"`
	Percent float64 `json:"percent"`
}

type networkStats struct {
	RxBytes uint64  `json:"rx_bytes"`
	TxBytes uint64  `json:"tx_bytes"`
	RxRate  float64 `json:"rx_rate"`
	TxRate  float64 `json:"tx_rate"`
}

// statsSampler periodically inspects and samples one container for
// one session. It owns all rate state; nothing else touches it.
type statsSampler struct {
	session *Session

	prev   *docker.StatsSnapshot
	prevAt time.Time
}

func newStatsSampler(s *Session) *statsSampler {
	return &statsSampler{session: s}
}

func (ss *statsSampler) run() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ss.session.ctx.Done():
			return
		case <-ticker.C:
			ss.sampleOnce(ss.session.ctx)
		}
	}
}

// sampleOnce sends one stats frame. A container that is not running
// yields a state-only frame; rate state resets so a restart does not
// produce a nonsense spike.
func (ss *statsSampler) sampleOnce(ctx context.Context) {
	s := ss.session

	containerID, _ := s.containerID.Load().(string)
	if containerID == "" {
		return
	}

	state, err := s.docker.Inspect(ctx, containerID)
	if err != nil {
		s.log.Debug("stats inspect failed", zap.Error(err))
		return
	}

	if !state.Running {
		ss.prev = nil
		s.sendEvent(eventStats, map[string]string{"state": state.Status})
		return
	}

	snapshot, err := s.docker.StatsOnce(ctx, containerID)
	if err != nil {
		s.log.Debug("stats sample failed", zap.Error(err))
		return
	}
	now := time.Now()

	payload := statsPayload{
		State:      state.Status,
		CPUPercent: ss.cpuPercent(snapshot),
		Memory:     memoryFrom(snapshot),
		Network: networkStats{
			RxBytes: snapshot.RxBytes,
			TxBytes: snapshot.TxBytes,
		},
	}

	if ss.prev != nil {
		elapsed := now.Sub(ss.prevAt).Seconds()
		if elapsed > 0 {
			payload.Network.RxRate = float64(snapshot.RxBytes-ss.prev.RxBytes) / elapsed
			payload.Network.TxRate = float64(snapshot.TxBytes-ss.prev.TxBytes) / elapsed
		}
	}

	ss.prev = snapshot
	ss.prevAt = now

	s.sendEvent(eventStats, payload)
}

func (ss *statsSampler) cpuPercent(cur *docker.StatsSnapshot) float64 {
	if ss.prev == nil {
		return 0
	}

	deltaTotal := float64(cur.CPUTotalUsage) - float64(ss.prev.CPUTotalUsage)
	deltaSystem := float64(cur.SystemCPUUsage) - float64(ss.prev.SystemCPUUsage)
	if deltaTotal <= 0 || deltaSystem <= 0 {
		return 0
	}

	onlineCPUs := float64(cur.OnlineCPUs)
	if onlineCPUs == 0 {
		// Older engines omit online_cpus; fall back to the host count.
		if count, err := cpu.Counts(true); err == nil {
			onlineCPUs = float64(count)
		} else {
			onlineCPUs = 1
		}
	}

	percent := deltaTotal / deltaSystem * onlineCPUs * 100
	if percent > 100 {
		percent = 100
	}
	return percent
}

func memoryFrom(snapshot *docker.StatsSnapshot) memoryStats {
	m := memoryStats{
		Used:  snapshot.MemoryUsage,
		Limit: snapshot.MemoryLimit,
	}
	if m.Limit > 0 {
		m.Percent = float64(m.Used) / float64(m.Limit) * 100
	}
	return m
}
