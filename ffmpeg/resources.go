package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkpip/config"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var ErrInsufficientResources = errors.New("insufficient system resources")

// Gate holds back new talks until the host has enough idle CPU, free memory
// and free disk to take on another encode.
type Gate struct {
	idleCPU  float64
	freeMem  uint64
	freeDisk uint64
	diskPath string
	poll     time.Duration
	maxWait  time.Duration

	cpuPercent func() (float64, error)
	available  func() (uint64, error)
	diskFree   func(path string) (uint64, error)
}

func NewGate(cfg *config.Config) *Gate {
	return &Gate{
		idleCPU:  cfg.ThrottleCPU,
		freeMem:  uint64(cfg.ThrottleFreeMem),
		freeDisk: uint64(cfg.ThrottleFreeDisk),
		diskPath: cfg.OutputDir,
		poll:     cfg.ThrottlePoll,
		maxWait:  cfg.ThrottleMaxWait,

		cpuPercent: func() (float64, error) {
			p, err := cpu.Percent(time.Second, false)
			if err != nil || len(p) == 0 {
				return 0, err
			}
			return p[0], nil
		},
		available: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		diskFree: func(path string) (uint64, error) {
			d, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return d.Free, nil
		},
	}
}

// Check verifies that the system has enough free resources to start a new job.
// Probe failures are logged and treated as "enough".
func (g *Gate) Check(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	// CPU
	if p, err := g.cpuPercent(); err != nil {
		logger.Warn().Err(err).Msg("could not get CPU usage")
	} else if p > (100.0 - g.idleCPU) {
		return fmt.Errorf("%w: not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", ErrInsufficientResources, p, g.idleCPU)
	}

	// Memory
	if avail, err := g.available(); err != nil {
		logger.Warn().Err(err).Msg("could not get memory usage")
	} else if avail < g.freeMem {
		return fmt.Errorf("%w: not enough free memory. Available: %d, Required: %d", ErrInsufficientResources, avail, g.freeMem)
	}

	// Disk
	if free, err := g.diskFree(g.diskPath); err != nil {
		logger.Warn().Err(err).Str("path", g.diskPath).Msg("could not get disk usage")
	} else if free < g.freeDisk {
		return fmt.Errorf("%w: not enough free disk space. Available: %d, Required: %d", ErrInsufficientResources, free, g.freeDisk)
	}
	return nil
}

// Wait polls Check until it passes, ctx ends, or maxWait elapses. A zero
// maxWait means a single check.
func (g *Gate) Wait(ctx context.Context) error {
	deadline := time.Now().Add(g.maxWait)
	for {
		err := g.Check(ctx)
		if err == nil {
			return nil
		}
		if g.maxWait <= 0 || time.Now().After(deadline) {
			return err
		}
		zerolog.Ctx(ctx).Info().Err(err).Dur("retry_in", g.poll).Msg("waiting for system resources")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.poll):
		}
	}
}
