// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package host

import (
	"time"

	"github.com/autobrr/ratiosync/internal/models"
)

const ratioTolerance = 0.001

// tick advances counters by the time elapsed since the previous tick and
// reports whether a stop condition ended the session.
func (inst *instance) tick(now time.Time, random func() float64) bool {
	elapsed := now.Sub(inst.lastTick).Seconds()
	inst.lastTick = now

	if inst.state != models.FakerRunning || inst.torrent == nil {
		return false
	}
	if elapsed < 0 {
		elapsed = 0
	}

	inst.stats.ElapsedSeconds = int64(now.Sub(inst.sessionStart).Seconds())

	up, down := inst.currentRates(random)
	inst.stats.CurrentUploadRate = up
	inst.stats.CurrentDownloadRate = down

	upDelta := int64(up * 1024 * elapsed)
	downDelta := min(int64(down*1024*elapsed), inst.stats.Left)

	inst.stats.SessionUploaded += upDelta
	inst.stats.SessionDownloaded += downDelta
	inst.stats.Left -= downDelta
	inst.stats.Uploaded = inst.config.InitialUploaded + inst.stats.SessionUploaded
	inst.stats.Downloaded = inst.config.InitialDownloaded + inst.stats.SessionDownloaded

	if size := inst.torrent.TotalSize; size > 0 {
		inst.stats.TorrentCompletion = float64(size-inst.stats.Left) / float64(size) * 100
	}
	inst.updateRatios()

	if inst.stopConditionMet() {
		inst.stop()
		return true
	}
	return false
}

func (inst *instance) currentRates(random func() float64) (float64, float64) {
	up := inst.config.UploadRate
	down := inst.config.DownloadRate

	if inst.config.ProgressiveRates {
		elapsed := inst.stats.ElapsedSeconds
		if inst.config.TargetUploadRate != nil {
			up = progressiveRate(up, *inst.config.TargetUploadRate, elapsed, inst.config.ProgressiveDuration)
		}
		if inst.config.TargetDownloadRate != nil {
			down = progressiveRate(down, *inst.config.TargetDownloadRate, elapsed, inst.config.ProgressiveDuration)
		}
	}

	if inst.config.RandomizeRates {
		spread := inst.config.RandomRangePercent / 100
		up *= 1 + (random()*spread*2 - spread)
		down *= 1 + (random()*spread*2 - spread)
	}

	if inst.stats.Left == 0 {
		down = 0
	}

	inst.stats.IsIdling = false
	inst.stats.IdlingReason = ""
	return up, down
}

// progressiveRate interpolates linearly from start to target over duration seconds.
func progressiveRate(start, target float64, elapsed, duration int64) float64 {
	if duration <= 0 || elapsed >= duration {
		return target
	}
	progress := float64(elapsed) / float64(duration)
	return start + (target-start)*progress
}

func (inst *instance) updateRatios() {
	if inst.torrent == nil || inst.torrent.TotalSize <= 0 {
		inst.stats.Ratio = 0
		inst.stats.SessionRatio = 0
		return
	}
	size := float64(inst.torrent.TotalSize)
	inst.stats.Ratio = float64(inst.stats.Uploaded) / size
	inst.stats.SessionRatio = float64(inst.stats.SessionUploaded) / size
}

// stopConditionMet checks session-scoped thresholds.
func (inst *instance) stopConditionMet() bool {
	cfg := inst.config
	switch {
	case cfg.StopAtRatio != nil && inst.stats.SessionRatio >= *cfg.StopAtRatio-ratioTolerance:
		return true
	case cfg.StopAtUploaded != nil && inst.stats.SessionUploaded >= *cfg.StopAtUploaded:
		return true
	case cfg.StopAtDownloaded != nil && inst.stats.SessionDownloaded >= *cfg.StopAtDownloaded:
		return true
	case cfg.StopAtSeedTime != nil && inst.stats.ElapsedSeconds >= *cfg.StopAtSeedTime:
		return true
	}
	return false
}
