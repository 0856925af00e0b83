// Package monitor reports disk usage of the volumes holding the dossier
// trees and the local store.
package monitor

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mitrarr/mitra-go/internal/errors"
	"github.com/mitrarr/mitra-go/internal/logger"
)

// MountGroup is a set of paths sharing one mount point.
type MountGroup struct {
	MountPoint string   `json:"mount_point"`
	Device     string   `json:"device"`
	Fstype     string   `json:"fstype"`
	Paths      []string `json:"paths"`
}

// Usage is the disk usage of one mount point.
type Usage struct {
	MountGroup
	Total       uint64  `json:"total_bytes"`
	Free        uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskUsage returns usage per mount point for the given paths. Paths that
// do not exist are skipped.
func DiskUsage(paths []string, log logger.Logger) ([]Usage, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, errors.New(err).
			Component("monitor").
			Category(errors.CategoryFileIO).
			Context("operation", "list_partitions").
			Build()
	}

	groups := groupPaths(paths, partitions, log)
	out := make([]Usage, 0, len(groups))
	for _, g := range groups {
		u, err := disk.Usage(g.MountPoint)
		if err != nil {
			log.Warn("disk usage unavailable", logger.String("mount_point", g.MountPoint), logger.Error(err))
			continue
		}
		out = append(out, Usage{
			MountGroup:  g,
			Total:       u.Total,
			Free:        u.Free,
			UsedPercent: u.UsedPercent,
		})
	}
	return out, nil
}

// mountFor returns the longest partition mount point containing path.
func mountFor(path string, partitions []disk.PartitionStat) (disk.PartitionStat, bool) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return disk.PartitionStat{}, false
		}
		resolved = path
	}

	var (
		best    disk.PartitionStat
		bestLen int
	)
	for _, p := range partitions {
		mp := p.Mountpoint
		if resolved != mp && mp != "/" && !strings.HasPrefix(resolved, mp+"/") {
			continue
		}
		if len(mp) > bestLen {
			best, bestLen = p, len(mp)
		}
	}
	return best, bestLen > 0
}

func groupPaths(paths []string, partitions []disk.PartitionStat, log logger.Logger) []MountGroup {
	groups := make(map[string]*MountGroup)
	for _, path := range paths {
		p, ok := mountFor(path, partitions)
		if !ok {
			log.Debug("skipping path without mount point", logger.String("path", path))
			continue
		}
		if g, exists := groups[p.Mountpoint]; exists {
			if !slices.Contains(g.Paths, path) {
				g.Paths = append(g.Paths, path)
			}
			continue
		}
		groups[p.Mountpoint] = &MountGroup{
			MountPoint: p.Mountpoint,
			Device:     p.Device,
			Fstype:     p.Fstype,
			Paths:      []string{path},
		}
	}

	out := make([]MountGroup, 0, len(groups))
	for _, g := range groups {
		slices.Sort(g.Paths)
		out = append(out, *g)
	}
	slices.SortFunc(out, func(a, b MountGroup) int { return strings.Compare(a.MountPoint, b.MountPoint) })
	return out
}
