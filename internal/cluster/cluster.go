// Package cluster groups nearby point records for decluttered display.
//
// The radius is measured in raw longitude/latitude degrees, not metres. One
// degree of longitude shrinks with latitude, so clusters are narrower east-west
// the further the map is from the equator. This is acceptable at the
// city-block zoom levels clustering is used at, and is kept as-is.
package cluster

import (
	"cmp"
	"slices"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/hazard-sync/internal/domain"
	"github.com/couchcryptid/hazard-sync/internal/geo"
)

// DefaultRadius is roughly 50 m of latitude.
const DefaultRadius = 0.00045

// Cluster groups records with a greedy single pass. Records are visited in ID
// order; each unassigned record seeds a cluster containing every other
// unassigned record within radius of the seed. Output order is unspecified.
func Cluster(records []domain.PointRecord, radius float64) []domain.Cluster {
	if len(records) == 0 {
		return []domain.Cluster{}
	}

	ordered := slices.Clone(records)
	slices.SortStableFunc(ordered, func(a, b domain.PointRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})

	assigned := make([]bool, len(ordered))
	clusters := make([]domain.Cluster, 0, len(ordered))
	for i, seed := range ordered {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []domain.PointRecord{seed}
		for j := i + 1; j < len(ordered); j++ {
			if assigned[j] {
				continue
			}
			if geo.EuclideanDegrees(seed.Position, ordered[j].Position) <= radius {
				assigned[j] = true
				members = append(members, ordered[j])
			}
		}
		clusters = append(clusters, newCluster(members))
	}
	return clusters
}

func newCluster(members []domain.PointRecord) domain.Cluster {
	return domain.Cluster{
		Members:          members,
		Centroid:         centroid(members),
		DominantCategory: DominantCategory(members),
	}
}

func centroid(members []domain.PointRecord) orb.Point {
	lons := make([]float64, len(members))
	lats := make([]float64, len(members))
	for i, m := range members {
		lons[i] = m.Position.Lon()
		lats[i] = m.Position.Lat()
	}
	return orb.Point{stat.Mean(lons, nil), stat.Mean(lats, nil)}
}

// DominantCategory returns the highest-ranked category among members; ties go
// to the earliest member.
func DominantCategory(members []domain.PointRecord) domain.Category {
	if len(members) == 0 {
		return ""
	}
	best := members[0].Category
	bestRank := domain.SeverityRank(best)
	for _, m := range members[1:] {
		if r := domain.SeverityRank(m.Category); r > bestRank {
			best, bestRank = m.Category, r
		}
	}
	return best
}
