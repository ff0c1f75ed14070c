package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Intersects reports whether two geometries share at least one point.
// Points, multipoints, polygons, multipolygons and bounds are tested exactly;
// any other combination falls back to bounding-box intersection.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}

	pa, okA := asPolygons(a)
	pb, okB := asPolygons(b)
	ptsA, isPtsA := asPoints(a)
	ptsB, isPtsB := asPoints(b)

	switch {
	case isPtsA && isPtsB:
		for _, p := range ptsA {
			for _, q := range ptsB {
				if p.Equal(q) {
					return true
				}
			}
		}
		return false
	case isPtsA && okB:
		return anyPointInPolygons(ptsA, pb)
	case okA && isPtsB:
		return anyPointInPolygons(ptsB, pa)
	case okA && okB:
		return polygonsIntersect(pa, pb)
	default:
		return true
	}
}

func asPoints(g orb.Geometry) ([]orb.Point, bool) {
	switch t := g.(type) {
	case orb.Point:
		return []orb.Point{t}, true
	case orb.MultiPoint:
		return t, true
	default:
		return nil, false
	}
}

func asPolygons(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch t := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{t}, true
	case orb.MultiPolygon:
		return t, true
	case orb.Bound:
		return orb.MultiPolygon{t.ToPolygon()}, true
	case orb.Ring:
		return orb.MultiPolygon{orb.Polygon{t}}, true
	default:
		return nil, false
	}
}

func anyPointInPolygons(pts []orb.Point, mp orb.MultiPolygon) bool {
	for _, p := range pts {
		if planar.MultiPolygonContains(mp, p) || onBoundary(p, mp) {
			return true
		}
	}
	return false
}

func polygonsIntersect(a, b orb.MultiPolygon) bool {
	for _, pa := range a {
		for _, pb := range b {
			if len(pa) == 0 || len(pb) == 0 {
				continue
			}
			if !pa.Bound().Intersects(pb.Bound()) {
				continue
			}
			// One contains a vertex of the other, or their outer rings cross.
			if len(pa[0]) > 0 && planar.PolygonContains(pb, pa[0][0]) {
				return true
			}
			if len(pb[0]) > 0 && planar.PolygonContains(pa, pb[0][0]) {
				return true
			}
			if ringsCross(pa[0], pb[0]) {
				return true
			}
		}
	}
	return false
}

func onBoundary(p orb.Point, mp orb.MultiPolygon) bool {
	for _, poly := range mp {
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				if onSegment(ring[i], ring[i+1], p) && cross(ring[i], ring[i+1], p) == 0 {
					return true
				}
			}
		}
	}
	return false
}

func ringsCross(a, b orb.Ring) bool {
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

// cross is the z component of (b-a) x (c-a).
func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}
