package tiles

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Matrix4 is a 4x4 column-major affine transform, the layout 3D Tiles uses.
type Matrix4 [16]float64

// Identity is the identity transform.
var Identity = Matrix4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// Mul returns m * n.
func (m Matrix4) Mul(n Matrix4) Matrix4 {
	var out Matrix4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * n[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

// Apply transforms a point.
func (m Matrix4) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		Y: m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		Z: m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
	}
}

// maxScale is the largest axis scale of the linear part.
func (m Matrix4) maxScale() float64 {
	sx := r3.Norm(r3.Vec{X: m[0], Y: m[1], Z: m[2]})
	sy := r3.Norm(r3.Vec{X: m[4], Y: m[5], Z: m[6]})
	sz := r3.Norm(r3.Vec{X: m[8], Y: m[9], Z: m[10]})
	return math.Max(sx, math.Max(sy, sz))
}

// VolumeKind records which 3D Tiles bounding volume a Volume came from.
type VolumeKind uint8

const (
	VolumeBox VolumeKind = iota
	VolumeSphere
	VolumeRegion
)

func (k VolumeKind) String() string {
	switch k {
	case VolumeBox:
		return "box"
	case VolumeSphere:
		return "sphere"
	case VolumeRegion:
		return "region"
	default:
		return fmt.Sprintf("VolumeKind(%d)", uint8(k))
	}
}

// Volume is a bounding volume reduced to its axis-aligned bounds in
// tileset (world) coordinates. Regions are converted to ECEF.
type Volume struct {
	Kind   VolumeKind
	Bounds r3.Box
}

// NewBoxVolume builds a volume from a 3D Tiles box: center followed by the
// three half-axis vectors.
func NewBoxVolume(values []float64, transform Matrix4) (Volume, error) {
	if len(values) != 12 {
		return Volume{}, fmt.Errorf("box needs 12 values, got %d", len(values))
	}
	center := r3.Vec{X: values[0], Y: values[1], Z: values[2]}
	axes := [3]r3.Vec{
		{X: values[3], Y: values[4], Z: values[5]},
		{X: values[6], Y: values[7], Z: values[8]},
		{X: values[9], Y: values[10], Z: values[11]},
	}
	corners := make([]r3.Vec, 0, 8)
	for _, su := range [2]float64{-1, 1} {
		for _, sv := range [2]float64{-1, 1} {
			for _, sw := range [2]float64{-1, 1} {
				p := r3.Add(center, r3.Scale(su, axes[0]))
				p = r3.Add(p, r3.Scale(sv, axes[1]))
				p = r3.Add(p, r3.Scale(sw, axes[2]))
				corners = append(corners, transform.Apply(p))
			}
		}
	}
	return Volume{Kind: VolumeBox, Bounds: boundsOf(corners)}, nil
}

// NewSphereVolume builds a volume from a 3D Tiles sphere: center and radius.
func NewSphereVolume(values []float64, transform Matrix4) (Volume, error) {
	if len(values) != 4 {
		return Volume{}, fmt.Errorf("sphere needs 4 values, got %d", len(values))
	}
	if values[3] < 0 {
		return Volume{}, fmt.Errorf("sphere radius must be non-negative, got %g", values[3])
	}
	center := transform.Apply(r3.Vec{X: values[0], Y: values[1], Z: values[2]})
	r := values[3] * transform.maxScale()
	ext := r3.Vec{X: r, Y: r, Z: r}
	return Volume{Kind: VolumeSphere, Bounds: r3.Box{Min: r3.Sub(center, ext), Max: r3.Add(center, ext)}}, nil
}

// NewRegionVolume builds a volume from a 3D Tiles region: west, south,
// east, north in radians, then minimum and maximum height in meters.
// Regions ignore tile transforms. The ECEF bounds are sampled on a 3x3
// grid at both heights, which covers the ellipsoid bulge for the tile
// sizes tilesets use in practice.
func NewRegionVolume(values []float64) (Volume, error) {
	if len(values) != 6 {
		return Volume{}, fmt.Errorf("region needs 6 values, got %d", len(values))
	}
	west, south, east, north := values[0], values[1], values[2], values[3]
	minH, maxH := values[4], values[5]
	if south > north || minH > maxH {
		return Volume{}, fmt.Errorf("region is inverted: %v", values)
	}
	if east < west {
		// crosses the antimeridian
		east += 2 * math.Pi
	}
	pts := make([]r3.Vec, 0, 18)
	for i := 0; i < 3; i++ {
		lon := west + (east-west)*float64(i)/2
		for j := 0; j < 3; j++ {
			lat := south + (north-south)*float64(j)/2
			pts = append(pts, geodeticToECEF(lon, lat, minH), geodeticToECEF(lon, lat, maxH))
		}
	}
	return Volume{Kind: VolumeRegion, Bounds: boundsOf(pts)}, nil
}

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84E2 = 6.69437999014e-3
)

func geodeticToECEF(lon, lat, h float64) r3.Vec {
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return r3.Vec{
		X: (n + h) * cosLat * cosLon,
		Y: (n + h) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + h) * sinLat,
	}
}

func boundsOf(pts []r3.Vec) r3.Box {
	b := r3.Box{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		b.Min = r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)}
		b.Max = r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)}
	}
	return b
}

// Classify reports how v relates to query: Outside when disjoint, Inside
// when v lies entirely within query, Intersecting otherwise.
func (v Volume) Classify(query r3.Box) Intersect {
	a := v.Bounds
	if a.Max.X < query.Min.X || a.Min.X > query.Max.X ||
		a.Max.Y < query.Min.Y || a.Min.Y > query.Max.Y ||
		a.Max.Z < query.Min.Z || a.Min.Z > query.Max.Z {
		return Outside
	}
	if a.Min.X >= query.Min.X && a.Max.X <= query.Max.X &&
		a.Min.Y >= query.Min.Y && a.Max.Y <= query.Max.Y &&
		a.Min.Z >= query.Min.Z && a.Max.Z <= query.Max.Z {
		return Inside
	}
	return Intersecting
}

// Contains reports whether p lies within the volume bounds.
func (v Volume) Contains(p r3.Vec) bool {
	b := v.Bounds
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Center returns the midpoint of the bounds.
func (v Volume) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(v.Bounds.Min, v.Bounds.Max))
}
